package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/curio/internal/jobs"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/webscout"
)

// Flow names carried in background job payloads.
const (
	FlowDistill       = "distill"
	FlowCurate        = "curate"
	FlowWebScout      = "webScout"
	FlowTopicReport   = "topicReport"
	FlowDistillCurate = "distillCurate"
)

var flowKinds = map[string]storage.RunKind{
	FlowDistill:       storage.RunKindDistill,
	FlowCurate:        storage.RunKindCurate,
	FlowWebScout:      storage.RunKindWebScout,
	FlowTopicReport:   storage.RunKindResearch,
	FlowDistillCurate: storage.RunKindDistill,
}

type jobPayload struct {
	RunID string          `json:"runId"`
	Flow  string          `json:"flow"`
	Input json.RawMessage `json:"input"`
}

// The Start variants create the run, queue the flow body for the job worker
// and return the run id. Progress is observed through the run trace. A
// started run cannot be cancelled.

func (o *Orchestrator) StartDistillFlow(in DistillInput) (string, error) {
	return o.start(FlowDistill, in)
}

func (o *Orchestrator) StartCurateFlow(in CurateInput) (string, error) {
	return o.start(FlowCurate, in)
}

func (o *Orchestrator) StartWebScoutFlow(opts webscout.Options) (string, error) {
	return o.start(FlowWebScout, opts)
}

func (o *Orchestrator) StartTopicReportFlow(in TopicReportInput) (string, error) {
	return o.start(FlowTopicReport, in)
}

func (o *Orchestrator) StartDistillCurateFlow(in DistillCurateInput) (string, error) {
	return o.start(FlowDistillCurate, in)
}

func (o *Orchestrator) start(flow string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encoding %s input: %w", flow, err)
	}
	runID, err := o.store.CreateRun(flowKinds[flow])
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	payload, err := json.Marshal(jobPayload{RunID: runID, Flow: flow, Input: raw})
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	err = o.store.EnqueueJob(storage.Job{
		Type:        jobs.TypeFlowRun,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	})
	if err != nil {
		o.finish(runID, storage.RunStatusError)
		return "", fmt.Errorf("queueing %s flow: %w", flow, err)
	}
	o.logger.Info("flow queued", "flow", flow, "run_id", runID)
	return runID, nil
}

// HandleJob is the jobs.Handler for flow_run jobs. It runs the flow body
// against the run created by start. A panicking body finishes the run as
// error and is returned as an error.
func (o *Orchestrator) HandleJob(ctx context.Context, raw json.RawMessage) (err error) {
	var p jobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parsing flow payload: %w", err)
	}
	if p.RunID == "" {
		return fmt.Errorf("flow payload has no run id")
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("flow panicked", "flow", p.Flow, "run_id", p.RunID, "panic", r)
			o.finish(p.RunID, storage.RunStatusError)
			err = fmt.Errorf("%s flow %s: panic: %v", p.Flow, p.RunID, r)
		}
	}()

	if err := o.dispatch(ctx, p); err != nil {
		return fmt.Errorf("%s flow %s: %w", p.Flow, p.RunID, err)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, p jobPayload) error {
	input := p.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	switch p.Flow {
	case FlowDistill:
		var in DistillInput
		if err := json.Unmarshal(input, &in); err != nil {
			return o.badInput(p.RunID, err)
		}
		_, err := o.runDistill(ctx, p.RunID, in)
		return err
	case FlowCurate:
		var in CurateInput
		if err := json.Unmarshal(input, &in); err != nil {
			return o.badInput(p.RunID, err)
		}
		_, err := o.runCurate(ctx, p.RunID, in)
		return err
	case FlowWebScout:
		var in webscout.Options
		if err := json.Unmarshal(input, &in); err != nil {
			return o.badInput(p.RunID, err)
		}
		_, err := o.runWebScout(ctx, p.RunID, in)
		return err
	case FlowTopicReport:
		var in TopicReportInput
		if err := json.Unmarshal(input, &in); err != nil {
			return o.badInput(p.RunID, err)
		}
		_, err := o.runTopicReport(ctx, p.RunID, in)
		return err
	case FlowDistillCurate:
		var in DistillCurateInput
		if err := json.Unmarshal(input, &in); err != nil {
			return o.badInput(p.RunID, err)
		}
		_, err := o.runDistillCurate(ctx, p.RunID, in)
		return err
	}
	o.finish(p.RunID, storage.RunStatusError)
	return fmt.Errorf("unknown flow %q", p.Flow)
}

// badInput fails a run whose body never started.
func (o *Orchestrator) badInput(runID string, err error) error {
	o.finish(runID, storage.RunStatusError)
	return fmt.Errorf("decoding flow input: %w", err)
}
