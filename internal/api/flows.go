package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/flow"
	"github.com/kalambet/curio/internal/webscout"
)

var (
	errUnknownFlow  = errors.New("unknown flow")
	errInvalidInput = errors.New("invalid flow input")
)

// FlowNames lists the flows accepted by POST /flows/{name} and the
// start_flow tool.
var FlowNames = []string{flow.FlowDistill, flow.FlowCurate, flow.FlowWebScout, flow.FlowTopicReport, flow.FlowDistillCurate}

type flowResponse struct {
	RunID  string `json:"runId"`
	Result any    `json:"result,omitempty"`
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	return nil
}

// runFlow executes the named flow synchronously. The run id is returned
// even when the flow fails, as long as the run was created.
func runFlow(ctx context.Context, f FlowRunner, name string, raw json.RawMessage) (string, any, error) {
	switch name {
	case flow.FlowDistill:
		var in flow.DistillInput
		if err := decodeInput(raw, &in); err != nil {
			return "", nil, err
		}
		return wrap(f.DistillFlow(ctx, in))
	case flow.FlowCurate:
		var in flow.CurateInput
		if err := decodeInput(raw, &in); err != nil {
			return "", nil, err
		}
		if in.DocumentID == "" {
			return "", nil, fmt.Errorf("%w: documentId is required", errInvalidInput)
		}
		return wrap(f.CurateFlow(ctx, in))
	case flow.FlowWebScout:
		var in webscout.Options
		if err := decodeInput(raw, &in); err != nil {
			return "", nil, err
		}
		return wrap(f.WebScoutFlow(ctx, in))
	case flow.FlowTopicReport:
		var in flow.TopicReportInput
		if err := decodeInput(raw, &in); err != nil {
			return "", nil, err
		}
		return wrap(f.TopicReportFlow(ctx, in))
	case flow.FlowDistillCurate:
		var in flow.DistillCurateInput
		if err := decodeInput(raw, &in); err != nil {
			return "", nil, err
		}
		return wrap(f.DistillCurateFlow(ctx, in))
	}
	return "", nil, fmt.Errorf("%w %q", errUnknownFlow, name)
}

func wrap[T any](runID string, out T, err error) (string, any, error) {
	if err != nil {
		return runID, nil, err
	}
	return runID, out, nil
}

// startFlow queues the named flow on the job worker and returns its run id.
func startFlow(f FlowRunner, name string, raw json.RawMessage) (string, error) {
	switch name {
	case flow.FlowDistill:
		var in flow.DistillInput
		if err := decodeInput(raw, &in); err != nil {
			return "", err
		}
		return f.StartDistillFlow(in)
	case flow.FlowCurate:
		var in flow.CurateInput
		if err := decodeInput(raw, &in); err != nil {
			return "", err
		}
		if in.DocumentID == "" {
			return "", fmt.Errorf("%w: documentId is required", errInvalidInput)
		}
		return f.StartCurateFlow(in)
	case flow.FlowWebScout:
		var in webscout.Options
		if err := decodeInput(raw, &in); err != nil {
			return "", err
		}
		return f.StartWebScoutFlow(in)
	case flow.FlowTopicReport:
		var in flow.TopicReportInput
		if err := decodeInput(raw, &in); err != nil {
			return "", err
		}
		return f.StartTopicReportFlow(in)
	case flow.FlowDistillCurate:
		var in flow.DistillCurateInput
		if err := decodeInput(raw, &in); err != nil {
			return "", err
		}
		return f.StartDistillCurateFlow(in)
	}
	return "", fmt.Errorf("%w %q", errUnknownFlow, name)
}

// handleFlow runs a flow. With ?async=true it returns 202 and the run id
// immediately; otherwise it blocks and returns the flow result.
func handleFlow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		if r.URL.Query().Get("async") == "true" {
			runID, err := startFlow(deps.Flows, name, raw)
			if err != nil {
				writeFlowError(w, "", err)
				return
			}
			writeJSON(w, http.StatusAccepted, flowResponse{RunID: runID})
			return
		}

		// The run outlives the request.
		runID, out, err := runFlow(context.WithoutCancel(r.Context()), deps.Flows, name, raw)
		if err != nil {
			writeFlowError(w, runID, err)
			return
		}
		writeJSON(w, http.StatusOK, flowResponse{RunID: runID, Result: out})
	}
}

func writeFlowError(w http.ResponseWriter, runID string, err error) {
	code, errType := http.StatusInternalServerError, "api_error"
	switch {
	case errors.Is(err, errUnknownFlow), errors.Is(err, curator.ErrDocumentNotFound):
		code, errType = http.StatusNotFound, "not_found"
	case errors.Is(err, errInvalidInput), errors.Is(err, flow.ErrNoTopics),
		errors.Is(err, flow.ErrNoDocuments), errors.Is(err, webscout.ErrNoGoal):
		code, errType = http.StatusUnprocessableEntity, "invalid_request_error"
	}

	body := map[string]any{
		"error": map[string]any{"message": err.Error(), "type": errType},
	}
	if runID != "" {
		body["runId"] = runID
	}
	writeJSON(w, code, body)
}
