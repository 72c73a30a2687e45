// Package trace defines the step events agents and pipelines emit while they
// run. The flow layer persists them into a run's trace.
package trace

import "encoding/json"

type StepType string

const (
	TypeFlow  StepType = "flow"
	TypeAgent StepType = "agent"
	TypeTool  StepType = "tool"
	TypeLLM   StepType = "llm"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Step is one trace event. Input and Output are JSON text.
type Step struct {
	Type          StepType
	Name          string
	Status        Status
	Input         string
	Output        string
	Error         string
	TokenEstimate int
}

// Emitter receives steps in the order they happen. A nil Emitter discards them.
type Emitter func(Step)

func (e Emitter) Emit(s Step) {
	if e != nil {
		e(s)
	}
}

// Collect returns an Emitter that appends to *steps.
func Collect(steps *[]Step) Emitter {
	return func(s Step) { *steps = append(*steps, s) }
}

// JSON marshals v for a step payload. Nil values and marshal failures yield "".
func JSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
