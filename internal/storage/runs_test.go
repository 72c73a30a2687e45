package storage

import (
	"errors"
	"testing"
)

func TestCreateRunAndTrace(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun(RunKindCurate)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	trace, err := s.GetRunTrace(id)
	if err != nil {
		t.Fatalf("GetRunTrace: %v", err)
	}
	if trace == nil {
		t.Fatal("GetRunTrace returned nil for existing run")
	}
	if trace.Run.Kind != RunKindCurate {
		t.Errorf("Kind = %q, want %q", trace.Run.Kind, RunKindCurate)
	}
	if trace.Run.Status != RunStatusRunning {
		t.Errorf("Status = %q, want %q", trace.Run.Status, RunStatusRunning)
	}
	if trace.Run.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", trace.Run.EndedAt)
	}
	if len(trace.Steps) != 0 {
		t.Errorf("len(Steps) = %d, want 0", len(trace.Steps))
	}
}

func TestGetRunTrace_Missing(t *testing.T) {
	s := openTestStore(t)

	trace, err := s.GetRunTrace("nope")
	if err != nil {
		t.Fatalf("GetRunTrace: %v", err)
	}
	if trace != nil {
		t.Errorf("expected nil trace, got %+v", trace)
	}
}

func TestAppendStep_KeepsCallOrderAndDuplicates(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun(RunKindDistill)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	steps := []RunStep{
		{Type: "flow", Name: "distillFlow", Status: "running", Input: `{"tag":"go"}`},
		{Type: "llm", Name: "extractConcepts", Status: "running"},
		{Type: "llm", Name: "extractConcepts", Status: "ok", Output: `{"concepts":3}`, TokenEstimate: 120},
		{Type: "flow", Name: "distillFlow", Status: "ok"},
	}
	for _, st := range steps {
		if err := s.AppendStep(id, st); err != nil {
			t.Fatalf("AppendStep: %v", err)
		}
	}

	trace, err := s.GetRunTrace(id)
	if err != nil {
		t.Fatalf("GetRunTrace: %v", err)
	}
	if len(trace.Steps) != len(steps) {
		t.Fatalf("len(Steps) = %d, want %d", len(trace.Steps), len(steps))
	}
	for i, st := range trace.Steps {
		if st.Seq != i+1 {
			t.Errorf("step %d Seq = %d, want %d", i, st.Seq, i+1)
		}
		if st.Name != steps[i].Name || st.Status != steps[i].Status {
			t.Errorf("step %d = %s/%s, want %s/%s", i, st.Name, st.Status, steps[i].Name, steps[i].Status)
		}
	}
	if trace.Steps[0].Input != `{"tag":"go"}` {
		t.Errorf("Input = %q", trace.Steps[0].Input)
	}
	if trace.Steps[2].TokenEstimate != 120 {
		t.Errorf("TokenEstimate = %d, want 120", trace.Steps[2].TokenEstimate)
	}
	if trace.Steps[0].Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestAppendStep_UnknownRun(t *testing.T) {
	s := openTestStore(t)

	err := s.AppendStep("missing", RunStep{Type: "flow", Name: "x", Status: "running"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendStep = %v, want ErrNotFound", err)
	}
}

func TestFinishRun(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun(RunKindWebScout)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.FinishRun(id, RunStatusPartial); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusPartial {
		t.Errorf("Status = %q, want %q", run.Status, RunStatusPartial)
	}
	if run.EndedAt == nil {
		t.Error("EndedAt not set")
	}
}

func TestFinishRun_SecondCallRejected(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun(RunKindCurate)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.FinishRun(id, RunStatusOK); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := s.FinishRun(id, RunStatusError); !errors.Is(err, ErrRunFinished) {
		t.Errorf("second FinishRun = %v, want ErrRunFinished", err)
	}

	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusOK {
		t.Errorf("Status = %q after second finish, want %q", run.Status, RunStatusOK)
	}
}

func TestFinishRun_UnknownRun(t *testing.T) {
	s := openTestStore(t)

	if err := s.FinishRun("missing", RunStatusOK); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun = %v, want ErrNotFound", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	first, _ := s.CreateRun(RunKindCurate)
	second, _ := s.CreateRun(RunKindDistill)
	third, _ := s.CreateRun(RunKindResearch)

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != third || runs[1].ID != second {
		t.Errorf("ListRuns order = [%s %s], want [%s %s] (first=%s)", runs[0].ID, runs[1].ID, third, second, first)
	}
}
