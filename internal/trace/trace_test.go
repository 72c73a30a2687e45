package trace

import "testing"

func TestEmitterNilSafe(t *testing.T) {
	var e Emitter
	e.Emit(Step{Name: "x"})
}

func TestCollect(t *testing.T) {
	var steps []Step
	e := Collect(&steps)
	e.Emit(Step{Name: "a", Status: StatusRunning})
	e.Emit(Step{Name: "a", Status: StatusOK})

	if len(steps) != 2 || steps[1].Status != StatusOK {
		t.Errorf("steps = %+v", steps)
	}
}

func TestJSON(t *testing.T) {
	if got := JSON(map[string]int{"n": 1}); got != `{"n":1}` {
		t.Errorf("JSON = %q", got)
	}
	if got := JSON(nil); got != "" {
		t.Errorf("JSON(nil) = %q", got)
	}
	if got := JSON(func() {}); got != "" {
		t.Errorf("JSON(func) = %q", got)
	}
}
