package types

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunPending, RunRunning, true},
		{RunPending, RunCancelled, true},
		{RunPending, RunCompleted, false},
		{RunRunning, RunPaused, true},
		{RunRunning, RunCompleted, true},
		{RunRunning, RunPending, false},
		{RunPaused, RunPending, true},
		{RunPaused, RunFailed, true},
		{RunPaused, RunRunning, false},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunPending, false},
		{RunCancelled, RunRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []RunStatus{RunCompleted, RunFailed, RunCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunPending, RunRunning, RunPaused} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
