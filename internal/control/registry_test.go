package control

import (
	"errors"
	"testing"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
)

func TestRegistryReserve(t *testing.T) {
	r, err := NewRegistry(10, time.Hour)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer r.Close()

	if err := r.Reserve("42", "run-1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := r.Reserve("42", "run-2"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Reserve error = %v, want ErrRunInProgress", err)
	}
	if err := r.Reserve("7", "run-3"); err != nil {
		t.Errorf("Reserve for another account failed: %v", err)
	}

	// Only the owner releases
	r.Release("42", "run-2")
	if err := r.Reserve("42", "run-4"); !errors.Is(err, ErrRunInProgress) {
		t.Error("slot released by a run that didn't own it")
	}
	r.Release("42", "run-1")
	if err := r.Reserve("42", "run-4"); err != nil {
		t.Errorf("Reserve after release failed: %v", err)
	}
}

func TestRegistryComplete(t *testing.T) {
	r, err := NewRegistry(10, time.Hour)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer r.Close()

	_ = r.Reserve("42", "run-1")
	r.Complete(domain.RunResult{RunID: "run-1", Account: "42", Outcome: domain.OutcomeSuccess, State: "terminated_success"})

	view, ok := r.Get("run-1")
	if !ok {
		t.Fatal("completed run not found")
	}
	if view.Result == nil || view.Result.Outcome != domain.OutcomeSuccess {
		t.Errorf("view.Result = %+v, want success", view.Result)
	}
	if view.Status.State != "terminated_success" {
		t.Errorf("view.Status.State = %s, want terminated_success", view.Status.State)
	}
	if err := r.Reserve("42", "run-2"); err != nil {
		t.Errorf("account slot not freed by Complete: %v", err)
	}
	if r.Cancel("run-1") {
		t.Error("Cancel should return false for a finished run")
	}
}
