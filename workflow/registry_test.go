package workflow_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/signoff/workflow"
)

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := workflow.NewRegistry()

	var got orderInput
	workflow.RegisterDefinition(r, workflow.NewWorkflow("process-order", func(_ *workflow.Workflow, input orderInput) error {
		got = input
		return nil
	}))

	runner, ok := r.Get("process-order")
	if !ok {
		t.Fatal("expected runner to be registered")
	}

	// The handler never touches wf, so nil is fine here.
	payload, _ := json.Marshal(orderInput{OrderID: "ord_123", Amount: 100})
	if err := runner(nil, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "ord_123" {
		t.Errorf("OrderID = %q, want %q", got.OrderID, "ord_123")
	}
	if got.Amount != 100 {
		t.Errorf("Amount = %d, want %d", got.Amount, 100)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := workflow.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no runner for unregistered workflow")
	}
	if v := r.LatestVersion("nonexistent"); v != 0 {
		t.Errorf("LatestVersion = %d, want 0", v)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := workflow.NewRegistry()

	for _, name := range []string{"wf-c", "wf-a", "wf-b"} {
		workflow.RegisterDefinition(r, workflow.NewWorkflow(name, func(_ *workflow.Workflow, _ struct{}) error { return nil }))
	}

	names := r.Names()
	expected := []string{"wf-a", "wf-b", "wf-c"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d names, got %d", len(expected), len(names))
	}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := workflow.NewRegistry()
	workflow.RegisterDefinition(r, workflow.NewWorkflow("typed-wf", func(_ *workflow.Workflow, _ orderInput) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	runner, _ := r.Get("typed-wf")
	if err := runner(nil, []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := workflow.NewRegistry()
	called := false
	workflow.RegisterDefinition(r, workflow.NewWorkflow("no-input", func(_ *workflow.Workflow, _ struct{}) error {
		called = true
		return nil
	}))

	runner, _ := r.Get("no-input")
	if err := runner(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	r := workflow.NewRegistry()

	workflow.RegisterDefinition(r, workflow.NewWorkflow("overwrite", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("old")
	}))
	workflow.RegisterDefinition(r, workflow.NewWorkflow("overwrite", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("new")
	}))

	runner, _ := r.Get("overwrite")
	if err := runner(nil, nil); err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}

func TestRegistry_Versions(t *testing.T) {
	r := workflow.NewRegistry()

	for _, v := range []int{2, 1, 3} {
		def := workflow.NewWorkflow("versioned", func(_ *workflow.Workflow, _ struct{}) error {
			return versionErr(v)
		})
		def.Version = v
		workflow.RegisterDefinition(r, def)
	}

	if got := r.LatestVersion("versioned"); got != 3 {
		t.Fatalf("LatestVersion = %d, want 3", got)
	}

	latest, _ := r.Get("versioned")
	if err := latest(nil, nil); err != versionErr(3) {
		t.Errorf("Get returned handler %v, want v3", err)
	}

	v1, ok := r.GetVersion("versioned", 1)
	if !ok {
		t.Fatal("expected version 1")
	}
	if err := v1(nil, nil); err != versionErr(1) {
		t.Errorf("GetVersion(1) returned handler %v, want v1", err)
	}

	if _, ok := r.GetVersion("versioned", 9); ok {
		t.Error("expected no version 9")
	}
}

type versionErr int

func (v versionErr) Error() string { return "version" }
