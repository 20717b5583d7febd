package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/signoff/id"
)

var constructors = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"GroupID", id.NewGroupID, id.ParseGroupID, "wfgrp_"},
	{"VersionID", id.NewVersionID, id.ParseVersionID, "wfver_"},
	{"TaskID", id.NewTaskID, id.ParseTaskID, "htask_"},
	{"EntryID", id.NewEntryID, id.ParseEntryID, "evlog_"},
	{"CompensationID", id.NewCompensationID, id.ParseCompensationID, "comp_"},
	{"WaitID", id.NewWaitID, id.ParseWaitID, "wait_"},
	{"RunID", id.NewRunID, id.ParseRunID, "wfrun_"},
	{"CheckpointID", id.NewCheckpointID, id.ParseCheckpointID, "ckpt_"},
	{"PurchaseID", id.NewPurchaseID, id.ParsePurchaseID, "pur_"},
}

func TestConstructors(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	for i, tt := range constructors {
		other := constructors[(i+1)%len(constructors)]
		t.Run(tt.name, func(t *testing.T) {
			input := other.newFn().String()
			if _, err := tt.parseFn(input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", input)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	i := id.NewTaskID()
	parsed, err := id.ParseWithPrefix(i.String(), id.PrefixTask)
	if err != nil {
		t.Fatalf("ParseWithPrefix failed: %v", err)
	}
	if parsed.String() != i.String() {
		t.Errorf("mismatch: %q != %q", parsed.String(), i.String())
	}

	if _, err = id.ParseWithPrefix(i.String(), id.PrefixVersion); err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestJSONOptionalLink(t *testing.T) {
	type link struct {
		Previous id.VersionID `json:"previous_version_id"`
	}

	data, err := json.Marshal(link{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"previous_version_id":""}` {
		t.Errorf("marshal nil = %s", data)
	}

	var back link
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Previous.IsNil() {
		t.Errorf("expected nil previous, got %q", back.Previous)
	}

	want := id.NewVersionID()
	data, _ = json.Marshal(link{Previous: want})
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Previous.String() != want.String() {
		t.Errorf("previous = %q, want %q", back.Previous, want)
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewVersionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewGroupID()
	b := id.NewGroupID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewGroupID() calls returned the same ID: %q", a.String())
	}
}
