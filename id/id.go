// Package id defines TypeID-based identity types for all signoff entities.
//
// Every entity uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all signoff entity types.
const (
	PrefixGroup        Prefix = "wfgrp"
	PrefixVersion      Prefix = "wfver"
	PrefixTask         Prefix = "htask"
	PrefixEntry        Prefix = "evlog"
	PrefixCompensation Prefix = "comp"
	PrefixWait         Prefix = "wait"
	PrefixRun          Prefix = "wfrun"
	PrefixCheckpoint   Prefix = "ckpt"
	PrefixPurchase     Prefix = "pur"
)

// ID is the primary identifier type for all signoff entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "htask_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// GroupID identifies workflow groups (prefix: "wfgrp").
type GroupID = ID

// VersionID identifies workflow versions (prefix: "wfver").
type VersionID = ID

// TaskID identifies human tasks (prefix: "htask").
type TaskID = ID

// EntryID identifies audit log entries (prefix: "evlog").
type EntryID = ID

// CompensationID identifies compensation records (prefix: "comp").
type CompensationID = ID

// WaitID identifies wait records (prefix: "wait").
type WaitID = ID

// RunID identifies workflow runs (prefix: "wfrun").
type RunID = ID

// CheckpointID identifies workflow checkpoints (prefix: "ckpt").
type CheckpointID = ID

// PurchaseID identifies validated purchases (prefix: "pur").
type PurchaseID = ID

// AnyID is a type alias that accepts any valid prefix.
type AnyID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewGroupID generates a new group ID.
func NewGroupID() ID { return New(PrefixGroup) }

// NewVersionID generates a new version ID.
func NewVersionID() ID { return New(PrefixVersion) }

// NewTaskID generates a new task ID.
func NewTaskID() ID { return New(PrefixTask) }

// NewEntryID generates a new entry ID.
func NewEntryID() ID { return New(PrefixEntry) }

// NewCompensationID generates a new compensation ID.
func NewCompensationID() ID { return New(PrefixCompensation) }

// NewWaitID generates a new wait ID.
func NewWaitID() ID { return New(PrefixWait) }

// NewRunID generates a new run ID.
func NewRunID() ID { return New(PrefixRun) }

// NewCheckpointID generates a new checkpoint ID.
func NewCheckpointID() ID { return New(PrefixCheckpoint) }

// NewPurchaseID generates a new purchase ID.
func NewPurchaseID() ID { return New(PrefixPurchase) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseGroupID parses a string and validates the "wfgrp" prefix.
func ParseGroupID(s string) (ID, error) { return ParseWithPrefix(s, PrefixGroup) }

// ParseVersionID parses a string and validates the "wfver" prefix.
func ParseVersionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixVersion) }

// ParseTaskID parses a string and validates the "htask" prefix.
func ParseTaskID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTask) }

// ParseEntryID parses a string and validates the "evlog" prefix.
func ParseEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEntry) }

// ParseCompensationID parses a string and validates the "comp" prefix.
func ParseCompensationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCompensation) }

// ParseWaitID parses a string and validates the "wait" prefix.
func ParseWaitID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWait) }

// ParseRunID parses a string and validates the "wfrun" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }

// ParseCheckpointID parses a string and validates the "ckpt" prefix.
func ParseCheckpointID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCheckpoint) }

// ParsePurchaseID parses a string and validates the "pur" prefix.
func ParsePurchaseID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPurchase) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
