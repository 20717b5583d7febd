package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Timestamps are Unix nanoseconds so deadline scans compare numerically.
// Nullable columns use pointer fields so a nil value binds as SQL NULL.

func nanos(t time.Time) int64 { return t.UnixNano() }

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

// jsonText maps an empty document to NULL.
func jsonText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func rawJSON(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	return json.RawMessage(*s)
}

// optionalID maps id.Nil to NULL.
func optionalID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

// parseOptional parses s, mapping NULL and "" to id.Nil.
func parseOptional(s *string) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.Parse(*s)
}

// parseIDs parses each stored ID into its destination.
func parseIDs(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		var (
			parsed id.ID
			err    error
		)
		switch src := pairs[i].(type) {
		case string:
			parsed, err = id.Parse(src)
		case *string:
			parsed, err = parseOptional(src)
		}
		if err != nil {
			return err
		}
		*pairs[i+1].(*id.ID) = parsed
	}
	return nil
}

// ── Version ───────────────────────────────────────────────────────

type versionModel struct {
	grove.BaseModel `grove:"table:signoff_versions"`

	ID                string  `grove:"id,pk"`
	GroupID           string  `grove:"group_id,notnull"`
	Number            int     `grove:"number,notnull"`
	Name              string  `grove:"name,notnull"`
	Status            string  `grove:"status,notnull"`
	CurrentStep       string  `grove:"current_step,notnull"`
	Context           *string `grove:"context"`
	IsLatest          bool    `grove:"is_latest,notnull"`
	PreviousVersionID *string `grove:"previous_version_id"`
	CreatedBy         string  `grove:"created_by,notnull"`
	CreatedAt         int64   `grove:"created_at,notnull"`
	UpdatedAt         int64   `grove:"updated_at,notnull"`
}

func toVersionModel(v *version.Version) *versionModel {
	return &versionModel{
		ID:                v.ID.String(),
		GroupID:           v.GroupID.String(),
		Number:            v.Number,
		Name:              v.Name,
		Status:            string(v.Status),
		CurrentStep:       v.CurrentStep,
		Context:           jsonText(v.Context),
		IsLatest:          v.IsLatest,
		PreviousVersionID: optionalID(v.PreviousVersionID),
		CreatedBy:         v.CreatedBy,
		CreatedAt:         nanos(v.CreatedAt),
		UpdatedAt:         nanos(v.UpdatedAt),
	}
}

func fromVersionModel(m *versionModel) (*version.Version, error) {
	v := &version.Version{
		Entity:      signoff.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		Number:      m.Number,
		Name:        m.Name,
		Status:      version.Status(m.Status),
		CurrentStep: m.CurrentStep,
		Context:     rawJSON(m.Context),
		IsLatest:    m.IsLatest,
		CreatedBy:   m.CreatedBy,
	}
	if err := parseIDs(m.ID, &v.ID, m.GroupID, &v.GroupID, m.PreviousVersionID, &v.PreviousVersionID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: version %s: %w", m.ID, err)
	}
	return v, nil
}

// ── Task ──────────────────────────────────────────────────────────

type taskModel struct {
	grove.BaseModel `grove:"table:signoff_tasks"`

	ID                string  `grove:"id,pk"`
	WorkflowVersionID string  `grove:"workflow_version_id,notnull"`
	GroupID           string  `grove:"group_id,notnull"`
	StepID            string  `grove:"step_id,notnull"`
	Assignee          string  `grove:"assignee,notnull"`
	AssigneeID        string  `grove:"assignee_id,notnull"`
	UISchema          *string `grove:"ui_schema"`
	Status            string  `grove:"status,notnull"`
	Response          *string `grove:"response"`
	Channel           string  `grove:"channel,notnull"`
	ExpiresAt         *int64  `grove:"expires_at"`
	ResolvedAt        *int64  `grove:"resolved_at"`
	CreatedAt         int64   `grove:"created_at,notnull"`
	UpdatedAt         int64   `grove:"updated_at,notnull"`
}

func toTaskModel(t *task.Task) *taskModel {
	return &taskModel{
		ID:                t.ID.String(),
		WorkflowVersionID: t.WorkflowVersionID.String(),
		GroupID:           t.GroupID.String(),
		StepID:            t.StepID,
		Assignee:          t.Assignee,
		AssigneeID:        t.AssigneeID,
		UISchema:          jsonText(t.UISchema),
		Status:            string(t.Status),
		Response:          jsonText(t.Response),
		Channel:           t.Channel,
		ExpiresAt:         nanosPtr(t.ExpiresAt),
		ResolvedAt:        nanosPtr(t.ResolvedAt),
		CreatedAt:         nanos(t.CreatedAt),
		UpdatedAt:         nanos(t.UpdatedAt),
	}
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	t := &task.Task{
		Entity:     signoff.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		StepID:     m.StepID,
		Assignee:   m.Assignee,
		AssigneeID: m.AssigneeID,
		UISchema:   rawJSON(m.UISchema),
		Status:     task.Status(m.Status),
		Response:   rawJSON(m.Response),
		Channel:    m.Channel,
		ExpiresAt:  fromNanosPtr(m.ExpiresAt),
		ResolvedAt: fromNanosPtr(m.ResolvedAt),
	}
	if err := parseIDs(m.ID, &t.ID, m.WorkflowVersionID, &t.WorkflowVersionID, m.GroupID, &t.GroupID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: task %s: %w", m.ID, err)
	}
	return t, nil
}

// ── Audit ─────────────────────────────────────────────────────────

type entryModel struct {
	grove.BaseModel `grove:"table:signoff_audit_entries"`

	Seq               int64   `grove:"seq,pk,autoincrement"`
	ID                string  `grove:"id,notnull"`
	WorkflowVersionID string  `grove:"workflow_version_id,notnull"`
	GroupID           string  `grove:"group_id,notnull"`
	StepID            string  `grove:"step_id,notnull"`
	Type              string  `grove:"type,notnull"`
	Data              *string `grove:"data"`
	Actor             string  `grove:"actor,notnull"`
	CreatedAt         int64   `grove:"created_at,notnull"`
}

func toEntryModel(e *audit.Entry) *entryModel {
	return &entryModel{
		ID:                e.ID.String(),
		WorkflowVersionID: e.WorkflowVersionID.String(),
		GroupID:           e.GroupID.String(),
		StepID:            e.StepID,
		Type:              e.Type,
		Data:              jsonText(e.Data),
		Actor:             e.Actor,
		CreatedAt:         nanos(e.CreatedAt),
	}
}

func fromEntryModel(m *entryModel) (*audit.Entry, error) {
	e := &audit.Entry{
		Seq:       m.Seq,
		StepID:    m.StepID,
		Type:      m.Type,
		Data:      rawJSON(m.Data),
		Actor:     m.Actor,
		CreatedAt: fromNanos(m.CreatedAt),
	}
	if err := parseIDs(m.ID, &e.ID, m.WorkflowVersionID, &e.WorkflowVersionID, m.GroupID, &e.GroupID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: entry %s: %w", m.ID, err)
	}
	return e, nil
}

// ── Compensation ──────────────────────────────────────────────────

type compensationModel struct {
	grove.BaseModel `grove:"table:signoff_compensations"`

	ID                string  `grove:"id,pk"`
	WorkflowVersionID string  `grove:"workflow_version_id,notnull"`
	GroupID           string  `grove:"group_id,notnull"`
	StepID            string  `grove:"step_id,notnull"`
	Action            string  `grove:"action,notnull"`
	Status            string  `grove:"status,notnull"`
	Data              *string `grove:"data"`
	Error             string  `grove:"error,notnull"`
	CreatedAt         int64   `grove:"created_at,notnull"`
}

func toCompensationModel(r *compensation.Record) *compensationModel {
	return &compensationModel{
		ID:                r.ID.String(),
		WorkflowVersionID: r.WorkflowVersionID.String(),
		GroupID:           r.GroupID.String(),
		StepID:            r.StepID,
		Action:            r.Action,
		Status:            string(r.Status),
		Data:              jsonText(r.Data),
		Error:             r.Error,
		CreatedAt:         nanos(r.CreatedAt),
	}
}

func fromCompensationModel(m *compensationModel) (*compensation.Record, error) {
	r := &compensation.Record{
		StepID:    m.StepID,
		Action:    m.Action,
		Status:    compensation.Status(m.Status),
		Data:      rawJSON(m.Data),
		Error:     m.Error,
		CreatedAt: fromNanos(m.CreatedAt),
	}
	if err := parseIDs(m.ID, &r.ID, m.WorkflowVersionID, &r.WorkflowVersionID, m.GroupID, &r.GroupID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: compensation %s: %w", m.ID, err)
	}
	return r, nil
}

// ── Wait ──────────────────────────────────────────────────────────

type waitModel struct {
	grove.BaseModel `grove:"table:signoff_waits"`

	Key          string  `grove:"key,pk"`
	ID           string  `grove:"id,notnull"`
	RunID        *string `grove:"run_id"`
	State        string  `grove:"state,notnull"`
	Outcome      string  `grove:"outcome,notnull"`
	Payload      *string `grove:"payload"`
	Deadline     int64   `grove:"deadline,notnull"`
	RegisteredAt int64   `grove:"registered_at,notnull"`
	ResolvedAt   *int64  `grove:"resolved_at"`
}

func toWaitModel(r *wait.Record) *waitModel {
	return &waitModel{
		Key:          r.Key,
		ID:           r.ID.String(),
		RunID:        optionalID(r.RunID),
		State:        string(r.State),
		Outcome:      string(r.Outcome),
		Payload:      jsonText(r.Payload),
		Deadline:     nanos(r.Deadline),
		RegisteredAt: nanos(r.RegisteredAt),
		ResolvedAt:   nanosPtr(r.ResolvedAt),
	}
}

func fromWaitModel(m *waitModel) (*wait.Record, error) {
	r := &wait.Record{
		Key:          m.Key,
		State:        wait.State(m.State),
		Outcome:      wait.Outcome(m.Outcome),
		Payload:      rawJSON(m.Payload),
		Deadline:     fromNanos(m.Deadline),
		RegisteredAt: fromNanos(m.RegisteredAt),
		ResolvedAt:   fromNanosPtr(m.ResolvedAt),
	}
	if err := parseIDs(m.ID, &r.ID, m.RunID, &r.RunID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: wait %s: %w", m.Key, err)
	}
	return r, nil
}

// ── Workflow ──────────────────────────────────────────────────────

type runModel struct {
	grove.BaseModel `grove:"table:signoff_workflow_runs"`

	ID          string  `grove:"id,pk"`
	Name        string  `grove:"name,notnull"`
	Version     int     `grove:"version,notnull"`
	State       string  `grove:"state,notnull"`
	Input       *string `grove:"input"`
	Error       string  `grove:"error,notnull"`
	WaitKey     string  `grove:"wait_key,notnull"`
	StartedAt   int64   `grove:"started_at,notnull"`
	CompletedAt *int64  `grove:"completed_at"`
	CreatedAt   int64   `grove:"created_at,notnull"`
	UpdatedAt   int64   `grove:"updated_at,notnull"`
}

func toRunModel(r *workflow.Run) *runModel {
	return &runModel{
		ID:          r.ID.String(),
		Name:        r.Name,
		Version:     r.Version,
		State:       string(r.State),
		Input:       jsonText(r.Input),
		Error:       r.Error,
		WaitKey:     r.WaitKey,
		StartedAt:   nanos(r.StartedAt),
		CompletedAt: nanosPtr(r.CompletedAt),
		CreatedAt:   nanos(r.CreatedAt),
		UpdatedAt:   nanos(r.UpdatedAt),
	}
}

func fromRunModel(m *runModel) (*workflow.Run, error) {
	r := &workflow.Run{
		Entity:      signoff.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		Name:        m.Name,
		Version:     m.Version,
		State:       workflow.RunState(m.State),
		Input:       rawJSON(m.Input),
		Error:       m.Error,
		WaitKey:     m.WaitKey,
		StartedAt:   fromNanos(m.StartedAt),
		CompletedAt: fromNanosPtr(m.CompletedAt),
	}
	if err := parseIDs(m.ID, &r.ID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: run %s: %w", m.ID, err)
	}
	return r, nil
}

type checkpointModel struct {
	grove.BaseModel `grove:"table:signoff_checkpoints"`

	Seq       int64  `grove:"seq,pk,autoincrement"`
	ID        string `grove:"id,notnull"`
	RunID     string `grove:"run_id,notnull"`
	StepName  string `grove:"step_name,notnull"`
	Data      []byte `grove:"data,notnull"`
	CreatedAt int64  `grove:"created_at,notnull"`
}

func fromCheckpointModel(m *checkpointModel) (*workflow.Checkpoint, error) {
	cp := &workflow.Checkpoint{
		StepName:  m.StepName,
		Data:      m.Data,
		CreatedAt: fromNanos(m.CreatedAt),
	}
	if err := parseIDs(m.ID, &cp.ID, m.RunID, &cp.RunID); err != nil {
		return nil, fmt.Errorf("signoff/sqlite: checkpoint %s: %w", m.ID, err)
	}
	return cp, nil
}
