package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// parseOptional parses s, mapping the empty string to id.Nil.
func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

// idField pairs a stored ID string with its destination.
type idField struct {
	src string
	dst *id.ID
}

// parseIDs parses every field, mapping empty strings to id.Nil.
func parseIDs(fields ...idField) error {
	for _, f := range fields {
		parsed, err := parseOptional(f.src)
		if err != nil {
			return fmt.Errorf("parse id %q: %w", f.src, err)
		}
		*f.dst = parsed
	}
	return nil
}

func raw(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ── Version ───────────────────────────────────────────────────────

type versionModel struct {
	ID                string    `msgpack:"id"`
	GroupID           string    `msgpack:"group_id"`
	Number            int       `msgpack:"number"`
	Name              string    `msgpack:"name"`
	Status            string    `msgpack:"status"`
	CurrentStep       string    `msgpack:"current_step"`
	Context           []byte    `msgpack:"context,omitempty"`
	IsLatest          bool      `msgpack:"is_latest"`
	PreviousVersionID string    `msgpack:"previous_version_id,omitempty"`
	CreatedBy         string    `msgpack:"created_by,omitempty"`
	CreatedAt         time.Time `msgpack:"created_at"`
	UpdatedAt         time.Time `msgpack:"updated_at"`
}

func toVersionModel(v *version.Version) *versionModel {
	return &versionModel{
		ID:                v.ID.String(),
		GroupID:           v.GroupID.String(),
		Number:            v.Number,
		Name:              v.Name,
		Status:            string(v.Status),
		CurrentStep:       v.CurrentStep,
		Context:           v.Context,
		IsLatest:          v.IsLatest,
		PreviousVersionID: v.PreviousVersionID.String(),
		CreatedBy:         v.CreatedBy,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
	}
}

func fromVersionModel(m *versionModel) (*version.Version, error) {
	v := &version.Version{
		Entity:      signoff.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		Number:      m.Number,
		Name:        m.Name,
		Status:      version.Status(m.Status),
		CurrentStep: m.CurrentStep,
		Context:     raw(m.Context),
		IsLatest:    m.IsLatest,
		CreatedBy:   m.CreatedBy,
	}
	if err := parseIDs(idField{m.ID, &v.ID}, idField{m.GroupID, &v.GroupID}, idField{m.PreviousVersionID, &v.PreviousVersionID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: version %s: %w", m.ID, err)
	}
	return v, nil
}

// ── Task ──────────────────────────────────────────────────────────

type taskModel struct {
	ID                string     `msgpack:"id"`
	WorkflowVersionID string     `msgpack:"workflow_version_id"`
	GroupID           string     `msgpack:"group_id"`
	StepID            string     `msgpack:"step_id"`
	Assignee          string     `msgpack:"assignee"`
	AssigneeID        string     `msgpack:"assignee_id,omitempty"`
	UISchema          []byte     `msgpack:"ui_schema,omitempty"`
	Status            string     `msgpack:"status"`
	Response          []byte     `msgpack:"response,omitempty"`
	Channel           string     `msgpack:"channel"`
	ExpiresAt         *time.Time `msgpack:"expires_at,omitempty"`
	ResolvedAt        *time.Time `msgpack:"resolved_at,omitempty"`
	CreatedAt         time.Time  `msgpack:"created_at"`
	UpdatedAt         time.Time  `msgpack:"updated_at"`
}

func toTaskModel(t *task.Task) *taskModel {
	return &taskModel{
		ID:                t.ID.String(),
		WorkflowVersionID: t.WorkflowVersionID.String(),
		GroupID:           t.GroupID.String(),
		StepID:            t.StepID,
		Assignee:          t.Assignee,
		AssigneeID:        t.AssigneeID,
		UISchema:          t.UISchema,
		Status:            string(t.Status),
		Response:          t.Response,
		Channel:           t.Channel,
		ExpiresAt:         t.ExpiresAt,
		ResolvedAt:        t.ResolvedAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	t := &task.Task{
		Entity:     signoff.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		StepID:     m.StepID,
		Assignee:   m.Assignee,
		AssigneeID: m.AssigneeID,
		UISchema:   raw(m.UISchema),
		Status:     task.Status(m.Status),
		Response:   raw(m.Response),
		Channel:    m.Channel,
		ExpiresAt:  utcPtr(m.ExpiresAt),
		ResolvedAt: utcPtr(m.ResolvedAt),
	}
	if err := parseIDs(idField{m.ID, &t.ID}, idField{m.WorkflowVersionID, &t.WorkflowVersionID}, idField{m.GroupID, &t.GroupID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: task %s: %w", m.ID, err)
	}
	return t, nil
}

// ── Audit ─────────────────────────────────────────────────────────

type entryModel struct {
	ID                string    `msgpack:"id"`
	WorkflowVersionID string    `msgpack:"workflow_version_id"`
	GroupID           string    `msgpack:"group_id"`
	StepID            string    `msgpack:"step_id"`
	Type              string    `msgpack:"type"`
	Data              []byte    `msgpack:"data,omitempty"`
	Actor             string    `msgpack:"actor"`
	CreatedAt         time.Time `msgpack:"created_at"`
	Seq               int64     `msgpack:"seq"`
}

func toEntryModel(e *audit.Entry) *entryModel {
	return &entryModel{
		ID:                e.ID.String(),
		WorkflowVersionID: e.WorkflowVersionID.String(),
		GroupID:           e.GroupID.String(),
		StepID:            e.StepID,
		Type:              e.Type,
		Data:              e.Data,
		Actor:             e.Actor,
		CreatedAt:         e.CreatedAt,
		Seq:               e.Seq,
	}
}

func fromEntryModel(m *entryModel) (*audit.Entry, error) {
	e := &audit.Entry{
		StepID:    m.StepID,
		Type:      m.Type,
		Data:      raw(m.Data),
		Actor:     m.Actor,
		CreatedAt: m.CreatedAt.UTC(),
		Seq:       m.Seq,
	}
	if err := parseIDs(idField{m.ID, &e.ID}, idField{m.WorkflowVersionID, &e.WorkflowVersionID}, idField{m.GroupID, &e.GroupID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: entry %s: %w", m.ID, err)
	}
	return e, nil
}

// ── Compensation ──────────────────────────────────────────────────

type compensationModel struct {
	ID                string    `msgpack:"id"`
	WorkflowVersionID string    `msgpack:"workflow_version_id"`
	GroupID           string    `msgpack:"group_id"`
	StepID            string    `msgpack:"step_id"`
	Action            string    `msgpack:"action"`
	Status            string    `msgpack:"status"`
	Data              []byte    `msgpack:"data,omitempty"`
	Error             string    `msgpack:"error,omitempty"`
	CreatedAt         time.Time `msgpack:"created_at"`
}

func toCompensationModel(r *compensation.Record) *compensationModel {
	return &compensationModel{
		ID:                r.ID.String(),
		WorkflowVersionID: r.WorkflowVersionID.String(),
		GroupID:           r.GroupID.String(),
		StepID:            r.StepID,
		Action:            r.Action,
		Status:            string(r.Status),
		Data:              r.Data,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}

func fromCompensationModel(m *compensationModel) (*compensation.Record, error) {
	r := &compensation.Record{
		StepID:    m.StepID,
		Action:    m.Action,
		Status:    compensation.Status(m.Status),
		Data:      raw(m.Data),
		Error:     m.Error,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if err := parseIDs(idField{m.ID, &r.ID}, idField{m.WorkflowVersionID, &r.WorkflowVersionID}, idField{m.GroupID, &r.GroupID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: compensation %s: %w", m.ID, err)
	}
	return r, nil
}

// ── Wait ──────────────────────────────────────────────────────────

type waitModel struct {
	ID           string     `msgpack:"id"`
	Key          string     `msgpack:"key"`
	RunID        string     `msgpack:"run_id,omitempty"`
	State        string     `msgpack:"state"`
	Outcome      string     `msgpack:"outcome,omitempty"`
	Payload      []byte     `msgpack:"payload,omitempty"`
	Deadline     time.Time  `msgpack:"deadline"`
	RegisteredAt time.Time  `msgpack:"registered_at"`
	ResolvedAt   *time.Time `msgpack:"resolved_at,omitempty"`
}

func (m *waitModel) open() bool { return wait.State(m.State) == wait.StateOpen }

func toWaitModel(r *wait.Record) *waitModel {
	return &waitModel{
		ID:           r.ID.String(),
		Key:          r.Key,
		RunID:        r.RunID.String(),
		State:        string(r.State),
		Outcome:      string(r.Outcome),
		Payload:      r.Payload,
		Deadline:     r.Deadline,
		RegisteredAt: r.RegisteredAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

func fromWaitModel(m *waitModel) (*wait.Record, error) {
	r := &wait.Record{
		Key:          m.Key,
		State:        wait.State(m.State),
		Outcome:      wait.Outcome(m.Outcome),
		Payload:      raw(m.Payload),
		Deadline:     m.Deadline.UTC(),
		RegisteredAt: m.RegisteredAt.UTC(),
		ResolvedAt:   utcPtr(m.ResolvedAt),
	}
	if err := parseIDs(idField{m.ID, &r.ID}, idField{m.RunID, &r.RunID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: wait %s: %w", m.Key, err)
	}
	return r, nil
}

// ── Workflow ──────────────────────────────────────────────────────

type runModel struct {
	ID          string     `msgpack:"id"`
	Name        string     `msgpack:"name"`
	Version     int        `msgpack:"version"`
	State       string     `msgpack:"state"`
	Input       []byte     `msgpack:"input,omitempty"`
	Error       string     `msgpack:"error,omitempty"`
	WaitKey     string     `msgpack:"wait_key,omitempty"`
	StartedAt   time.Time  `msgpack:"started_at"`
	CompletedAt *time.Time `msgpack:"completed_at,omitempty"`
	CreatedAt   time.Time  `msgpack:"created_at"`
	UpdatedAt   time.Time  `msgpack:"updated_at"`
}

func toRunModel(r *workflow.Run) *runModel {
	return &runModel{
		ID:          r.ID.String(),
		Name:        r.Name,
		Version:     r.Version,
		State:       string(r.State),
		Input:       r.Input,
		Error:       r.Error,
		WaitKey:     r.WaitKey,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromRunModel(m *runModel) (*workflow.Run, error) {
	r := &workflow.Run{
		Entity:      signoff.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		Name:        m.Name,
		Version:     m.Version,
		State:       workflow.RunState(m.State),
		Input:       raw(m.Input),
		Error:       m.Error,
		WaitKey:     m.WaitKey,
		StartedAt:   m.StartedAt.UTC(),
		CompletedAt: utcPtr(m.CompletedAt),
	}
	if err := parseIDs(idField{m.ID, &r.ID}); err != nil {
		return nil, fmt.Errorf("signoff/redis: run %s: %w", m.ID, err)
	}
	return r, nil
}

type checkpointModel struct {
	ID        string    `msgpack:"id"`
	Data      []byte    `msgpack:"data"`
	CreatedAt time.Time `msgpack:"created_at"`
}
