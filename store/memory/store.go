// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for tests, development and
// single-process deployments that can lose state on restart.
package memory

import (
	"context"
	"sort"
	"sync"
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

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle in tests), so we verify each.
var (
	_ version.Store      = (*Store)(nil)
	_ task.Store         = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
	_ wait.Store         = (*Store)(nil)
	_ workflow.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	versions      map[string]*version.Version
	heads         map[string]string // group ID -> head version ID
	tasks         map[string]*task.Task
	entries       []*audit.Entry
	seq           int64
	compensations []*compensation.Record
	waits         map[string]*wait.Record
	runs          map[string]*workflow.Run
	checkpoints   map[string]*workflow.Checkpoint // key: "runID:stepName"
	checkpointSeq []string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		versions:    make(map[string]*version.Version),
		heads:       make(map[string]string),
		tasks:       make(map[string]*task.Task),
		waits:       make(map[string]*wait.Record),
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]*workflow.Checkpoint),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Version Store
// ──────────────────────────────────────────────────

// AppendVersion inserts v as the new head of its group, demoting the
// previous head in the same critical section.
func (m *Store) AppendVersion(_ context.Context, v *version.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := v.ID.String()
	if _, exists := m.versions[key]; exists {
		return signoff.ErrAlreadyExists
	}
	group := v.GroupID.String()

	if v.PreviousVersionID.IsNil() {
		if _, exists := m.heads[group]; exists {
			return signoff.ErrAlreadyExists
		}
	} else {
		prev, ok := m.versions[v.PreviousVersionID.String()]
		if !ok {
			return signoff.ErrVersionNotFound
		}
		if prev.GroupID.String() != group || m.heads[group] != prev.ID.String() {
			return signoff.ErrStaleVersion
		}
		prev.IsLatest = false
		prev.UpdatedAt = time.Now().UTC()
	}

	cp := *v
	cp.IsLatest = true
	m.versions[key] = &cp
	m.heads[group] = key
	v.IsLatest = true
	return nil
}

// GetVersion retrieves a version by ID.
func (m *Store) GetVersion(_ context.Context, versionID id.VersionID) (*version.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[versionID.String()]
	if !ok {
		return nil, signoff.ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}

// ListGroupVersions returns every version of a group, newest first.
func (m *Store) ListGroupVersions(_ context.Context, groupID id.GroupID) ([]*version.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group := groupID.String()
	result := make([]*version.Version, 0)
	for _, v := range m.versions {
		if v.GroupID.String() == group {
			cp := *v
			result = append(result, &cp)
		}
	}
	sortVersionsDesc(result)
	return result, nil
}

// ListVersions returns versions matching opts, newest first.
func (m *Store) ListVersions(_ context.Context, opts version.ListOpts) ([]*version.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*version.Version, 0, len(m.versions))
	for _, v := range m.versions {
		if !opts.GroupID.IsNil() && v.GroupID.String() != opts.GroupID.String() {
			continue
		}
		if opts.Status != "" && v.Status != opts.Status {
			continue
		}
		if opts.LatestOnly && !v.IsLatest {
			continue
		}
		cp := *v
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].Number > result[k].Number
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetSuccessor returns the version that superseded prevID.
func (m *Store) GetSuccessor(_ context.Context, prevID id.VersionID) (*version.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := prevID.String()
	for _, v := range m.versions {
		if !v.PreviousVersionID.IsNil() && v.PreviousVersionID.String() == key {
			cp := *v
			return &cp, nil
		}
	}
	return nil, signoff.ErrVersionNotFound
}

// RepairLatest marks the highest-numbered version of the group as the
// only latest one.
func (m *Store) RepairLatest(_ context.Context, groupID id.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group := groupID.String()
	var head *version.Version
	for _, v := range m.versions {
		if v.GroupID.String() != group {
			continue
		}
		if head == nil || v.Number > head.Number {
			head = v
		}
	}
	if head == nil {
		return signoff.ErrGroupNotFound
	}
	for _, v := range m.versions {
		if v.GroupID.String() == group {
			v.IsLatest = v == head
		}
	}
	m.heads[group] = head.ID.String()
	return nil
}

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return signoff.ErrAlreadyExists
	}
	if t.Status == task.StatusPending {
		for _, other := range m.tasks {
			if other.Status == task.StatusPending && other.WorkflowVersionID.String() == t.WorkflowVersionID.String() {
				return signoff.ErrTaskPending
			}
		}
	}
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, signoff.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// TransitionTask applies tr if the task is still in tr.From.
func (m *Store) TransitionTask(_ context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, signoff.ErrTaskNotFound
	}
	if t.Status != tr.From {
		return nil, signoff.ErrInvalidState
	}
	at := tr.At
	t.Status = tr.To
	t.Response = tr.Response
	t.ResolvedAt = &at
	t.UpdatedAt = at
	cp := *t
	return &cp, nil
}

// ListTasks returns tasks matching opts.
func (m *Store) ListTasks(_ context.Context, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if !opts.WorkflowVersionID.IsNil() && t.WorkflowVersionID.String() != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && t.GroupID.String() != opts.GroupID.String() {
			continue
		}
		if opts.Assignee != "" && t.Assignee != opts.Assignee {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		a, b := result[i], result[k]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.Ascending {
			return a.ID.String() < b.ID.String()
		}
		return a.ID.String() > b.ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendEntry persists e and assigns its sequence number.
func (m *Store) AppendEntry(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	e.Seq = m.seq
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

// ListEntries returns entries matching opts, oldest first.
func (m *Store) ListEntries(_ context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*audit.Entry, 0)
	for _, e := range m.entries {
		if !opts.WorkflowVersionID.IsNil() && e.WorkflowVersionID.String() != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && e.GroupID.String() != opts.GroupID.String() {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].Seq < result[k].Seq
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Compensation Store
// ──────────────────────────────────────────────────

// CreateCompensation persists a compensation record.
func (m *Store) CreateCompensation(_ context.Context, r *compensation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.compensations {
		if existing.ID.String() == r.ID.String() {
			return signoff.ErrAlreadyExists
		}
	}
	cp := *r
	m.compensations = append(m.compensations, &cp)
	return nil
}

// ListCompensations returns records matching opts, oldest first.
func (m *Store) ListCompensations(_ context.Context, opts compensation.ListOpts) ([]*compensation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*compensation.Record, 0)
	for _, r := range m.compensations {
		if !opts.WorkflowVersionID.IsNil() && r.WorkflowVersionID.String() != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && r.GroupID.String() != opts.GroupID.String() {
			continue
		}
		if opts.Action != "" && r.Action != opts.Action {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Wait Store
// ──────────────────────────────────────────────────

// CreateWait persists an open wait record.
func (m *Store) CreateWait(_ context.Context, r *wait.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.waits[r.Key]; ok && existing.Open() {
		return signoff.ErrWaitConflict
	}
	cp := *r
	m.waits[r.Key] = &cp
	return nil
}

// GetWait retrieves the record for key.
func (m *Store) GetWait(_ context.Context, key string) (*wait.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.waits[key]
	if !ok {
		return nil, signoff.ErrWaitNotFound
	}
	cp := *r
	return &cp, nil
}

// ResolveWait resolves the record for key if it is still open.
func (m *Store) ResolveWait(_ context.Context, key string, res wait.Resolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.waits[key]
	if !ok || !r.Open() {
		return false, nil
	}
	at := res.At
	r.State = wait.StateResolved
	r.Outcome = res.Outcome
	r.Payload = res.Payload
	r.ResolvedAt = &at
	return true, nil
}

// ListDueWaits returns open records whose deadline has passed.
func (m *Store) ListDueWaits(_ context.Context, now time.Time, limit int) ([]*wait.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*wait.Record, 0)
	for _, r := range m.waits {
		if r.Open() && !r.Deadline.After(now) {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Deadline.Before(result[k].Deadline)
	})
	return paginate(result, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return signoff.ErrAlreadyExists
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, signoff.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing workflow run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return signoff.ErrRunNotFound
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// ListRuns returns workflow runs, optionally filtered by state, oldest
// first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// SaveCheckpoint persists checkpoint data for a workflow step.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String() + ":" + stepName
	if _, exists := m.checkpoints[key]; !exists {
		m.checkpointSeq = append(m.checkpointSeq, key)
	}
	m.checkpoints[key] = &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil, nil if not found.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[runID.String()+":"+stepName]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), cp.Data...), nil
}

// ListCheckpoints returns all checkpoints for a workflow run in creation
// order.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	result := make([]*workflow.Checkpoint, 0)
	for _, key := range m.checkpointSeq {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			cp := *m.checkpoints[key]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func sortVersionsDesc(vs []*version.Version) {
	sort.Slice(vs, func(i, k int) bool { return vs[i].Number > vs[k].Number })
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
