// Package storetest is the conformance suite every store.Store backend
// runs from its own tests.
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Factory returns a fresh, migrated, empty store. It is called once per
// subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"VersionChain", testVersionChain},
		{"VersionAppendErrors", testVersionAppendErrors},
		{"VersionConcurrentAppend", testVersionConcurrentAppend},
		{"VersionList", testVersionList},
		{"VersionRepair", testVersionRepair},
		{"TaskLifecycle", testTaskLifecycle},
		{"TaskList", testTaskList},
		{"TaskOnePendingPerVersion", testTaskOnePendingPerVersion},
		{"TaskConcurrentPending", testTaskConcurrentPending},
		{"AuditOrdering", testAuditOrdering},
		{"Compensations", testCompensations},
		{"WaitLifecycle", testWaitLifecycle},
		{"WaitConcurrentResolve", testWaitConcurrentResolve},
		{"WaitDue", testWaitDue},
		{"Runs", testRuns},
		{"Checkpoints", testCheckpoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// now is truncated so every backend round-trips it exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newVersion(group id.GroupID, prev *version.Version, status version.Status) *version.Version {
	v := &version.Version{
		Entity:      signoff.Entity{CreatedAt: now(), UpdatedAt: now()},
		ID:          id.NewVersionID(),
		GroupID:     group,
		Number:      1,
		Name:        signoff.DefaultWorkflowName,
		Status:      status,
		CurrentStep: "start",
		Context:     json.RawMessage(`{"amount":100}`),
	}
	if prev != nil {
		v.Number = prev.Number + 1
		v.PreviousVersionID = prev.ID
	}
	return v
}

func appendChain(t *testing.T, s store.Store, n int) (id.GroupID, []*version.Version) {
	t.Helper()
	ctx := context.Background()
	group := id.NewGroupID()

	var chain []*version.Version
	var prev *version.Version
	for i := 0; i < n; i++ {
		v := newVersion(group, prev, version.StatusRunning)
		require.NoError(t, s.AppendVersion(ctx, v))
		chain = append(chain, v)
		prev = v
	}
	return group, chain
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx), "migrate must be idempotent")
	require.NoError(t, s.Ping(ctx))
}

func testVersionChain(t *testing.T, s store.Store) {
	ctx := context.Background()
	group, chain := appendChain(t, s, 3)

	history, err := s.ListGroupVersions(ctx, group)
	require.NoError(t, err)
	require.Len(t, history, 3)

	latest := 0
	for i, v := range history {
		assert.Equal(t, 3-i, v.Number, "newest first")
		assert.Equal(t, group.String(), v.GroupID.String())
		if v.IsLatest {
			latest++
			assert.Equal(t, chain[2].ID.String(), v.ID.String())
		}
	}
	assert.Equal(t, 1, latest, "exactly one latest version per group")
	assert.NoError(t, version.VerifyChain(history))

	got, err := s.GetVersion(ctx, chain[1].ID)
	require.NoError(t, err)
	assert.Equal(t, chain[0].ID.String(), got.PreviousVersionID.String())
	assert.False(t, got.IsLatest)
	assert.JSONEq(t, `{"amount":100}`, string(got.Context))
	assert.Equal(t, version.StatusRunning, got.Status)

	succ, err := s.GetSuccessor(ctx, chain[0].ID)
	require.NoError(t, err)
	assert.Equal(t, chain[1].ID.String(), succ.ID.String())

	_, err = s.GetSuccessor(ctx, chain[2].ID)
	assert.ErrorIs(t, err, signoff.ErrVersionNotFound)

	_, err = s.GetVersion(ctx, id.NewVersionID())
	assert.ErrorIs(t, err, signoff.ErrVersionNotFound)

	empty, err := s.ListGroupVersions(ctx, id.NewGroupID())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testVersionAppendErrors(t *testing.T, s store.Store) {
	ctx := context.Background()
	group, chain := appendChain(t, s, 2)

	t.Run("second v1 for group", func(t *testing.T) {
		err := s.AppendVersion(ctx, newVersion(group, nil, version.StatusRunning))
		assert.ErrorIs(t, err, signoff.ErrAlreadyExists)
	})

	t.Run("stale previous", func(t *testing.T) {
		err := s.AppendVersion(ctx, newVersion(group, chain[0], version.StatusApproved))
		assert.ErrorIs(t, err, signoff.ErrStaleVersion)
		assert.ErrorIs(t, err, signoff.ErrConflict)
	})

	t.Run("unknown previous", func(t *testing.T) {
		ghost := newVersion(group, nil, version.StatusRunning)
		err := s.AppendVersion(ctx, newVersion(group, ghost, version.StatusApproved))
		assert.ErrorIs(t, err, signoff.ErrVersionNotFound)
	})

	t.Run("previous from another group", func(t *testing.T) {
		v := newVersion(id.NewGroupID(), chain[1], version.StatusApproved)
		err := s.AppendVersion(ctx, v)
		assert.ErrorIs(t, err, signoff.ErrConflict)
	})

	history, err := s.ListGroupVersions(ctx, group)
	require.NoError(t, err)
	assert.Len(t, history, 2, "failed appends leave no partial versions")
	assert.NoError(t, version.VerifyChain(history))
}

func testVersionConcurrentAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	group, chain := appendChain(t, s, 1)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AppendVersion(ctx, newVersion(group, chain[0], version.StatusWaitingApproval))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			assert.ErrorIs(t, err, signoff.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one writer may extend a head")

	history, err := s.ListGroupVersions(ctx, group)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NoError(t, version.VerifyChain(history))
}

func testVersionList(t *testing.T, s store.Store) {
	ctx := context.Background()
	groupA, _ := appendChain(t, s, 2)
	groupB, chainB := appendChain(t, s, 1)

	v := newVersion(groupB, chainB[0], version.StatusApproved)
	require.NoError(t, s.AppendVersion(ctx, v))

	all, err := s.ListVersions(ctx, version.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	heads, err := s.ListVersions(ctx, version.ListOpts{LatestOnly: true})
	require.NoError(t, err)
	assert.Len(t, heads, 2)
	for _, h := range heads {
		assert.True(t, h.IsLatest)
	}

	approved, err := s.ListVersions(ctx, version.ListOpts{Status: version.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, v.ID.String(), approved[0].ID.String())

	inA, err := s.ListVersions(ctx, version.ListOpts{GroupID: groupA})
	require.NoError(t, err)
	assert.Len(t, inA, 2)

	page, err := s.ListVersions(ctx, version.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func testVersionRepair(t *testing.T, s store.Store) {
	ctx := context.Background()
	group, chain := appendChain(t, s, 3)

	require.NoError(t, s.RepairLatest(ctx, group))

	history, err := s.ListGroupVersions(ctx, group)
	require.NoError(t, err)
	assert.NoError(t, version.VerifyChain(history))
	assert.True(t, history[0].IsLatest)
	assert.Equal(t, chain[2].ID.String(), history[0].ID.String())

	// The head keeps accepting appends after a repair.
	require.NoError(t, s.AppendVersion(ctx, newVersion(group, chain[2], version.StatusApproved)))
}

func newTask(versionID id.VersionID, group id.GroupID, assignee string, created time.Time) *task.Task {
	expires := created.Add(5 * time.Minute)
	return &task.Task{
		Entity:            signoff.Entity{CreatedAt: created, UpdatedAt: created},
		ID:                id.NewTaskID(),
		WorkflowVersionID: versionID,
		GroupID:           group,
		StepID:            task.DefaultStepID,
		Assignee:          assignee,
		UISchema:          task.DefaultUISchema,
		Status:            task.StatusPending,
		Channel:           task.DefaultChannel,
		ExpiresAt:         &expires,
	}
}

func testTaskLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := newTask(id.NewVersionID(), id.NewGroupID(), "Admin", now())
	require.NoError(t, s.CreateTask(ctx, tk))
	assert.ErrorIs(t, s.CreateTask(ctx, tk), signoff.ErrAlreadyExists)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "Admin", got.Assignee)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, tk.ExpiresAt.Equal(*got.ExpiresAt))
	assert.Nil(t, got.ResolvedAt)

	at := now()
	resolved, err := s.TransitionTask(ctx, tk.ID, task.Transition{
		From:     task.StatusPending,
		To:       task.StatusApproved,
		Response: json.RawMessage(`{"status":"approve"}`),
		At:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, resolved.Status)
	assert.JSONEq(t, `{"status":"approve"}`, string(resolved.Response))
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, at.Equal(*resolved.ResolvedAt))

	_, err = s.TransitionTask(ctx, tk.ID, task.Transition{
		From: task.StatusPending,
		To:   task.StatusTimedOut,
		At:   now(),
	})
	assert.ErrorIs(t, err, signoff.ErrInvalidState)

	_, err = s.TransitionTask(ctx, id.NewTaskID(), task.Transition{From: task.StatusPending, To: task.StatusRejected, At: now()})
	assert.ErrorIs(t, err, signoff.ErrTaskNotFound)

	_, err = s.GetTask(ctx, id.NewTaskID())
	assert.ErrorIs(t, err, signoff.ErrTaskNotFound)
}

func testTaskList(t *testing.T, s store.Store) {
	ctx := context.Background()
	group := id.NewGroupID()
	v1, v2 := id.NewVersionID(), id.NewVersionID()
	base := now()

	first := newTask(v1, group, "Admin", base)
	second := newTask(v2, group, "Finance", base.Add(time.Second))
	other := newTask(id.NewVersionID(), id.NewGroupID(), "Admin", base.Add(2*time.Second))
	for _, tk := range []*task.Task{first, second, other} {
		require.NoError(t, s.CreateTask(ctx, tk))
	}
	_, err := s.TransitionTask(ctx, first.ID, task.Transition{From: task.StatusPending, To: task.StatusRejected, At: now()})
	require.NoError(t, err)

	pending, err := s.ListTasks(ctx, task.ListOpts{Status: task.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, other.ID.String(), pending[0].ID.String(), "newest first")

	byGroup, err := s.ListTasks(ctx, task.ListOpts{GroupID: group, Ascending: true})
	require.NoError(t, err)
	require.Len(t, byGroup, 2)
	assert.Equal(t, first.ID.String(), byGroup[0].ID.String(), "oldest first")

	byVersion, err := s.ListTasks(ctx, task.ListOpts{WorkflowVersionID: v2})
	require.NoError(t, err)
	require.Len(t, byVersion, 1)
	assert.Equal(t, second.ID.String(), byVersion[0].ID.String())

	byAssignee, err := s.ListTasks(ctx, task.ListOpts{Assignee: "Admin", Status: task.StatusPending})
	require.NoError(t, err)
	require.Len(t, byAssignee, 1)
	assert.Equal(t, other.ID.String(), byAssignee[0].ID.String())

	page, err := s.ListTasks(ctx, task.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func testTaskOnePendingPerVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	v, group := id.NewVersionID(), id.NewGroupID()

	first := newTask(v, group, "Admin", now())
	require.NoError(t, s.CreateTask(ctx, first))

	dup := newTask(v, group, "Finance", now())
	err := s.CreateTask(ctx, dup)
	require.ErrorIs(t, err, signoff.ErrTaskPending)
	assert.ErrorIs(t, err, signoff.ErrConflict)
	_, err = s.GetTask(ctx, dup.ID)
	assert.ErrorIs(t, err, signoff.ErrTaskNotFound)

	// A resolved task can sit next to a new pending one.
	resolved := newTask(v, group, "Admin", now())
	resolved.Status = task.StatusApproved
	require.NoError(t, s.CreateTask(ctx, resolved))

	// Other versions are unaffected.
	require.NoError(t, s.CreateTask(ctx, newTask(id.NewVersionID(), group, "Admin", now())))

	_, err = s.TransitionTask(ctx, first.ID, task.Transition{From: task.StatusPending, To: task.StatusTimedOut, At: now()})
	require.NoError(t, err)

	next := newTask(v, group, "Admin", now())
	require.NoError(t, s.CreateTask(ctx, next))

	pending, err := s.ListTasks(ctx, task.ListOpts{Status: task.StatusPending, WorkflowVersionID: v})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, next.ID.String(), pending[0].ID.String())
}

func testTaskConcurrentPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	v, group := id.NewVersionID(), id.NewGroupID()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateTask(ctx, newTask(v, group, "Admin", now()))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, signoff.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	pending, err := s.ListTasks(ctx, task.ListOpts{Status: task.StatusPending, WorkflowVersionID: v})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func testAuditOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	group := id.NewGroupID()
	v := id.NewVersionID()
	at := now()

	types := []string{audit.TypeWorkflowStarted, audit.TypePurchaseApproved, audit.TypeWorkflowFailed}
	var lastSeq int64
	for _, typ := range types {
		e := &audit.Entry{
			ID:                id.NewEntryID(),
			WorkflowVersionID: v,
			GroupID:           group,
			StepID:            "start",
			Type:              typ,
			Data:              json.RawMessage(`{}`),
			Actor:             audit.ActorSystem,
			CreatedAt:         at, // identical timestamps: seq decides
		}
		require.NoError(t, s.AppendEntry(ctx, e))
		assert.Greater(t, e.Seq, lastSeq, "seq is monotonic")
		lastSeq = e.Seq
	}
	require.NoError(t, s.AppendEntry(ctx, &audit.Entry{
		ID:                id.NewEntryID(),
		WorkflowVersionID: id.NewVersionID(),
		GroupID:           id.NewGroupID(),
		Type:              audit.TypeWorkflowStarted,
		Actor:             audit.ActorSystem,
		CreatedAt:         at,
	}))

	entries, err := s.ListEntries(ctx, audit.ListOpts{WorkflowVersionID: v})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, types[i], e.Type, "creation order")
	}

	byGroup, err := s.ListEntries(ctx, audit.ListOpts{GroupID: group, Type: audit.TypePurchaseApproved})
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, audit.ActorSystem, byGroup[0].Actor)
}

func testCompensations(t *testing.T, s store.Store) {
	ctx := context.Background()
	group := id.NewGroupID()
	v := id.NewVersionID()

	rec := &compensation.Record{
		ID:                id.NewCompensationID(),
		WorkflowVersionID: v,
		GroupID:           group,
		StepID:            "purchase_rejected",
		Action:            compensation.ActionCancelPurchase,
		Status:            compensation.StatusCompleted,
		Data:              json.RawMessage(`{"reason":"rejected"}`),
		CreatedAt:         now(),
	}
	require.NoError(t, s.CreateCompensation(ctx, rec))

	again, err := compensation.RecordOnce(ctx, s, &compensation.Record{
		WorkflowVersionID: v,
		GroupID:           group,
		Action:            compensation.ActionCancelPurchase,
	})
	require.NoError(t, err)
	assert.Equal(t, rec.ID.String(), again.ID.String())

	list, err := s.ListCompensations(ctx, compensation.ListOpts{GroupID: group})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, compensation.StatusCompleted, list[0].Status)
	assert.JSONEq(t, `{"reason":"rejected"}`, string(list[0].Data))

	none, err := s.ListCompensations(ctx, compensation.ListOpts{GroupID: id.NewGroupID()})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func newWait(key string, deadline time.Time) *wait.Record {
	return &wait.Record{
		ID:           id.NewWaitID(),
		Key:          key,
		RunID:        id.NewRunID(),
		State:        wait.StateOpen,
		Deadline:     deadline,
		RegisteredAt: now(),
	}
}

func testWaitLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := "approval:" + id.NewTaskID().String()

	_, err := s.GetWait(ctx, key)
	assert.ErrorIs(t, err, signoff.ErrWaitNotFound)

	rec := newWait(key, now().Add(time.Minute))
	require.NoError(t, s.CreateWait(ctx, rec))
	assert.ErrorIs(t, s.CreateWait(ctx, newWait(key, now().Add(time.Minute))), signoff.ErrWaitConflict)

	got, err := s.GetWait(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Open())
	assert.Equal(t, rec.RunID.String(), got.RunID.String())
	assert.True(t, rec.Deadline.Equal(got.Deadline))

	at := now()
	ok, err := s.ResolveWait(ctx, key, wait.Resolution{
		Outcome: wait.OutcomeEvent,
		Payload: json.RawMessage(`{"status":"approve"}`),
		At:      at,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ResolveWait(ctx, key, wait.Resolution{Outcome: wait.OutcomeTimedOut, At: now()})
	require.NoError(t, err)
	assert.False(t, ok, "a resolved wait cannot be resolved again")

	got, err = s.GetWait(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, wait.StateResolved, got.State)
	assert.Equal(t, wait.OutcomeEvent, got.Outcome)
	assert.JSONEq(t, `{"status":"approve"}`, string(got.Payload))
	require.NotNil(t, got.ResolvedAt)

	ok, err = s.ResolveWait(ctx, "approval:unknown", wait.Resolution{Outcome: wait.OutcomeEvent, At: now()})
	require.NoError(t, err)
	assert.False(t, ok)

	// A resolved record may be replaced by a fresh registration.
	require.NoError(t, s.CreateWait(ctx, newWait(key, now().Add(time.Minute))))
	got, err = s.GetWait(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Open())
}

func testWaitConcurrentResolve(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := "approval:" + id.NewTaskID().String()
	require.NoError(t, s.CreateWait(ctx, newWait(key, now().Add(time.Minute))))

	const resolvers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < resolvers; i++ {
		outcome := wait.OutcomeEvent
		if i%2 == 1 {
			outcome = wait.OutcomeTimedOut
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ResolveWait(ctx, key, wait.Resolution{Outcome: outcome, At: now()})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "exactly one resolver wins")
}

func testWaitDue(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	late := newWait("due:late", base.Add(-time.Second))
	later := newWait("due:later", base.Add(-2*time.Second))
	future := newWait("due:future", base.Add(time.Hour))
	resolved := newWait("due:resolved", base.Add(-3*time.Second))
	for _, r := range []*wait.Record{late, later, future, resolved} {
		require.NoError(t, s.CreateWait(ctx, r))
	}
	_, err := s.ResolveWait(ctx, resolved.Key, wait.Resolution{Outcome: wait.OutcomeEvent, At: base})
	require.NoError(t, err)

	due, err := s.ListDueWaits(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "due:later", due[0].Key, "earliest deadline first")
	assert.Equal(t, "due:late", due[1].Key)

	limited, err := s.ListDueWaits(ctx, base, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	newRun := func(offset time.Duration) *workflow.Run {
		return &workflow.Run{
			Entity:    signoff.Entity{CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset)},
			ID:        id.NewRunID(),
			Name:      signoff.DefaultWorkflowName,
			Version:   1,
			State:     workflow.RunStateRunning,
			Input:     json.RawMessage(`{"type":"purchase_approval"}`),
			StartedAt: base.Add(offset),
		}
	}

	first, second := newRun(0), newRun(time.Second)
	require.NoError(t, s.CreateRun(ctx, first))
	require.NoError(t, s.CreateRun(ctx, second))
	assert.ErrorIs(t, s.CreateRun(ctx, first), signoff.ErrAlreadyExists)

	second.State = workflow.RunStateWaiting
	second.WaitKey = "approval:x"
	require.NoError(t, s.UpdateRun(ctx, second))

	got, err := s.GetRun(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStateWaiting, got.State)
	assert.Equal(t, "approval:x", got.WaitKey)
	assert.JSONEq(t, `{"type":"purchase_approval"}`, string(got.Input))

	running, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID.String(), running[0].ID.String())

	all, err := s.ListRuns(ctx, workflow.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID.String(), all[0].ID.String(), "oldest first")

	_, err = s.GetRun(ctx, id.NewRunID())
	assert.ErrorIs(t, err, signoff.ErrRunNotFound)

	ghost := newRun(0)
	assert.ErrorIs(t, s.UpdateRun(ctx, ghost), signoff.ErrRunNotFound)
}

func testCheckpoints(t *testing.T, s store.Store) {
	ctx := context.Background()
	runID := id.NewRunID()

	data, err := s.GetCheckpoint(ctx, runID, "start")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SaveCheckpoint(ctx, runID, "start", []byte(`{"v":1}`)))
	require.NoError(t, s.SaveCheckpoint(ctx, runID, "await:approval", []byte(`{"outcome":"event"}`)))
	require.NoError(t, s.SaveCheckpoint(ctx, runID, "start", []byte(`{"v":2}`)))

	data, err = s.GetCheckpoint(ctx, runID, "start")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data), "save replaces")

	list, err := s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "start", list[0].StepName)
	assert.Equal(t, "await:approval", list[1].StepName)
}
