package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/store/memory"
)

func TestLog_AppendAndOrder(t *testing.T) {
	l := audit.NewLog(memory.New(), nil)
	ctx := context.Background()
	group := id.NewGroupID()
	v1, v3 := id.NewVersionID(), id.NewVersionID()

	_, err := l.Append(ctx, audit.Record{
		WorkflowVersionID: v1,
		GroupID:           group,
		StepID:            "start",
		Type:              audit.TypeWorkflowStarted,
		Data:              map[string]any{"amount": 1200, "item": "Laptop"},
	})
	require.NoError(t, err)

	approved, err := l.Append(ctx, audit.Record{
		WorkflowVersionID: v3,
		GroupID:           group,
		StepID:            "purchase_execution",
		Type:              audit.TypePurchaseApproved,
		Actor:             "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", approved.Actor)
	assert.Empty(t, approved.Data)

	trail, err := l.ForGroup(ctx, group)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.TypeWorkflowStarted, trail[0].Type)
	assert.Equal(t, audit.ActorSystem, trail[0].Actor, "actor defaults to system")
	assert.JSONEq(t, `{"amount":1200,"item":"Laptop"}`, string(trail[0].Data))
	assert.Equal(t, audit.TypePurchaseApproved, trail[1].Type)
	assert.Less(t, trail[0].Seq, trail[1].Seq)

	forV3, err := l.ForVersion(ctx, v3)
	require.NoError(t, err)
	require.Len(t, forV3, 1)
	assert.Equal(t, approved.ID.String(), forV3[0].ID.String())
}

func TestLog_AppendRequiresType(t *testing.T) {
	l := audit.NewLog(memory.New(), nil)
	_, err := l.Append(context.Background(), audit.Record{WorkflowVersionID: id.NewVersionID()})
	assert.ErrorIs(t, err, signoff.ErrValidation)
}

func TestLog_AppendRejectsUnencodableData(t *testing.T) {
	l := audit.NewLog(memory.New(), nil)
	_, err := l.Append(context.Background(), audit.Record{
		WorkflowVersionID: id.NewVersionID(),
		Type:              audit.TypeWorkflowFailed,
		Data:              make(chan int),
	})
	assert.Error(t, err)
}

func TestLog_AppendOnce(t *testing.T) {
	s := memory.New()
	l := audit.NewLog(s, nil)
	ctx := context.Background()
	v := id.NewVersionID()

	rec := audit.Record{
		WorkflowVersionID: v,
		Type:              audit.TypePurchaseTimeout,
		Actor:             audit.ActorTimeout,
	}
	first, err := l.AppendOnce(ctx, rec)
	require.NoError(t, err)
	again, err := l.AppendOnce(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), again.ID.String())

	entries, err := l.ForVersion(ctx, v)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
