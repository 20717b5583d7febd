package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
)

// AppendEntry persists e and assigns e.Seq from a counter document.
func (s *Store) AppendEntry(ctx context.Context, e *audit.Entry) error {
	seq, err := s.nextSeq(ctx, colEntries)
	if err != nil {
		return signoff.StoreError("signoff/mongo: append entry seq", err)
	}
	m := toEntryModel(e)
	m.Seq = seq
	if _, err := s.db.Collection(colEntries).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/mongo: append entry", err)
	}
	e.Seq = seq
	return nil
}

// ListEntries returns entries matching opts ordered by (CreatedAt, Seq).
func (s *Store) ListEntries(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	filter := bson.M{}
	if !opts.WorkflowVersionID.IsNil() {
		filter["workflow_version_id"] = opts.WorkflowVersionID.String()
	}
	if !opts.GroupID.IsNil() {
		filter["group_id"] = opts.GroupID.String()
	}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
	})
	out, err := findAll(ctx, s.db.Collection(colEntries), filter,
		page(findOpts, opts.Limit, opts.Offset), fromEntryModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list entries", err)
	}
	return out, nil
}

// CreateCompensation persists a compensation record.
func (s *Store) CreateCompensation(ctx context.Context, r *compensation.Record) error {
	seq, err := s.nextSeq(ctx, colCompensations)
	if err != nil {
		return signoff.StoreError("signoff/mongo: create compensation seq", err)
	}
	m := toCompensationModel(r)
	m.Seq = seq
	if _, err := s.db.Collection(colCompensations).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/mongo: create compensation", err)
	}
	return nil
}

// ListCompensations returns records matching opts in insertion order.
func (s *Store) ListCompensations(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Record, error) {
	filter := bson.M{}
	if !opts.WorkflowVersionID.IsNil() {
		filter["workflow_version_id"] = opts.WorkflowVersionID.String()
	}
	if !opts.GroupID.IsNil() {
		filter["group_id"] = opts.GroupID.String()
	}
	if opts.Action != "" {
		filter["action"] = opts.Action
	}

	out, err := findAll(ctx, s.db.Collection(colCompensations), filter,
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}), fromCompensationModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list compensations", err)
	}
	return out, nil
}
