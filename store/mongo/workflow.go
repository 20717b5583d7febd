package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.Collection(colWorkflowRuns).InsertOne(ctx, toRunModel(run))
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/mongo: create run", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var m runModel
	err := s.db.Collection(colWorkflowRuns).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, signoff.ErrRunNotFound
		}
		return nil, signoff.StoreError("signoff/mongo: get run", err)
	}
	r, err := fromRunModel(&m)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: get run", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	m := toRunModel(run)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colWorkflowRuns).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return signoff.StoreError("signoff/mongo: update run", err)
	}
	if res.MatchedCount == 0 {
		return signoff.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	filter := bson.M{}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	out, err := findAll(ctx, s.db.Collection(colWorkflowRuns), filter,
		page(findOpts, opts.Limit, opts.Offset), fromRunModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list runs", err)
	}
	return out, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step.
// If a checkpoint already exists for the same run/step, it is replaced
// and keeps its position.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	seq, err := s.nextSeq(ctx, colCheckpoints)
	if err != nil {
		return signoff.StoreError("signoff/mongo: save checkpoint seq", err)
	}

	t := now()
	filter := bson.M{"run_id": runID.String(), "step_name": stepName}
	update := bson.M{
		"$set": bson.M{
			"data":       data,
			"updated_at": t,
		},
		"$setOnInsert": bson.M{
			"_id":        id.NewCheckpointID().String(),
			"seq":        seq,
			"created_at": t,
		},
	}

	col := s.db.Collection(colCheckpoints)
	_, err = col.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if isDuplicateKey(err) {
		// A concurrent first save won the insert; this one now updates it.
		_, err = col.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	}
	return signoff.StoreError("signoff/mongo: save checkpoint", err)
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).FindOne(ctx, bson.M{
		"run_id":    runID.String(),
		"step_name": stepName,
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, signoff.StoreError("signoff/mongo: get checkpoint", err)
	}
	return m.Data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in first-save
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	out, err := findAll(ctx, s.db.Collection(colCheckpoints),
		bson.M{"run_id": runID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
		fromCheckpointModel,
	)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list checkpoints", err)
	}
	return out, nil
}
