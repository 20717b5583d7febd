package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.Collection(colTasks).InsertOne(ctx, toTaskModel(t))
	if err != nil {
		if duplicateOnIndex(err, taskPendingIndex) {
			return signoff.ErrTaskPending
		}
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/mongo: create task", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var m taskModel
	err := s.db.Collection(colTasks).FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, signoff.ErrTaskNotFound
		}
		return nil, signoff.StoreError("signoff/mongo: get task", err)
	}
	t, err := fromTaskModel(&m)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: get task", err)
	}
	return t, nil
}

// TransitionTask moves a task from tr.From to tr.To if its status still
// matches.
func (s *Store) TransitionTask(ctx context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	col := s.db.Collection(colTasks)
	at := tr.At.UTC()

	set := bson.M{
		"status":      string(tr.To),
		"resolved_at": at,
		"updated_at":  at,
	}
	update := bson.M{"$set": set}
	if len(tr.Response) > 0 {
		set["response"] = []byte(tr.Response)
	} else {
		update["$unset"] = bson.M{"response": ""}
	}

	var m taskModel
	err := col.FindOneAndUpdate(ctx,
		bson.M{"_id": taskID.String(), "status": string(tr.From)},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if isNoDocuments(err) {
		n, cerr := col.CountDocuments(ctx, bson.M{"_id": taskID.String()})
		if cerr != nil {
			return nil, signoff.StoreError("signoff/mongo: transition task", cerr)
		}
		if n == 0 {
			return nil, signoff.ErrTaskNotFound
		}
		return nil, signoff.ErrInvalidState
	}
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: transition task", err)
	}

	t, err := fromTaskModel(&m)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: transition task", err)
	}
	return t, nil
}

// ListTasks returns tasks matching opts, newest first unless opts.Ascending
// is set.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.WorkflowVersionID.IsNil() {
		filter["workflow_version_id"] = opts.WorkflowVersionID.String()
	}
	if !opts.GroupID.IsNil() {
		filter["group_id"] = opts.GroupID.String()
	}
	if opts.Assignee != "" {
		filter["assignee"] = opts.Assignee
	}

	dir := -1
	if opts.Ascending {
		dir = 1
	}
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: dir},
		{Key: "_id", Value: dir},
	})
	out, err := findAll(ctx, s.db.Collection(colTasks), filter,
		page(findOpts, opts.Limit, opts.Offset), fromTaskModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list tasks", err)
	}
	return out, nil
}
