package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Collection name constants.
const (
	colVersions      = "signoff_versions"
	colTasks         = "signoff_tasks"
	colEntries       = "signoff_audit_entries"
	colCompensations = "signoff_compensations"
	colWaits         = "signoff_waits"
	colWorkflowRuns  = "signoff_workflow_runs"
	colCheckpoints   = "signoff_checkpoints"
	colCounters      = "signoff_counters"
)

// taskPendingIndex names the partial unique index on pending tasks.
const taskPendingIndex = "task_one_pending"

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ version.Store      = (*Store)(nil)
	_ task.Store         = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
	_ wait.Store         = (*Store)(nil)
	_ workflow.Store     = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to uri and uses the named database. The returned Store owns
// the client and disconnects it on Close.
func New(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, signoff.StoreError("signoff/mongo: connect", err)
	}
	s := NewFromDatabase(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// NewFromDatabase creates a store on an existing database handle. The
// caller owns the client lifecycle.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		client: db.Client(),
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all signoff collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: signoff/mongo: %s indexes: %w", signoff.ErrMigrationFailed, col, err)
		}
	}
	s.logger.InfoContext(ctx, "mongo indexes ready", slog.String("database", s.db.Name()))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return signoff.StoreError("signoff/mongo: ping", s.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// duplicateOnIndex reports whether err is a duplicate key error raised by
// the named index.
func duplicateOnIndex(err error, index string) bool {
	var we mongod.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == 11000 && strings.Contains(e.Message, index) {
			return true
		}
	}
	return false
}

// nextSeq atomically increments and returns the named counter.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

// findAll runs a query and converts every decoded model with conv.
func findAll[M any, T any](ctx context.Context, col *mongod.Collection, filter any, opts *options.FindOptionsBuilder, conv func(*M) (*T, error)) ([]*T, error) {
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var models []M
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(models))
	for i := range models {
		item, err := conv(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// page applies limit and offset to a find.
func page(opts *options.FindOptionsBuilder, limit, offset int) *options.FindOptionsBuilder {
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return opts
}

// migrationIndexes returns the index definitions for all signoff collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colVersions: {
			{
				Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			// At most one head per group.
			{
				Keys: bson.D{{Key: "group_id", Value: 1}},
				Options: options.Index().
					SetName("group_head").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "is_latest", Value: true}}),
			},
			// A version is superseded at most once.
			{
				Keys: bson.D{{Key: "previous_version_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "previous_version_id", Value: bson.D{{Key: "$exists", Value: true}}}}),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "number", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colTasks: {
			{Keys: bson.D{{Key: "workflow_version_id", Value: 1}, {Key: "status", Value: 1}}},
			// At most one pending task per version.
			{
				Keys: bson.D{{Key: "workflow_version_id", Value: 1}},
				Options: options.Index().
					SetName(taskPendingIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "status", Value: string(task.StatusPending)}}),
			},
			{Keys: bson.D{{Key: "assignee", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "workflow_version_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colCompensations: {
			{Keys: bson.D{{Key: "workflow_version_id", Value: 1}, {Key: "action", Value: 1}}},
			{Keys: bson.D{{Key: "seq", Value: 1}}},
		},
		colWaits: {
			// Due-wait sweep.
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "deadline", Value: 1}}},
		},
		colWorkflowRuns: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colCheckpoints: {
			{
				Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "step_name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
}
