package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/wait"
)

// CreateWait persists an open wait record keyed by r.Key.
//
// The replace only matches a resolved record; when an open one exists the
// upsert collides on _id and reports a conflict.
func (s *Store) CreateWait(ctx context.Context, r *wait.Record) error {
	_, err := s.db.Collection(colWaits).ReplaceOne(ctx,
		bson.M{"_id": r.Key, "state": bson.M{"$ne": string(wait.StateOpen)}},
		toWaitModel(r),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrWaitConflict
		}
		return signoff.StoreError("signoff/mongo: create wait", err)
	}
	return nil
}

// GetWait retrieves the record for key.
func (s *Store) GetWait(ctx context.Context, key string) (*wait.Record, error) {
	var m waitModel
	err := s.db.Collection(colWaits).FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, signoff.ErrWaitNotFound
		}
		return nil, signoff.StoreError("signoff/mongo: get wait", err)
	}
	rec, err := fromWaitModel(&m)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: get wait", err)
	}
	return rec, nil
}

// ResolveWait resolves the record for key if it is still open.
func (s *Store) ResolveWait(ctx context.Context, key string, res wait.Resolution) (bool, error) {
	set := bson.M{
		"state":       string(wait.StateResolved),
		"outcome":     string(res.Outcome),
		"resolved_at": res.At.UTC(),
	}
	if len(res.Payload) > 0 {
		set["payload"] = []byte(res.Payload)
	}
	result, err := s.db.Collection(colWaits).UpdateOne(ctx,
		bson.M{"_id": key, "state": string(wait.StateOpen)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, signoff.StoreError("signoff/mongo: resolve wait", err)
	}
	return result.ModifiedCount == 1, nil
}

// ListDueWaits returns open records whose deadline has passed, earliest
// first.
func (s *Store) ListDueWaits(ctx context.Context, now time.Time, limit int) ([]*wait.Record, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "deadline", Value: 1}})
	out, err := findAll(ctx, s.db.Collection(colWaits),
		bson.M{"state": string(wait.StateOpen), "deadline": bson.M{"$lte": now.UTC()}},
		page(findOpts, limit, 0), fromWaitModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list due waits", err)
	}
	return out, nil
}
