package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/version"
)

// AppendVersion inserts v as the new head of its group.
//
// The previous head is claimed with one FindOneAndUpdate that demotes it
// only while it is still the head, so concurrent appenders on the same
// head race on a single document. If the insert then fails the claim is
// released.
func (s *Store) AppendVersion(ctx context.Context, v *version.Version) error {
	col := s.db.Collection(colVersions)
	m := toVersionModel(v)
	m.IsLatest = true

	if v.PreviousVersionID.IsNil() {
		n, err := col.CountDocuments(ctx, bson.M{"group_id": m.GroupID}, options.Count().SetLimit(1))
		if err != nil {
			return signoff.StoreError("signoff/mongo: append version", err)
		}
		if n > 0 {
			return signoff.ErrAlreadyExists
		}
		if _, err := col.InsertOne(ctx, m); err != nil {
			if isDuplicateKey(err) {
				return signoff.ErrAlreadyExists
			}
			return signoff.StoreError("signoff/mongo: append version", err)
		}
		v.IsLatest = true
		return nil
	}

	prevID := m.PreviousVersionID
	err := col.FindOneAndUpdate(ctx,
		bson.M{"_id": prevID, "group_id": m.GroupID, "is_latest": true},
		bson.M{"$set": bson.M{"is_latest": false, "superseded_by": m.ID, "updated_at": now()}},
	).Err()
	if isNoDocuments(err) {
		n, cerr := col.CountDocuments(ctx, bson.M{"_id": prevID})
		if cerr != nil {
			return signoff.StoreError("signoff/mongo: append version", cerr)
		}
		if n == 0 {
			return signoff.ErrVersionNotFound
		}
		return signoff.ErrStaleVersion
	}
	if err != nil {
		return signoff.StoreError("signoff/mongo: append version", err)
	}

	if _, err := col.InsertOne(ctx, m); err != nil {
		_, rerr := col.UpdateOne(ctx,
			bson.M{"_id": prevID, "superseded_by": m.ID},
			bson.M{"$set": bson.M{"is_latest": true}, "$unset": bson.M{"superseded_by": ""}},
		)
		if rerr != nil {
			s.logger.ErrorContext(ctx, "release version head",
				"group_id", m.GroupID, "version_id", prevID, "error", rerr)
		}
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/mongo: append version", err)
	}
	v.IsLatest = true
	return nil
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	return s.findVersion(ctx, "signoff/mongo: get version", bson.M{"_id": versionID.String()})
}

func (s *Store) findVersion(ctx context.Context, op string, filter bson.M) (*version.Version, error) {
	var m versionModel
	err := s.db.Collection(colVersions).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError(op, err)
	}
	v, err := fromVersionModel(&m)
	if err != nil {
		return nil, signoff.StoreError(op, err)
	}
	return v, nil
}

// ListGroupVersions returns every version of a group, newest first.
func (s *Store) ListGroupVersions(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	out, err := findAll(ctx, s.db.Collection(colVersions),
		bson.M{"group_id": groupID.String()},
		options.Find().SetSort(bson.D{{Key: "number", Value: -1}}),
		fromVersionModel,
	)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list group versions", err)
	}
	return out, nil
}

// ListVersions returns versions matching opts, newest first.
func (s *Store) ListVersions(ctx context.Context, opts version.ListOpts) ([]*version.Version, error) {
	filter := bson.M{}
	if !opts.GroupID.IsNil() {
		filter["group_id"] = opts.GroupID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.LatestOnly {
		filter["is_latest"] = true
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "number", Value: -1},
	})
	out, err := findAll(ctx, s.db.Collection(colVersions), filter,
		page(findOpts, opts.Limit, opts.Offset), fromVersionModel)
	if err != nil {
		return nil, signoff.StoreError("signoff/mongo: list versions", err)
	}
	return out, nil
}

// GetSuccessor returns the version that superseded prevID.
func (s *Store) GetSuccessor(ctx context.Context, prevID id.VersionID) (*version.Version, error) {
	return s.findVersion(ctx, "signoff/mongo: get successor", bson.M{"previous_version_id": prevID.String()})
}

// RepairLatest marks the highest-numbered version of the group as the
// only latest one.
func (s *Store) RepairLatest(ctx context.Context, groupID id.GroupID) error {
	col := s.db.Collection(colVersions)
	group := groupID.String()

	var head versionModel
	err := col.FindOne(ctx, bson.M{"group_id": group},
		options.FindOne().SetSort(bson.D{{Key: "number", Value: -1}}),
	).Decode(&head)
	if err != nil {
		if isNoDocuments(err) {
			return signoff.ErrGroupNotFound
		}
		return signoff.StoreError("signoff/mongo: repair latest", err)
	}

	t := now()
	if _, err := col.UpdateMany(ctx,
		bson.M{"group_id": group, "is_latest": true, "_id": bson.M{"$ne": head.ID}},
		bson.M{"$set": bson.M{"is_latest": false, "updated_at": t}},
	); err != nil {
		return signoff.StoreError("signoff/mongo: repair latest", err)
	}
	_, err = col.UpdateOne(ctx,
		bson.M{"_id": head.ID},
		bson.M{"$set": bson.M{"is_latest": true, "updated_at": t}, "$unset": bson.M{"superseded_by": ""}},
	)
	return signoff.StoreError("signoff/mongo: repair latest", err)
}
