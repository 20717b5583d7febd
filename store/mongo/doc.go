// Package mongo implements store.Store on MongoDB using the official v2
// driver. Every compare-and-set is a single-document atomic update:
// version heads are claimed with FindOneAndUpdate, task transitions and
// wait resolutions filter on the expected state, and wait registration
// relies on the _id unique index to reject a second open record.
//
// Either let the store own the client:
//
//	s, err := mongo.New(ctx, "mongodb://localhost:27017", "signoff")
//	defer s.Close()
//
// or hand it a database whose client you manage:
//
//	s := mongo.NewFromDatabase(client.Database("signoff"))
//
// Migrate creates the indexes the store relies on and is safe to call on
// every start.
package mongo
