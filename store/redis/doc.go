// Package redis implements store.Store on Redis. Records are
// MessagePack-encoded strings, ordering uses Sorted Sets, and every
// compare-and-set (version append, task transition, wait resolution) runs
// as an optimistic WATCH/MULTI transaction.
//
// The caller owns the client lifecycle; Close never closes it.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
