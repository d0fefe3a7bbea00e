// Package storage is the single persistence layer of the portal.
//
// # Overview
//
// Every record kind (admin accounts, sessions, posts, authors, documents,
// customers, folders, the access log) is stored as one JSON array under one
// key of a KV namespace. Services never touch a backend directly; they go
// through a typed Collection which owns the read-modify-write cycle for its
// key.
//
// # Backends
//
//   - MemoryKV: process memory, used by tests and demo mode
//   - FileSystemKV: one JSON file per key, atomic rename on write
//   - RedisKV: one hash per key (value + version), CAS through WATCH/MULTI
//   - SQLKV: one row per key in PostgreSQL (lib/pq) or SQLite (go-sqlite3),
//     CAS through a version column
//
// All backends version their entries. Put with an expected version fails
// with ErrConflict when another writer got there first, so several portal
// instances can share Redis or SQL without losing updates.
//
//	kv, err := storage.Open(ctx, cfg, logger)
//	posts := storage.NewCollection[blog.Post](kv, storage.KeyPosts,
//		storage.WithSeed(defaultPosts),
//		storage.WithCorruptPolicy(cfg.CorruptPolicy))
//
//	updated, err := posts.Update(ctx, func(items []blog.Post) ([]blog.Post, error) {
//		return append(items, post), nil
//	})
//
// # Caching
//
// CachedKV keeps decoded entries in an expirable LRU. A stale cached version
// only costs one CAS retry in Collection.Update; plain reads may lag other
// instances by at most the cache TTL.
//
// # Missing and corrupt data
//
// A missing key reads as the collection's seed (or empty) and the seed is
// persisted on first access. Undecodable JSON returns ErrCorrupt under the
// default policy, or is replaced by the seed under CorruptReseed.
package storage
