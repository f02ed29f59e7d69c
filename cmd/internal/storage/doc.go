// Package storage provides the durable key/value blob stores that back the message log,
// the identity cache and the signed-in session.
//
// Every value is a whole-blob overwrite: callers serialize their full state and Put it under a
// fixed key. There is no incremental diffing and no cross-key transaction.
//
// Backends:
//   - pebble (default): an on-disk Pebble database under the data directory.
//   - redis: a shared Redis instance, keys namespaced by a prefix.
//   - postgres: a single kv table in a configurable schema.
//   - memory: process-local, for tests and throwaway runs.
package storage
