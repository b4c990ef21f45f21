// Package keygroup defines the key-group addressing scheme shared by every
// component that routes records or state by key: the KeyGroupRange owned by
// a task, and the deterministic function mapping a record key to its
// key-group id (C1).
package keygroup

import "github.com/zeebo/xxh3"

// ID is a key-group identifier, an integer in [0, MaxParallelism).
//
// The kg of a record is immutable for the job's lifetime: it is derived once
// from the record key and MaxParallelism, never recomputed after a
// reconfiguration.
type ID uint32

// AssignToKeyGroup deterministically maps key to a key-group id.
//
// This is a compatibility constant for the lifetime of a job: changing the
// hash function changes which records land in which kg, which would silently
// corrupt any persisted KeyGroupStateHandle. xxh3 is used here the same way
// the hash ring in internal/hash uses it, so the whole module shares one
// hash family end to end.
func AssignToKeyGroup(key string, maxParallelism uint32) ID {
	if maxParallelism == 0 {
		return 0
	}

	return ID(xxh3.HashString(key) % uint64(maxParallelism))
}
