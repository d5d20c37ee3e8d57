// Package store provides a path-addressed realtime document store: point
// reads and writes, partial field updates with an atomic increment sentinel,
// multi-path batched updates, child pushes under generated keys, subtree
// removal, and subscriptions that push the current value immediately and
// again on every change.
//
// Two backends implement the same contract: Redis for production and an
// in-memory tree for tests and single-process development. Semantics are
// last-write-wins at the field level; the only cross-path atomicity is the
// multi-path form of Update.
package store

import (
	"context"
	"errors"
)

// ErrConflict is returned when a transactional update keeps colliding with
// concurrent writers and runs out of retries.
var ErrConflict = errors.New("store: update conflict")

// Delta is the atomic increment sentinel for Update field maps. Applying a
// Delta adjusts the numeric field by By instead of overwriting it; an absent
// field counts as zero.
type Delta struct {
	By int64
}

// Increment returns an Update sentinel that atomically adds by to a numeric
// field.
func Increment(by int64) Delta {
	return Delta{By: by}
}

// Store is the realtime document store contract.
//
// Paths are slash-separated ("sessions/AB12CD/questions/q1"). Values are
// generic JSON types (map[string]any, []any, float64, string, bool, nil);
// Write and Push accept arbitrary Go values and convert them through a JSON
// round trip.
type Store interface {
	// Read returns the value at path, or (nil, nil) when the path holds no
	// data. Absence is not an error.
	Read(ctx context.Context, path string) (any, error)

	// Write overwrites the node at path with value.
	Write(ctx context.Context, path string, value any) error

	// Update applies a partial multi-field update. Field map keys are
	// slash-separated paths relative to path (path may be empty for
	// root-relative keys, the multi-path batch form). A nil field value
	// deletes the field; a Delta value increments it atomically. All fields
	// within one call are applied as a single atomic batch.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Push appends value under parentPath with a generated unique key and
	// returns the key.
	Push(ctx context.Context, parentPath string, value any) (string, error)

	// Remove deletes the subtree at path. Removing an absent path is not an
	// error.
	Remove(ctx context.Context, path string) error

	// Watch subscribes to path. onValue receives the current value
	// immediately and again after every change (nil when the path becomes
	// empty); values for one subscription are delivered in order. onError
	// receives delivery failures. The returned function detaches the
	// subscription.
	Watch(path string, onValue func(any), onError func(error)) (cancel func(), err error)
}
