package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxTxRetries bounds optimistic-transaction retries before giving up with
// ErrConflict.
const maxTxRetries = 8

// Redis is the production Store backend. Each document root (the first two
// path segments, e.g. "sessions/AB12CD" or "hosts/uid1") is stored as one
// JSON string; mutations run as WATCH/MULTI/EXEC optimistic transactions so
// increment sentinels and multi-path batches are atomic, and every commit
// publishes the new root document on the root's pub/sub channel for
// watchers on this and other instances.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a Redis-backed store. All keys and channels are
// namespaced under prefix.
func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) docKey(root string) string     { return r.prefix + "doc:" + root }
func (r *Redis) channel(root string) string    { return r.prefix + "ch:" + root }
func (r *Redis) docPattern(top string) string  { return r.prefix + "doc:" + top + "/*" }
func (r *Redis) chanPattern(top string) string { return r.prefix + "ch:" + top + "/*" }

// rootOf splits path segments into the document root and the remainder
// inside the document.
func rootOf(segs []string) (root string, rest []string, err error) {
	if len(segs) < 2 {
		return "", nil, fmt.Errorf("store: path %q does not address a document", strings.Join(segs, "/"))
	}
	return segs[0] + "/" + segs[1], segs[2:], nil
}

// Read implements Store. A single-segment path reads the whole collection
// (every root under that segment, keyed by the second segment).
func (r *Redis) Read(ctx context.Context, path string) (any, error) {
	segs := splitPath(path)
	if len(segs) == 1 {
		return r.readCollection(ctx, segs[0])
	}
	root, rest, err := rootOf(segs)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.Get(ctx, r.docKey(root)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return lookup(doc, rest), nil
}

func (r *Redis) readCollection(ctx context.Context, top string) (any, error) {
	out := make(map[string]any)
	iter := r.client.Scan(ctx, 0, r.docPattern(top), 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: read collection %s: %w", top, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out[strings.TrimPrefix(key, r.prefix+"doc:"+top+"/")] = doc
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", top, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Write implements Store.
func (r *Redis) Write(ctx context.Context, path string, value any) error {
	doc, err := toDocument(value)
	if err != nil {
		return err
	}
	segs := splitPath(path)
	root, rest, err := rootOf(segs)
	if err != nil {
		return err
	}
	return r.mutateRoots(ctx, []string{root}, func(docs map[string]map[string]any) error {
		if len(rest) == 0 {
			m, ok := doc.(map[string]any)
			if !ok {
				return fmt.Errorf("store: root write at %s requires an object value", path)
			}
			docs[root] = m
			return nil
		}
		writeAt(docs[root], rest, doc)
		return nil
	})
}

// Update implements Store. Field keys spanning several roots are applied in
// one transaction watching every involved document key.
func (r *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	base := splitPath(path)
	type target struct {
		rest  []string
		value any
	}
	byRoot := make(map[string][]target)
	var roots []string
	for key, value := range fields {
		segs := append(append([]string(nil), base...), splitPath(key)...)
		root, rest, err := rootOf(segs)
		if err != nil {
			return err
		}
		if _, seen := byRoot[root]; !seen {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], target{rest: rest, value: value})
	}
	if len(roots) == 0 {
		return nil
	}
	return r.mutateRoots(ctx, roots, func(docs map[string]map[string]any) error {
		for root, targets := range byRoot {
			for _, t := range targets {
				if err := applyField(docs[root], t.rest, t.value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Push implements Store.
func (r *Redis) Push(ctx context.Context, parentPath string, value any) (string, error) {
	key := uuid.NewString()
	if err := r.Write(ctx, joinPath(parentPath, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove implements Store. Removing a whole collection deletes each root in
// turn (no cross-root atomicity, matching the contract).
func (r *Redis) Remove(ctx context.Context, path string) error {
	segs := splitPath(path)
	if len(segs) == 1 {
		iter := r.client.Scan(ctx, 0, r.docPattern(segs[0]), 200).Iterator()
		for iter.Next(ctx) {
			root := strings.TrimPrefix(iter.Val(), r.prefix+"doc:")
			if err := r.removeRoot(ctx, root, nil); err != nil {
				return err
			}
		}
		return iter.Err()
	}
	root, rest, err := rootOf(segs)
	if err != nil {
		return err
	}
	return r.removeRoot(ctx, root, rest)
}

func (r *Redis) removeRoot(ctx context.Context, root string, rest []string) error {
	return r.mutateRoots(ctx, []string{root}, func(docs map[string]map[string]any) error {
		if len(rest) == 0 {
			removeAt(docs[root], nil)
			return nil
		}
		removeAt(docs[root], rest)
		return nil
	})
}

// Watch implements Store. Root-or-deeper paths subscribe to the root's
// channel and project the subpath out of each published document; a
// single-segment path pattern-subscribes to every root of the collection
// and re-reads the assembled value on each event.
func (r *Redis) Watch(path string, onValue func(any), onError func(error)) (func(), error) {
	segs := splitPath(path)
	ctx, cancelCtx := context.WithCancel(context.Background())

	var (
		pubsub  *redis.PubSub
		project func(payload string) (any, bool)
	)
	if len(segs) == 1 {
		pubsub = r.client.PSubscribe(ctx, r.chanPattern(segs[0]))
		project = func(string) (any, bool) {
			value, err := r.readCollection(ctx, segs[0])
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return nil, false
			}
			return value, true
		}
	} else {
		root, rest, err := rootOf(segs)
		if err != nil {
			cancelCtx()
			return nil, err
		}
		pubsub = r.client.Subscribe(ctx, r.channel(root))
		project = func(payload string) (any, bool) {
			var doc any
			if err := json.Unmarshal([]byte(payload), &doc); err != nil {
				if onError != nil {
					onError(fmt.Errorf("store: decode event for %s: %w", path, err))
				}
				return nil, false
			}
			return lookup(doc, rest), true
		}
	}

	// Confirm the subscription before the seed read so no change between the
	// two is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("store: subscribe %s: %w", path, err)
	}
	initial, err := r.Read(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		cancelCtx()
		return nil, err
	}
	onValue(initial)

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if value, ok := project(msg.Payload); ok {
					onValue(value)
				}
			}
		}
	}()
	return cancelCtx, nil
}

// mutateRoots loads the documents for roots, applies fn and writes the
// results back in one optimistic transaction, publishing each changed root.
// Empty documents are deleted.
func (r *Redis) mutateRoots(ctx context.Context, roots []string, fn func(docs map[string]map[string]any) error) error {
	keys := make([]string, len(roots))
	for i, root := range roots {
		keys[i] = r.docKey(root)
	}

	txf := func(tx *redis.Tx) error {
		docs := make(map[string]map[string]any, len(roots))
		for _, root := range roots {
			raw, err := tx.Get(ctx, r.docKey(root)).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				docs[root] = make(map[string]any)
			case err != nil:
				return err
			default:
				var doc map[string]any
				if jsonErr := json.Unmarshal(raw, &doc); jsonErr != nil || doc == nil {
					doc = make(map[string]any)
				}
				docs[root] = doc
			}
		}
		if err := fn(docs); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for root, doc := range docs {
				if len(doc) == 0 {
					pipe.Del(ctx, r.docKey(root))
					pipe.Publish(ctx, r.channel(root), "null")
					continue
				}
				raw, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				pipe.Set(ctx, r.docKey(root), raw, 0)
				pipe.Publish(ctx, r.channel(root), raw)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	r.logger.Warn("store transaction kept conflicting", zap.Strings("roots", roots))
	return ErrConflict
}
