package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is the in-memory Store backend. It keeps the whole tree under one
// mutex and delivers watch notifications synchronously after each mutation,
// which makes it deterministic enough for tests while keeping the Redis
// backend's ordering contract (per-watcher in-order delivery).
type Memory struct {
	mu       sync.Mutex
	root     map[string]any
	watchers map[int]*memWatcher
	nextID   int
	seq      uint64
}

type memWatcher struct {
	segs    []string
	onValue func(any)

	// deliverMu serializes onValue calls; lastSeq drops snapshots that were
	// overtaken by a newer mutation on another goroutine.
	deliverMu sync.Mutex
	lastSeq   uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root:     make(map[string]any),
		watchers: make(map[int]*memWatcher),
	}
}

// Read implements Store.
func (m *Memory) Read(_ context.Context, path string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(lookup(m.root, splitPath(path))), nil
}

// Write implements Store.
func (m *Memory) Write(_ context.Context, path string, value any) error {
	doc, err := toDocument(value)
	if err != nil {
		return err
	}
	return m.mutate(func() error {
		segs := splitPath(path)
		if len(segs) == 0 {
			root, ok := doc.(map[string]any)
			if !ok {
				root = make(map[string]any)
			}
			m.root = root
			return nil
		}
		writeAt(m.root, segs, doc)
		return nil
	})
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	base := splitPath(path)
	return m.mutate(func() error {
		for key, value := range fields {
			segs := append(append([]string(nil), base...), splitPath(key)...)
			if err := applyField(m.root, segs, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Push implements Store.
func (m *Memory) Push(ctx context.Context, parentPath string, value any) (string, error) {
	key := uuid.NewString()
	if err := m.Write(ctx, joinPath(parentPath, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, path string) error {
	return m.mutate(func() error {
		removeAt(m.root, splitPath(path))
		return nil
	})
}

// Watch implements Store.
func (m *Memory) Watch(path string, onValue func(any), _ func(error)) (func(), error) {
	w := &memWatcher{segs: splitPath(path), onValue: onValue}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	seq := m.seq
	initial := clone(lookup(m.root, w.segs))
	m.mu.Unlock()

	w.deliver(seq, initial)

	cancel := func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
	return cancel, nil
}

// mutate runs fn under the lock, then notifies every watcher with a fresh
// snapshot of the value at its path. Snapshots are taken under the lock;
// delivery happens outside it so callbacks may call back into the store.
func (m *Memory) mutate(fn func() error) error {
	m.mu.Lock()
	if err := fn(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.seq++
	seq := m.seq
	type delivery struct {
		w     *memWatcher
		value any
	}
	pending := make([]delivery, 0, len(m.watchers))
	for _, w := range m.watchers {
		pending = append(pending, delivery{w: w, value: clone(lookup(m.root, w.segs))})
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.w.deliver(seq, d.value)
	}
	return nil
}

func (w *memWatcher) deliver(seq uint64, value any) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if seq < w.lastSeq {
		return
	}
	w.lastSeq = seq
	w.onValue(value)
}
