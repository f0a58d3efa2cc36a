package store

import (
	"context"
	"encoding/json"
	"sync"

	"fleet-tracker/internal/fleet"
)

// Memory is an in-process Store. It backs tests and the no-broker demo
// mode; semantics mirror the KV implementation, including full-set
// delivery on every change.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
	subs map[string]map[int]*memSub
	next int
}

type memSub struct {
	pred Predicate
	fn   func(map[string]json.RawMessage)
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]json.RawMessage),
		subs: make(map[string]map[int]*memSub),
	}
}

func (m *Memory) Put(ctx context.Context, collection, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return &fleet.TransientStoreError{Op: "put", Err: err}
	}
	m.mu.Lock()
	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]json.RawMessage)
		m.data[collection] = coll
	}
	coll[key] = b
	notify := m.snapshotLocked(collection)
	subs := m.subsLocked(collection)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(filtered(notify, s.pred))
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	m.mu.Lock()
	b, ok := m.data[collection][key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return true, &fleet.TransientStoreError{Op: "get", Err: err}
	}
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	coll, ok := m.data[collection]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if _, present := coll[key]; !present {
		m.mu.Unlock()
		return nil
	}
	delete(coll, key)
	notify := m.snapshotLocked(collection)
	subs := m.subsLocked(collection)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(filtered(notify, s.pred))
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string, fn func(map[string]json.RawMessage)) (func(), error) {
	return m.Query(ctx, collection, nil, fn)
}

func (m *Memory) Query(ctx context.Context, collection string, pred Predicate, fn func(map[string]json.RawMessage)) (func(), error) {
	m.mu.Lock()
	id := m.next
	m.next++
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[int]*memSub)
	}
	m.subs[collection][id] = &memSub{pred: pred, fn: fn}
	initial := m.snapshotLocked(collection)
	m.mu.Unlock()

	fn(filtered(initial, pred))

	stop := func() {
		m.mu.Lock()
		delete(m.subs[collection], id)
		m.mu.Unlock()
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}
	return stop, nil
}

// Len reports the number of records in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[collection])
}

func (m *Memory) snapshotLocked(collection string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m.data[collection]))
	for k, v := range m.data[collection] {
		out[k] = v
	}
	return out
}

func (m *Memory) subsLocked(collection string) []*memSub {
	out := make([]*memSub, 0, len(m.subs[collection]))
	for _, s := range m.subs[collection] {
		out = append(out, s)
	}
	return out
}
