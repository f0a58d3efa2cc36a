package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/fleet"
)

// ConnMetrics receives store connectivity signals.
type ConnMetrics interface {
	StoreSetConnected(connected bool)
}

// KV implements Store on NATS JetStream Key-Value buckets, one bucket
// per collection. Watch gives exactly the subscribe contract: the full
// member set redelivered on every change.
type KV struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string
	metrics ConnMetrics

	mu      sync.Mutex
	buckets map[string]nats.KeyValue
}

// NewKV connects to NATS and prepares a JetStream KV store. prefix
// namespaces bucket names so several deployments can share a cluster.
func NewKV(url, prefix string, m ConnMetrics) (*KV, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleet-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.StoreSetConnected(false)
			}
			log.Warn("store disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.StoreSetConnected(true)
			}
			log.Info("store reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.StoreSetConnected(false)
			}
			log.Info("store connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if m != nil {
		m.StoreSetConnected(true)
	}
	return &KV{nc: nc, js: js, prefix: prefix, metrics: m, buckets: make(map[string]nats.KeyValue)}, nil
}

// Close drains and closes the underlying connection.
func (s *KV) Close() {
	if s.nc != nil {
		s.nc.Drain()
		s.nc.Close()
	}
}

func (s *KV) bucket(collection string) (nats.KeyValue, error) {
	name := bucketToken(s.prefix + "_" + collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.buckets[name]; ok {
		return kv, nil
	}
	kv, err := s.js.KeyValue(name)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = s.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name})
	}
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", name, err)
	}
	s.buckets[name] = kv
	return kv, nil
}

func (s *KV) Put(ctx context.Context, collection, key string, doc any) error {
	kv, err := s.bucket(collection)
	if err != nil {
		return &fleet.TransientStoreError{Op: "put", Err: err}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return &fleet.TransientStoreError{Op: "put", Err: err}
	}
	if _, err := kv.Put(keyToken(key), b); err != nil {
		return &fleet.TransientStoreError{Op: "put", Err: err}
	}
	return nil
}

func (s *KV) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	kv, err := s.bucket(collection)
	if err != nil {
		return false, &fleet.TransientStoreError{Op: "get", Err: err}
	}
	entry, err := kv.Get(keyToken(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &fleet.TransientStoreError{Op: "get", Err: err}
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return true, &fleet.TransientStoreError{Op: "get", Err: err}
	}
	return true, nil
}

func (s *KV) Delete(ctx context.Context, collection, key string) error {
	kv, err := s.bucket(collection)
	if err != nil {
		return &fleet.TransientStoreError{Op: "delete", Err: err}
	}
	err = kv.Delete(keyToken(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return &fleet.TransientStoreError{Op: "delete", Err: err}
	}
	return nil
}

func (s *KV) Subscribe(ctx context.Context, collection string, fn func(map[string]json.RawMessage)) (func(), error) {
	return s.Query(ctx, collection, nil, fn)
}

func (s *KV) Query(ctx context.Context, collection string, pred Predicate, fn func(map[string]json.RawMessage)) (func(), error) {
	kv, err := s.bucket(collection)
	if err != nil {
		return nil, &fleet.TransientStoreError{Op: "subscribe", Err: err}
	}
	w, err := kv.WatchAll()
	if err != nil {
		return nil, &fleet.TransientStoreError{Op: "subscribe", Err: err}
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = w.Stop()
			close(done)
		})
	}

	go func() {
		current := make(map[string]json.RawMessage)
		replaying := true
		for {
			select {
			case <-done:
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End of initial replay; deliver the starting set.
					replaying = false
					fn(filtered(cloneSet(current), pred))
					continue
				}
				switch entry.Operation() {
				case nats.KeyValueDelete, nats.KeyValuePurge:
					delete(current, entry.Key())
				default:
					current[entry.Key()] = json.RawMessage(entry.Value())
				}
				if !replaying {
					fn(filtered(cloneSet(current), pred))
				}
			}
		}
	}()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-done:
			}
		}()
	}
	return stop, nil
}

func cloneSet(set map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

// bucketToken sanitizes a collection name into a valid bucket name.
func bucketToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// keyToken sanitizes a record key into a valid KV key.
func keyToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
