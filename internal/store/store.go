// Package store abstracts the document store the engine synchronizes
// through: keyed records grouped in collections, with live
// subscriptions that deliver the full current member set on every
// change. All operations are fallible and asynchronous with respect to
// each other; there are no multi-key transactions.
package store

import (
	"context"
	"encoding/json"
)

// Predicate filters raw records in a Query subscription.
type Predicate func(json.RawMessage) bool

// Store is the engine's view of the external document store.
type Store interface {
	// Put creates or overwrites the record under key.
	Put(ctx context.Context, collection, key string, doc any) error
	// Get reads the record under key into out, reporting presence.
	Get(ctx context.Context, collection, key string, out any) (bool, error)
	// Delete removes the record under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, collection, key string) error
	// Subscribe invokes fn with the full current member set on every
	// change to the collection, including once with the initial set.
	// The returned stop function cancels the subscription.
	Subscribe(ctx context.Context, collection string, fn func(map[string]json.RawMessage)) (func(), error)
	// Query is a filtered live subscription: fn sees only members
	// matching pred.
	Query(ctx context.Context, collection string, pred Predicate, fn func(map[string]json.RawMessage)) (func(), error)
}

// filtered applies pred to a member set, returning the matching subset.
func filtered(set map[string]json.RawMessage, pred Predicate) map[string]json.RawMessage {
	if pred == nil {
		return set
	}
	out := make(map[string]json.RawMessage, len(set))
	for k, v := range set {
		if pred(v) {
			out[k] = v
		}
	}
	return out
}
