package fleet

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Subscriber is the slice of the document store the view needs: a live
// subscription delivering the full current member set on every change.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, fn func(map[string]json.RawMessage)) (func(), error)
}

// View maintains a reconciled local copy of the vehicle collection.
// Rendering and filtering consume the diffs it emits; the view itself
// performs no side effects beyond bookkeeping. Snapshots may arrive
// out of order or superseded; reconciliation keys purely on content.
type View struct {
	mu   sync.Mutex
	prev Snapshot
	fn   func(Diff, Snapshot)
}

// NewView returns a view delivering each reconciled diff and the
// snapshot it was computed from to fn.
func NewView(fn func(Diff, Snapshot)) *View {
	return &View{prev: Snapshot{}, fn: fn}
}

// Apply reconciles one raw snapshot against the previously observed
// state and returns the diff. Records that fail to decode are dropped
// from the snapshot rather than failing the whole reconciliation.
func (v *View) Apply(raw map[string]json.RawMessage) Diff {
	next := make(Snapshot, len(raw))
	for id, data := range raw {
		var vs VehicleState
		if err := json.Unmarshal(data, &vs); err != nil {
			log.WithError(err).WithField("driver_id", id).Warn("dropping undecodable vehicle record")
			continue
		}
		next[id] = vs
	}

	v.mu.Lock()
	d := Reconcile(v.prev, next)
	v.prev = next
	v.mu.Unlock()

	if v.fn != nil {
		v.fn(d, next)
	}
	return d
}

// Snapshot returns a copy of the last observed member set.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(Snapshot, len(v.prev))
	for k, val := range v.prev {
		out[k] = val
	}
	return out
}

// Watch subscribes the view to the vehicle collection. The returned
// stop function cancels the subscription.
func (v *View) Watch(ctx context.Context, sub Subscriber) (func(), error) {
	return sub.Subscribe(ctx, CollectionVehicles, func(raw map[string]json.RawMessage) {
		v.Apply(raw)
	})
}
