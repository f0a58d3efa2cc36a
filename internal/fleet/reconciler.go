package fleet

import (
	"sort"
	"strings"
)

// Snapshot is the full member set of the vehicle collection at one
// observed instant, keyed by driver id.
type Snapshot map[string]VehicleState

// Diff is the delta between two snapshots. Updated lists every key
// present in both regardless of whether fields changed; the consumer
// may no-op on identical payloads, the engine does not suppress them.
type Diff struct {
	Added   []VehicleState
	Updated []VehicleState
	Removed []string
}

// Empty reports whether the diff carries no changes at all.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Reconcile diffs next against prev. Pure and deterministic: result
// slices are sorted by driver id and neither input is mutated.
func Reconcile(prev, next Snapshot) Diff {
	var d Diff
	for id, v := range next {
		if _, ok := prev[id]; ok {
			d.Updated = append(d.Updated, v)
		} else {
			d.Added = append(d.Added, v)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].DriverID < d.Added[j].DriverID })
	sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].DriverID < d.Updated[j].DriverID })
	sort.Strings(d.Removed)
	return d
}

// Filter returns the vehicles matching a free-text query against driver
// name, company, bus number, and route id, case-insensitively. An empty
// query matches everything. Pure; the snapshot is never mutated.
func Filter(snap Snapshot, query string) []VehicleState {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]VehicleState, 0, len(snap))
	for _, v := range snap {
		if q == "" || matches(v, q) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

func matches(v VehicleState, q string) bool {
	return strings.Contains(strings.ToLower(v.DriverName), q) ||
		strings.Contains(strings.ToLower(v.Company), q) ||
		strings.Contains(strings.ToLower(v.BusNumber), q) ||
		strings.Contains(strings.ToLower(v.RouteID), q)
}
