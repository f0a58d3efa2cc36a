package fleet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vehicle(driverID string, lat float64) VehicleState {
	return VehicleState{
		DriverID:   driverID,
		DriverName: "Driver " + driverID,
		Company:    "Metro Cavite",
		RouteID:    "r1",
		BusNumber:  "BUS-001",
		Lat:        lat,
		Lng:        120.0,
		Status:     StatusDeparting,
	}
}

func TestReconcile(t *testing.T) {
	prev := Snapshot{
		"d1": vehicle("d1", 14.0),
		"d2": vehicle("d2", 14.1),
	}
	next := Snapshot{
		"d2": vehicle("d2", 14.2),
		"d3": vehicle("d3", 14.3),
	}

	d := Reconcile(prev, next)
	require.Len(t, d.Added, 1)
	require.Len(t, d.Updated, 1)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "d3", d.Added[0].DriverID)
	assert.Equal(t, "d2", d.Updated[0].DriverID)
	assert.Equal(t, 14.2, d.Updated[0].Lat)
	assert.Equal(t, "d1", d.Removed[0])
	assert.False(t, d.Empty())
}

func TestReconcileIdempotent(t *testing.T) {
	snap := Snapshot{
		"d1": vehicle("d1", 14.0),
		"d2": vehicle("d2", 14.1),
	}
	d := Reconcile(snap, snap)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	// Same key set means every member reports as updated.
	assert.Len(t, d.Updated, 2)
}

func TestReconcileEmpty(t *testing.T) {
	assert.True(t, Reconcile(Snapshot{}, Snapshot{}).Empty())

	d := Reconcile(Snapshot{}, Snapshot{"d1": vehicle("d1", 14.0)})
	assert.Len(t, d.Added, 1)

	d = Reconcile(Snapshot{"d1": vehicle("d1", 14.0)}, Snapshot{})
	assert.Equal(t, []string{"d1"}, d.Removed)
}

func TestReconcileSorted(t *testing.T) {
	next := Snapshot{
		"d3": vehicle("d3", 14.0),
		"d1": vehicle("d1", 14.0),
		"d2": vehicle("d2", 14.0),
	}
	for i := 0; i < 10; i++ {
		d := Reconcile(Snapshot{}, next)
		require.Len(t, d.Added, 3)
		assert.Equal(t, "d1", d.Added[0].DriverID)
		assert.Equal(t, "d2", d.Added[1].DriverID)
		assert.Equal(t, "d3", d.Added[2].DriverID)
	}
}

func TestFilter(t *testing.T) {
	v1 := vehicle("d1", 14.0)
	v2 := vehicle("d2", 14.1)
	v2.Company = "Saulog Transit"
	v2.BusNumber = "BUS-042"
	snap := Snapshot{"d1": v1, "d2": v2}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty matches all", "", []string{"d1", "d2"}},
		{"company case-insensitive", "saulog", []string{"d2"}},
		{"bus number", "042", []string{"d2"}},
		{"driver name", "driver d1", []string{"d1"}},
		{"route id", "r1", []string{"d1", "d2"}},
		{"no match", "zzz", nil},
		{"whitespace trimmed", "  saulog  ", []string{"d2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(snap, tt.query)
			var ids []string
			for _, v := range got {
				ids = append(ids, v.DriverID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestViewApply(t *testing.T) {
	var lastDiff Diff
	v := NewView(func(d Diff, _ Snapshot) { lastDiff = d })

	raw := map[string]json.RawMessage{
		"d1":  mustMarshal(t, vehicle("d1", 14.0)),
		"bad": json.RawMessage(`{not json`),
	}
	d := v.Apply(raw)
	// The undecodable record is dropped, the good one survives.
	require.Len(t, d.Added, 1)
	assert.Equal(t, "d1", d.Added[0].DriverID)
	assert.Equal(t, d, lastDiff)

	snap := v.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 14.0, snap["d1"].Lat)

	// Re-applying the same set adds nothing.
	d = v.Apply(raw)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Len(t, d.Updated, 1)

	d = v.Apply(map[string]json.RawMessage{})
	assert.Equal(t, []string{"d1"}, d.Removed)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
