package route

import "math"

// LatLng is a position in raw WGS84 degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrafficZone is a circular geofence imposing a local speed cap.
// Radius is expressed in degrees, matching the route geometry.
type TrafficZone struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Radius     float64 `json:"radius"`
	SpeedLimit float64 `json:"speedLimit"`
}

// Contains reports whether p falls inside the zone. The test is planar
// Euclidean on raw degrees, with a strict < on the radius; this matches
// the zone data, which was authored against the same approximation.
func (z TrafficZone) Contains(p LatLng) bool {
	return Distance(p, LatLng{Lat: z.Lat, Lng: z.Lng}) < z.Radius
}

// Route is one fixed line of the network. Immutable after catalog load.
type Route struct {
	ID    string
	Name  string
	Path  []LatLng
	Stops []string
	Color string
	Zones []TrafficZone
}

// Distance returns the planar Euclidean distance between two positions
// in degrees. Not geodesic; acceptable at the regional extents the
// catalog covers, and relied on by the simulator's step math.
func Distance(a, b LatLng) float64 {
	dLat := a.Lat - b.Lat
	dLng := a.Lng - b.Lng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// SpeedLimitAt returns the speed cap in km/h applying at p. Zones are
// checked in declared order and the last containing zone wins; outside
// all zones the supplied default applies.
func (r Route) SpeedLimitAt(p LatLng, def float64) float64 {
	limit := def
	for _, z := range r.Zones {
		if z.Contains(p) {
			limit = z.SpeedLimit
		}
	}
	return limit
}

// StopLabel maps the cursor's next waypoint index to a named stop. The
// index is scaled onto the stop list proportionally along the path;
// past the end it falls back to "Base". When reverse is set the index
// is mirrored so the label reads against the direction of travel.
func (r Route) StopLabel(nextIndex int, reverse bool) string {
	if len(r.Stops) == 0 || len(r.Path) == 0 {
		return "Base"
	}
	idx := nextIndex
	if reverse {
		idx = len(r.Path) - 1 - nextIndex
		if idx < 0 {
			idx = 0
		}
	}
	i := int(float64(idx) / float64(len(r.Path)) * float64(len(r.Stops)))
	if i < 0 || i >= len(r.Stops) {
		return "Base"
	}
	return r.Stops[i]
}
