// Package sim advances simulated vehicles along route geometry. It is
// the position source used whenever no physical location sensor is
// available.
package sim

import (
	"context"
	"math/rand"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/route"
)

// Tunables for one simulated vehicle. Zero values are replaced by the
// defaults below; PerturbProb < 0 disables traffic noise entirely.
type Tunables struct {
	DefaultSpeedLimit float64 // km/h cap outside all traffic zones
	Smoothing         float64 // EMA factor alpha; higher reacts slower
	TickSeconds       float64 // simulated seconds per tick before scaling
	TimeScale         float64 // accelerated-time multiplier
	PerturbProb       float64 // chance of a traffic-noise speed offset
	PerturbRange      float64 // offset drawn uniformly from +-range km/h
}

const (
	defaultSpeedLimit = 70.0
	defaultSmoothing  = 0.8
	defaultTick       = 1.0
	defaultTimeScale  = 5.0
	defaultPerturb    = 0.2
	defaultRange      = 10.0

	// kmPerDegree approximates one degree of latitude, applied to both
	// axes. Matches the route data's planar convention.
	kmPerDegree = 111.0
)

func (t Tunables) withDefaults() Tunables {
	if t.DefaultSpeedLimit <= 0 {
		t.DefaultSpeedLimit = defaultSpeedLimit
	}
	if t.Smoothing <= 0 {
		t.Smoothing = defaultSmoothing
	}
	if t.TickSeconds <= 0 {
		t.TickSeconds = defaultTick
	}
	if t.TimeScale <= 0 {
		t.TimeScale = defaultTimeScale
	}
	if t.PerturbProb == 0 {
		t.PerturbProb = defaultPerturb
	} else if t.PerturbProb < 0 {
		t.PerturbProb = 0
	}
	if t.PerturbRange <= 0 {
		t.PerturbRange = defaultRange
	}
	return t
}

// Cursor is the simulator's progress marker along a route: current
// position, the waypoint being approached, and the smoothed speed.
// Owned exclusively by one Simulator for the duration of a shift.
type Cursor struct {
	Pos       route.LatLng
	NextIndex int
	Speed     float64
}

// Simulator advances one vehicle's cursor along its route each tick.
type Simulator struct {
	route  route.Route
	cursor Cursor
	tun    Tunables
	rng    *rand.Rand
	now    func() time.Time

	// OnTick, when set, receives the wall-clock cost of each tick
	// computed inside Run.
	OnTick func(time.Duration)
}

// New places a simulator at the route's first waypoint, heading for the
// second, at rest. src seeds the traffic-noise source; pass a fixed
// seed for deterministic runs.
func New(r route.Route, tun Tunables, src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Simulator{
		route: r,
		cursor: Cursor{
			Pos:       r.Path[0],
			NextIndex: 1 % len(r.Path),
			Speed:     0,
		},
		tun: tun.withDefaults(),
		rng: rand.New(src),
		now: time.Now,
	}
}

// Cursor returns the current cursor.
func (s *Simulator) Cursor() Cursor { return s.cursor }

// Tick advances the cursor by one step of simulated travel and returns
// the resulting sample. Samples carry Accuracy -1 so the publisher
// never accuracy-gates them.
func (s *Simulator) Tick() fleet.Sample {
	target := s.route.Path[s.cursor.NextIndex]
	dist := route.Distance(s.cursor.Pos, target)

	// Zone cap, then traffic noise, then EMA smoothing.
	targetSpeed := s.route.SpeedLimitAt(s.cursor.Pos, s.tun.DefaultSpeedLimit)
	if s.rng.Float64() < s.tun.PerturbProb {
		targetSpeed += s.rng.Float64()*2*s.tun.PerturbRange - s.tun.PerturbRange
	}
	alpha := s.tun.Smoothing
	s.cursor.Speed = s.cursor.Speed*alpha + targetSpeed*(1-alpha)

	step := s.cursor.Speed / kmPerDegree / 3600 * s.tun.TickSeconds * s.tun.TimeScale

	if dist < step || dist == 0 {
		// Snap to the waypoint and advance; a zero-length segment is
		// treated as already arrived so the interpolation below can
		// never divide by zero.
		s.cursor.Pos = target
		s.cursor.NextIndex = (s.cursor.NextIndex + 1) % len(s.route.Path)
		if s.cursor.NextIndex == 0 {
			// Loop boundary: reset exactly to the first waypoint so no
			// drift accumulates across laps.
			s.cursor.Pos = s.route.Path[0]
		}
	} else {
		ratio := step / dist
		s.cursor.Pos.Lat += (target.Lat - s.cursor.Pos.Lat) * ratio
		s.cursor.Pos.Lng += (target.Lng - s.cursor.Pos.Lng) * ratio
	}

	return fleet.Sample{
		Lat:       s.cursor.Pos.Lat,
		Lng:       s.cursor.Pos.Lng,
		SpeedKmh:  s.cursor.Speed,
		Accuracy:  -1,
		NextIndex: s.cursor.NextIndex,
		Time:      s.now(),
	}
}

// Run ticks the simulator at the given wall-clock interval and feeds
// samples into out until ctx is cancelled. It never sends after the
// cancellation is observed and never closes out (the channel may be
// shared with a sensor producer).
func (s *Simulator) Run(ctx context.Context, interval time.Duration, out chan<- fleet.Sample) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			sample := s.Tick()
			if s.OnTick != nil {
				s.OnTick(time.Since(start))
			}
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}
}
