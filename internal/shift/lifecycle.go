// Package shift owns the driver shift lifecycle: the state machine
// from idle through an optional approval gate to an active, position-
// reporting session, and back. All formerly ambient state (current
// user, timers, locks) lives in an explicit Session owned by the
// caller.
package shift

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/route"
	"fleet-tracker/internal/shiftlog"
	"fleet-tracker/internal/sim"
	"fleet-tracker/internal/store"
	"fleet-tracker/internal/telemetry"
)

// State of a driver session.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrApprovalRequired is returned by StartShift when the deployment
	// gates activation behind operator approval.
	ErrApprovalRequired = errors.New("shift requires operator approval")
	// ErrNoActiveShift is returned by actions that need an active shift.
	ErrNoActiveShift = errors.New("no active shift")
	// ErrRequestPending is returned by RequestShift while an earlier
	// request is still unresolved.
	ErrRequestPending = errors.New("shift request already pending")
)

// Config selects the deployment policy variants.
type Config struct {
	// RequireApproval gates activation behind an operator decision.
	// When false the Idle -> Active edge is taken directly.
	RequireApproval bool
	// WriteShiftLogs writes START/END entries to the store's shift_logs
	// collection (and to the Postgres archive when one is attached).
	WriteShiftLogs bool
	// ReverseNextStop makes next-stop labeling follow the direction
	// flag; when false the label ignores direction.
	ReverseNextStop bool

	// TickInterval is the wall-clock simulation tick (default 1s).
	TickInterval time.Duration
	// Tunables parameterize the position simulator.
	Tunables sim.Tunables
	// AccuracyMaxM is the sensor accuracy gate in meters (default 50).
	AccuracyMaxM float64
	// MinPublishInterval rate-limits store writes; zero disables.
	MinPublishInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Sensor is a physical location source. Watch streams samples into out
// until ctx is cancelled; it returns fleet.ErrSensorUnavailable when
// the host has no location capability.
type Sensor interface {
	Watch(ctx context.Context, out chan<- fleet.Sample) error
}

// Descriptor identifies the physical vehicle a driver takes on shift.
type Descriptor struct {
	BusNumber   string
	PlateNumber string
}

// SessionParams collects everything a Session depends on. Sensor,
// WakeLock, Archive, Metrics, and Rand may be nil.
type SessionParams struct {
	Identity   fleet.Identity
	DriverName string
	Catalog    *route.Catalog
	Store      store.Store
	Config     Config
	Sensor     Sensor
	WakeLock   WakeLock
	Archive    *shiftlog.Archive
	Metrics    *metrics.Collector
	Rand       rand.Source
}

// Session is one driver's explicit lifecycle context, created on login
// and destroyed on logout. It is the single writer of that driver's
// vehicle record.
type Session struct {
	ident    fleet.Identity
	name     string
	catalog  *route.Catalog
	store    store.Store
	cfg      Config
	sensor   Sensor
	wake     WakeLock
	archive  *shiftlog.Archive
	m        *metrics.Collector
	validate *validator.Validate
	rng      *rand.Rand

	mu        sync.Mutex
	state     State
	routeID   string
	curRoute  route.Route
	desc      Descriptor
	pax       int
	isReverse bool
	status    string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession builds an idle session for the given driver identity.
func NewSession(p SessionParams) *Session {
	if p.WakeLock == nil {
		p.WakeLock = NopWakeLock{}
	}
	src := p.Rand
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Session{
		ident:    p.Identity,
		name:     p.DriverName,
		catalog:  p.Catalog,
		store:    p.Store,
		cfg:      p.Config.withDefaults(),
		sensor:   p.Sensor,
		wake:     p.WakeLock,
		archive:  p.Archive,
		m:        p.Metrics,
		validate: validator.New(),
		rng:      rand.New(src),
	}
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active implements telemetry.Source.
func (s *Session) Active() bool { return s.State() == StateActive }

// Template implements telemetry.Source: the identity and shift fields
// of the vehicle record, with position left for the publisher to fill.
func (s *Session) Template() (fleet.VehicleState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fleet.VehicleState{}, false
	}
	return fleet.VehicleState{
		DriverID:    s.ident.ID,
		DriverName:  s.name,
		Company:     s.ident.Company,
		RouteID:     s.routeID,
		BusNumber:   s.desc.BusNumber,
		PlateNumber: s.desc.PlateNumber,
		Status:      s.status,
		Pax:         s.pax,
		IsReverse:   s.isReverse,
	}, true
}

// StopLabel implements telemetry.Source.
func (s *Session) StopLabel(nextIndex int, reverse bool) string {
	s.mu.Lock()
	r := s.curRoute
	follow := reverse && s.cfg.ReverseNextStop
	s.mu.Unlock()
	return r.StopLabel(nextIndex, follow)
}

// RequestShift writes a pending shift request for this driver. The
// request is keyed by driver id, so at most one can exist.
func (s *Session) RequestShift(ctx context.Context, routeID string, desc Descriptor) error {
	if s.ident.Role != fleet.RoleDriver {
		return &fleet.AuthorizationError{Identity: s.ident, Action: "requestShift"}
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateActive:
		return ErrRequestPending
	case StateRequested:
		// The operator may have rejected the request since it was
		// written; only a request still in the store blocks a new one.
		var prev fleet.ShiftRequest
		found, err := s.store.Get(ctx, fleet.CollectionRequests, s.ident.ID, &prev)
		if err != nil {
			return err
		}
		if found {
			return ErrRequestPending
		}
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		log.WithField("driver_id", s.ident.ID).Info("previous shift request resolved; requesting again")
	}

	req := fleet.ShiftRequest{
		DriverID:    s.ident.ID,
		DriverName:  s.name,
		Company:     s.ident.Company,
		BusNumber:   desc.BusNumber,
		PlateNumber: desc.PlateNumber,
		RouteID:     routeID,
		Status:      fleet.RequestPending,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := s.validateRequest(req); err != nil {
		return err
	}
	if _, ok := s.catalog.Route(routeID); !ok {
		return &fleet.ValidationError{Field: "routeId", Reason: fmt.Sprintf("unknown route %q", routeID)}
	}

	if err := s.store.Put(ctx, fleet.CollectionRequests, s.ident.ID, req); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateRequested
	s.routeID = routeID
	s.desc = desc
	s.mu.Unlock()
	if s.m != nil {
		s.m.ShiftsRequested.Inc()
	}
	log.WithFields(log.Fields{"driver_id": s.ident.ID, "route_id": routeID}).Info("shift requested")
	return nil
}

func (s *Session) validateRequest(req fleet.ShiftRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &fleet.ValidationError{Field: verrs[0].Field(), Reason: "required"}
	}
	return &fleet.ValidationError{Field: "request", Reason: err.Error()}
}

// Resume completes the Requested -> Active edge on the driver's side:
// if an operator has created this driver's vehicle record, the feed is
// started against it. Also restores an active shift after a process
// restart, and drops a rejected request back to idle. Returns whether a
// shift is now active.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	var v fleet.VehicleState
	found, err := s.store.Get(ctx, fleet.CollectionVehicles, s.ident.ID, &v)
	if err != nil {
		return false, err
	}
	if !found {
		s.mu.Lock()
		requested := s.state == StateRequested
		s.mu.Unlock()
		if requested {
			var req fleet.ShiftRequest
			reqFound, rerr := s.store.Get(ctx, fleet.CollectionRequests, s.ident.ID, &req)
			if rerr != nil {
				return false, rerr
			}
			if !reqFound {
				// No vehicle record and no pending request: the
				// operator rejected it.
				s.mu.Lock()
				if s.state == StateRequested {
					s.state = StateIdle
				}
				s.mu.Unlock()
				log.WithField("driver_id", s.ident.ID).Info("shift request was rejected")
			}
		}
		return false, nil
	}
	r, ok := s.catalog.Route(v.RouteID)
	if !ok {
		return false, &fleet.ValidationError{Field: "routeId", Reason: fmt.Sprintf("unknown route %q", v.RouteID)}
	}
	s.mu.Lock()
	if s.state == StateActive {
		s.mu.Unlock()
		return true, nil
	}
	s.routeID = v.RouteID
	s.curRoute = r
	s.desc = Descriptor{BusNumber: v.BusNumber, PlateNumber: v.PlateNumber}
	s.pax = v.Pax
	s.isReverse = v.IsReverse
	s.status = v.Status
	s.mu.Unlock()

	if err := s.wake.Acquire(); err != nil {
		log.WithError(err).Warn("wake lock unavailable")
	}
	s.activate(r)
	if s.m != nil {
		s.m.ActiveShifts.Inc()
	}
	log.WithFields(log.Fields{"driver_id": s.ident.ID, "route_id": v.RouteID}).Info("shift resumed")
	return true, nil
}

// StartShift takes the direct Idle -> Active edge available when no
// approval gate is configured. Starting over an already active shift
// overwrites the existing record rather than duplicating it.
func (s *Session) StartShift(ctx context.Context, routeID string, desc Descriptor) error {
	if s.ident.Role != fleet.RoleDriver {
		return &fleet.AuthorizationError{Identity: s.ident, Action: "startShift"}
	}
	if s.cfg.RequireApproval {
		return ErrApprovalRequired
	}
	req := fleet.ShiftRequest{
		DriverID:    s.ident.ID,
		BusNumber:   desc.BusNumber,
		PlateNumber: desc.PlateNumber,
		RouteID:     routeID,
	}
	if err := s.validateRequest(req); err != nil {
		return err
	}
	r, ok := s.catalog.Route(routeID)
	if !ok {
		return &fleet.ValidationError{Field: "routeId", Reason: fmt.Sprintf("unknown route %q", routeID)}
	}

	// Keyed by driver id: a restart stops the previous feed and the
	// Put below overwrites the record in place.
	wasActive := s.Active()
	if wasActive {
		s.stopFeed()
	}

	if err := s.wake.Acquire(); err != nil {
		log.WithError(err).Warn("wake lock unavailable")
	}

	pax := s.rng.Intn(30)
	v := fleet.VehicleState{
		DriverID:    s.ident.ID,
		DriverName:  s.name,
		Company:     s.ident.Company,
		RouteID:     routeID,
		BusNumber:   desc.BusNumber,
		PlateNumber: desc.PlateNumber,
		Lat:         r.Path[0].Lat,
		Lng:         r.Path[0].Lng,
		SpeedKmh:    0,
		Status:      fleet.StatusDeparting,
		Pax:         pax,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := s.store.Put(ctx, fleet.CollectionVehicles, s.ident.ID, v); err != nil {
		s.wake.Release()
		if wasActive {
			// The previous feed is already stopped; the session drops
			// to idle so Active never reports a shift with no producer
			// running.
			s.mu.Lock()
			s.state = StateIdle
			s.mu.Unlock()
			if s.m != nil {
				s.m.ActiveShifts.Dec()
			}
		}
		return err
	}

	s.mu.Lock()
	s.routeID = routeID
	s.curRoute = r
	s.desc = desc
	s.pax = pax
	s.isReverse = false
	s.status = fleet.StatusDeparting
	s.mu.Unlock()

	s.logShift(ctx, shiftlog.TypeStart)
	s.activate(r)

	if s.m != nil {
		s.m.ShiftsStarted.Inc()
		if !wasActive {
			s.m.ActiveShifts.Inc()
		}
	}
	log.WithFields(log.Fields{"driver_id": s.ident.ID, "route_id": routeID}).Info("shift started")
	return nil
}

// activate marks the session active and starts the sample feed: one
// producer (sensor, simulator on fallback) and one publisher consumer
// sharing a bounded channel.
func (s *Session) activate(r route.Route) {
	ctx, cancel := context.WithCancel(context.Background())
	samples := make(chan fleet.Sample, 16)

	pub := telemetry.New(s.store, s, collectorHooks{s.m}, s.cfg.AccuracyMaxM, s.cfg.MinPublishInterval)

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateActive
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.produce(ctx, r, samples)
	}()
	go func() {
		defer s.wg.Done()
		pub.Run(ctx, samples)
	}()
}

func (s *Session) produce(ctx context.Context, r route.Route, out chan<- fleet.Sample) {
	if s.sensor != nil {
		err := s.sensor.Watch(ctx, out)
		if ctx.Err() != nil {
			return
		}
		// Any early return, clean or not, hands the feed to the
		// simulator while the shift stays active.
		switch {
		case err == nil:
			log.WithField("driver_id", s.ident.ID).Info("sensor stream ended; simulating position")
		case errors.Is(err, fleet.ErrSensorUnavailable):
			log.WithField("driver_id", s.ident.ID).Info("no location sensor; simulating position")
		default:
			log.WithError(err).WithField("driver_id", s.ident.ID).Warn("sensor failed; switching to simulation")
		}
	}
	simulator := sim.New(r, s.cfg.Tunables, rand.NewSource(s.rng.Int63()))
	if s.m != nil {
		simulator.OnTick = func(d time.Duration) { s.m.TickDuration.Observe(d.Seconds()) }
	}
	simulator.Run(ctx, s.cfg.TickInterval, out)
}

// stopFeed synchronously cancels the producers and consumer. No sample
// is published after it returns; an in-flight store write landing later
// is the documented benign race.
func (s *Session) stopFeed() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// EndShift stops the feed, releases the wake lock, and removes the
// vehicle record.
func (s *Session) EndShift(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNoActiveShift
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.stopFeed()
	s.wake.Release()

	if s.m != nil {
		s.m.ShiftsEnded.Inc()
		s.m.ActiveShifts.Dec()
	}
	s.logShift(ctx, shiftlog.TypeEnd)

	if err := s.store.Delete(ctx, fleet.CollectionVehicles, s.ident.ID); err != nil {
		log.WithError(err).WithField("driver_id", s.ident.ID).Warn("vehicle record removal failed")
		return err
	}
	log.WithField("driver_id", s.ident.ID).Info("shift ended")
	return nil
}

// ToggleDirection flips the direction flag on the live record, marking
// the return leg without ending the shift.
func (s *Session) ToggleDirection(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNoActiveShift
	}
	s.isReverse = !s.isReverse
	rev := s.isReverse
	s.mu.Unlock()

	var v fleet.VehicleState
	found, err := s.store.Get(ctx, fleet.CollectionVehicles, s.ident.ID, &v)
	if err != nil {
		return err
	}
	if !found {
		// Record briefly absent (e.g. superseded delete); the next
		// accepted sample recreates it with the new flag.
		return nil
	}
	v.IsReverse = rev
	v.Timestamp = time.Now().UnixMilli()
	return s.store.Put(ctx, fleet.CollectionVehicles, s.ident.ID, v)
}

// logShift records a START/END entry in the store collection and the
// Postgres archive, when configured. Failures never block the shift
// transition.
func (s *Session) logShift(ctx context.Context, typ string) {
	if !s.cfg.WriteShiftLogs {
		return
	}
	e := shiftlog.Entry{
		Type:       typ,
		DriverID:   s.ident.ID,
		DriverName: s.name,
		Company:    s.ident.Company,
		At:         time.Now(),
	}
	key := fmt.Sprintf("%s-%d", s.ident.ID, e.At.UnixNano())
	if err := s.store.Put(ctx, fleet.CollectionShiftLogs, key, e); err != nil {
		log.WithError(err).Warn("shift log write failed")
	}
	if s.archive != nil {
		if err := s.archive.Record(ctx, e); err != nil {
			log.WithError(err).Warn("shift log archive failed")
		}
	}
}

// collectorHooks adapts the prometheus collector to the publisher's
// metrics interface; the zero collector disables every hook.
type collectorHooks struct {
	c *metrics.Collector
}

func (h collectorHooks) SamplePublished() {
	if h.c != nil {
		h.c.SamplesPublished.Inc()
	}
}

func (h collectorHooks) SampleDropped(reason string) {
	if h.c != nil {
		h.c.SamplesDropped.WithLabelValues(reason).Inc()
	}
}

func (h collectorHooks) PublishErr() {
	if h.c != nil {
		h.c.PublishErrs.Inc()
	}
}

func (h collectorHooks) PublishObserve(d time.Duration) {
	if h.c != nil {
		h.c.PublishDuration.Observe(d.Seconds())
	}
}
