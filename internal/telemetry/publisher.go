// Package telemetry gates position samples and forwards accepted ones
// to the document store as vehicle state updates. It is agnostic to the
// sample source: simulator and sensor feed the same channel.
package telemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/store"
)

// Metrics receives publish-path signals. Nil-safe at every call site.
type Metrics interface {
	SamplePublished()
	SampleDropped(reason string)
	PublishErr()
	PublishObserve(d time.Duration)
}

// Source is the shift context the publisher stamps onto each sample.
// Implemented by the driver session.
type Source interface {
	// Active reports whether the shift is currently active.
	Active() bool
	// Template returns the vehicle record carrying identity and shift
	// fields; the publisher fills position, speed, next stop, and
	// timestamp. ok is false when no shift is active.
	Template() (v fleet.VehicleState, ok bool)
	// StopLabel names the stop ahead of the given cursor index.
	StopLabel(nextIndex int, reverse bool) string
}

// Publisher forwards accepted samples to the store. Samples are dropped
// silently when the shift is not active, when a sensor sample's
// accuracy radius exceeds the threshold, or when they arrive faster
// than the minimum publish interval. A failed forward is logged and
// superseded by the next sample; there is no retry.
type Publisher struct {
	store       store.Store
	src         Source
	m           Metrics
	accuracyMax float64
	minInterval time.Duration
	lastPut     time.Time
}

const defaultAccuracyMax = 50.0

// New builds a publisher. accuracyMax <= 0 selects the 50 m default;
// minInterval <= 0 disables rate limiting.
func New(st store.Store, src Source, m Metrics, accuracyMax float64, minInterval time.Duration) *Publisher {
	if accuracyMax <= 0 {
		accuracyMax = defaultAccuracyMax
	}
	return &Publisher{store: st, src: src, m: m, accuracyMax: accuracyMax, minInterval: minInterval}
}

// Publish gates one sample and, if accepted, writes the resulting
// vehicle record. The returned error is the store failure, already
// logged; gated drops return nil.
func (p *Publisher) Publish(ctx context.Context, s fleet.Sample) error {
	if !p.src.Active() {
		p.drop(metrics.DropInactive)
		return nil
	}
	if !s.Simulated() && s.Accuracy > p.accuracyMax {
		p.drop(metrics.DropAccuracy)
		return nil
	}
	if p.minInterval > 0 && !p.lastPut.IsZero() && s.Time.Sub(p.lastPut) < p.minInterval {
		p.drop(metrics.DropRateLimited)
		return nil
	}

	v, ok := p.src.Template()
	if !ok {
		p.drop(metrics.DropInactive)
		return nil
	}
	v.Lat = s.Lat
	v.Lng = s.Lng
	v.SpeedKmh = s.SpeedKmh
	v.Timestamp = s.Time.UnixMilli()
	if s.Simulated() && s.NextIndex >= 0 {
		v.NextStop = p.src.StopLabel(s.NextIndex, v.IsReverse)
	} else {
		v.NextStop = "In Transit"
	}

	start := time.Now()
	err := p.store.Put(ctx, fleet.CollectionVehicles, v.DriverID, v)
	if p.m != nil {
		p.m.PublishObserve(time.Since(start))
	}
	if err != nil {
		if p.m != nil {
			p.m.PublishErr()
		}
		log.WithError(err).WithField("driver_id", v.DriverID).Warn("vehicle update failed; next sample supersedes")
		return err
	}
	p.lastPut = s.Time
	if p.m != nil {
		p.m.SamplePublished()
	}
	return nil
}

// Run consumes samples until ctx is cancelled or in is closed.
func (p *Publisher) Run(ctx context.Context, in <-chan fleet.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			_ = p.Publish(ctx, s)
		}
	}
}

func (p *Publisher) drop(reason string) {
	if p.m != nil {
		p.m.SampleDropped(reason)
	}
}
