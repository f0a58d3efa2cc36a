package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Drop reasons recorded on tracker_samples_dropped_total.
const (
	DropInactive    = "inactive"
	DropAccuracy    = "accuracy"
	DropRateLimited = "rate_limited"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveShifts  prometheus.Gauge
	FleetVehicles prometheus.Gauge

	ShiftsStarted   prometheus.Counter
	ShiftsEnded     prometheus.Counter
	ShiftsRequested prometheus.Counter
	ShiftsApproved  prometheus.Counter
	ShiftsRejected  prometheus.Counter

	SamplesPublished prometheus.Counter
	SamplesDropped   *prometheus.CounterVec // reason label: inactive|accuracy|rate_limited
	PublishErrs      prometheus.Counter
	StoreConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	TimeScale    prometheus.Gauge
	TickInterval prometheus.Gauge // seconds
}

func NewCollector(timeScale float64, tickInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveShifts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_shifts",
			Help: "Number of currently active driver shifts in this process.",
		}),
		FleetVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_fleet_vehicles",
			Help: "Vehicles present in the last reconciled fleet snapshot.",
		}),
		ShiftsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_shifts_started_total",
			Help: "Total shifts started.",
		}),
		ShiftsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_shifts_ended_total",
			Help: "Total shifts ended.",
		}),
		ShiftsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_shifts_requested_total",
			Help: "Total shift requests submitted.",
		}),
		ShiftsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_shifts_approved_total",
			Help: "Total shift requests approved by an operator.",
		}),
		ShiftsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_shifts_rejected_total",
			Help: "Total shift requests rejected by an operator.",
		}),
		SamplesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_samples_published_total",
			Help: "Total position samples forwarded to the store.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_samples_dropped_total",
			Help: "Total position samples dropped before publishing.",
		}, []string{"reason"}),
		PublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_publish_errors_total",
			Help: "Total store write failures while publishing samples.",
		}),
		StoreConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_store_connected",
			Help: "1 if the document store connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and write a vehicle record.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TimeScale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_time_scale",
			Help: "Current simulation time-scale factor.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tick_interval_seconds",
			Help: "Simulation tick interval in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.ActiveShifts, c.FleetVehicles,
		c.ShiftsStarted, c.ShiftsEnded,
		c.ShiftsRequested, c.ShiftsApproved, c.ShiftsRejected,
		c.SamplesPublished, c.SamplesDropped, c.PublishErrs, c.StoreConnected,
		c.TickDuration, c.PublishDuration,
		c.TimeScale, c.TickInterval,
	)

	c.TimeScale.Set(timeScale)
	c.TickInterval.Set(tickInterval.Seconds())

	return c
}

// StoreSetConnected satisfies the store's connectivity metrics hook.
func (c *Collector) StoreSetConnected(connected bool) {
	if connected {
		c.StoreConnected.Set(1)
	} else {
		c.StoreConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server error")
		}
	}()
	log.WithField("addr", addr).Info("metrics listening")
	return srv
}
