package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/route"
	"fleet-tracker/internal/shift"
	"fleet-tracker/internal/shiftlog"
	"fleet-tracker/internal/store"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog, err := route.LoadFile(cfg.RoutesPath)
	if err != nil {
		log.WithError(err).Fatal("route catalog error")
	}
	log.WithFields(log.Fields{"routes": catalog.Len(), "companies": len(catalog.Companies())}).Info("route catalog loaded")

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TimeScale, cfg.TickInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			shutdownCtx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer scancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Document store: NATS JetStream KV, or in-memory for single-process runs.
	var st store.Store
	if cfg.NATSURL != "" {
		kv, err := store.NewKV(cfg.NATSURL, cfg.KVPrefix, mcolOrNil(mcol))
		if err != nil {
			log.WithError(err).Fatal("store error")
		}
		defer kv.Close()
		st = kv
	} else {
		log.Info("no NATS_URL set; using in-memory store")
		st = store.NewMemory()
	}

	// Optional Postgres shift-log archive
	var archive *shiftlog.Archive
	if cfg.ArchiveDSN != "" {
		archive, err = shiftlog.Open(ctx, cfg.ArchiveDSN)
		if err != nil {
			log.WithError(err).Fatal("shift log archive error")
		}
		defer archive.Close()
		log.Info("shift log archive enabled")
	}

	// Reconciling fleet view: the rendering seam, here logging diffs.
	view := fleet.NewView(func(d fleet.Diff, snap fleet.Snapshot) {
		if mcol != nil {
			mcol.FleetVehicles.Set(float64(len(snap)))
		}
		if d.Empty() {
			return
		}
		log.WithFields(log.Fields{
			"added":   len(d.Added),
			"updated": len(d.Updated),
			"removed": len(d.Removed),
			"total":   len(snap),
		}).Debug("fleet reconciled")
		for _, v := range d.Added {
			log.WithFields(log.Fields{"driver": v.DriverName, "route": v.RouteID}).Info("vehicle on duty")
		}
		for _, id := range d.Removed {
			log.WithField("driver_id", id).Info("vehicle off duty")
		}
	})
	stopView, err := view.Watch(ctx, st)
	if err != nil {
		log.WithError(err).Fatal("fleet subscription error")
	}
	defer stopView()

	sessions := startFleet(ctx, cfg, catalog, st, archive, mcol)

	// Block until context cancelled
	<-ctx.Done()

	// Graceful shutdown: end every shift so no vehicle stays visible.
	endCtx, ecancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ecancel()
	for _, s := range sessions {
		if s.State() == shift.StateActive {
			if err := s.EndShift(endCtx); err != nil {
				log.WithError(err).Warn("end shift on shutdown")
			}
		}
	}
	log.Info("shutdown complete")
}

func mcolOrNil(c *metrics.Collector) store.ConnMetrics {
	if c == nil {
		return nil
	}
	return c
}

func archiveReader(a *shiftlog.Archive) shift.ShiftLogReader {
	if a == nil {
		return nil
	}
	return a
}

// startFleet launches the demo fleet: one simulated driver session per
// vehicle, round-robin across routes. Under the approval policy each
// request is resolved by a demo operator before the session resumes.
func startFleet(ctx context.Context, cfg *config.Config, catalog *route.Catalog, st store.Store, archive *shiftlog.Archive, mcol *metrics.Collector) []*shift.Session {
	routes := catalog.Routes()
	if len(routes) == 0 || cfg.FleetSize == 0 {
		return nil
	}

	shiftCfg := shift.Config{
		RequireApproval:    cfg.RequireApproval,
		WriteShiftLogs:     cfg.WriteShiftLogs,
		ReverseNextStop:    cfg.ReverseNextStop,
		TickInterval:       cfg.TickInterval,
		AccuracyMaxM:       cfg.AccuracyMaxM,
		MinPublishInterval: cfg.MinPublishInterval,
	}
	shiftCfg.Tunables.DefaultSpeedLimit = cfg.DefaultSpeedLimit
	shiftCfg.Tunables.Smoothing = cfg.Smoothing
	shiftCfg.Tunables.TimeScale = cfg.TimeScale
	shiftCfg.Tunables.TickSeconds = cfg.TickInterval.Seconds()

	operator := shift.NewOperator(st, catalog, archiveReader(archive), mcol)
	opIdent := fleet.Identity{ID: "op-demo", Role: fleet.RoleOperator, Company: cfg.Company}

	var sessions []*shift.Session
	for i := 0; i < cfg.FleetSize; i++ {
		r := routes[i%len(routes)]
		ident := fleet.Identity{ID: fmt.Sprintf("driver-%d", i+1), Role: fleet.RoleDriver, Company: cfg.Company}
		s := shift.NewSession(shift.SessionParams{
			Identity:   ident,
			DriverName: fmt.Sprintf("Demo Driver %d", i+1),
			Catalog:    catalog,
			Store:      st,
			Config:     shiftCfg,
			Archive:    archive,
			Metrics:    mcol,
		})
		desc := shift.Descriptor{
			BusNumber:   fmt.Sprintf("BUS-%03d", i+1),
			PlateNumber: fmt.Sprintf("XYZ-%04d", 1000+i),
		}

		if cfg.RequireApproval {
			if err := s.RequestShift(ctx, r.ID, desc); err != nil {
				log.WithError(err).WithField("driver_id", ident.ID).Error("request shift")
				continue
			}
			if err := operator.Approve(ctx, opIdent, ident.ID); err != nil {
				log.WithError(err).WithField("driver_id", ident.ID).Error("approve shift")
				continue
			}
			if _, err := s.Resume(ctx); err != nil {
				log.WithError(err).WithField("driver_id", ident.ID).Error("resume shift")
				continue
			}
		} else {
			if err := s.StartShift(ctx, r.ID, desc); err != nil {
				log.WithError(err).WithField("driver_id", ident.ID).Error("start shift")
				continue
			}
		}
		sessions = append(sessions, s)
	}
	log.WithField("active", len(sessions)).Info("demo fleet started")
	return sessions
}
