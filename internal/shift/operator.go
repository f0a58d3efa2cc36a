package shift

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/route"
	"fleet-tracker/internal/shiftlog"
	"fleet-tracker/internal/store"
)

// ShiftLogReader lists archived shift events. Satisfied by
// *shiftlog.Archive.
type ShiftLogReader interface {
	Recent(ctx context.Context, company string, limit int) ([]shiftlog.Entry, error)
}

// Operator resolves pending shift requests. Actions are keyed by the
// requesting driver's id and require an operator identity from the same
// company.
type Operator struct {
	store   store.Store
	catalog *route.Catalog
	logs    ShiftLogReader
	m       *metrics.Collector
}

// NewOperator builds the operator-side lifecycle handle. logs may be
// nil when no archive is configured.
func NewOperator(st store.Store, cat *route.Catalog, logs ShiftLogReader, m *metrics.Collector) *Operator {
	return &Operator{store: st, catalog: cat, logs: logs, m: m}
}

// Approve activates a pending request: the vehicle record is created at
// the route's first waypoint, then the request is deleted. The two
// writes are independent; if the delete fails the request stays visible
// even though the vehicle is already active, and retrying Approve is
// safe. Approving an absent request is a no-op.
func (o *Operator) Approve(ctx context.Context, ident fleet.Identity, driverID string) error {
	if ident.Role != fleet.RoleOperator {
		return &fleet.AuthorizationError{Identity: ident, Action: "operatorApprove"}
	}

	var req fleet.ShiftRequest
	found, err := o.store.Get(ctx, fleet.CollectionRequests, driverID, &req)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if req.Company != ident.Company {
		return &fleet.AuthorizationError{Identity: ident, Action: "operatorApprove"}
	}

	var lat, lng float64
	if r, ok := o.catalog.Route(req.RouteID); ok {
		lat, lng = r.Path[0].Lat, r.Path[0].Lng
	}
	v := fleet.VehicleState{
		DriverID:    req.DriverID,
		DriverName:  req.DriverName,
		Company:     req.Company,
		RouteID:     req.RouteID,
		BusNumber:   req.BusNumber,
		PlateNumber: req.PlateNumber,
		Lat:         lat,
		Lng:         lng,
		Status:      fleet.StatusDeparting,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := o.store.Put(ctx, fleet.CollectionVehicles, req.DriverID, v); err != nil {
		return err
	}
	if err := o.store.Delete(ctx, fleet.CollectionRequests, driverID); err != nil {
		// Known inconsistency window: vehicle active, request still
		// pending. The caller retries Approve, which converges.
		log.WithError(err).WithField("driver_id", driverID).Warn("approved request not deleted")
		return err
	}
	if o.m != nil {
		o.m.ShiftsApproved.Inc()
	}
	log.WithFields(log.Fields{"driver_id": driverID, "operator_id": ident.ID}).Info("shift request approved")
	return nil
}

// Reject deletes a pending request. Rejecting an absent request is a
// no-op.
func (o *Operator) Reject(ctx context.Context, ident fleet.Identity, driverID string) error {
	if ident.Role != fleet.RoleOperator {
		return &fleet.AuthorizationError{Identity: ident, Action: "operatorReject"}
	}

	var req fleet.ShiftRequest
	found, err := o.store.Get(ctx, fleet.CollectionRequests, driverID, &req)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if req.Company != ident.Company {
		return &fleet.AuthorizationError{Identity: ident, Action: "operatorReject"}
	}
	if err := o.store.Delete(ctx, fleet.CollectionRequests, driverID); err != nil {
		return err
	}
	if o.m != nil {
		o.m.ShiftsRejected.Inc()
	}
	log.WithFields(log.Fields{"driver_id": driverID, "operator_id": ident.ID}).Info("shift request rejected")
	return nil
}

// ShiftLogs returns the newest archived shift events for the
// operator's own company, most recent first. Without an archive the
// listing is empty.
func (o *Operator) ShiftLogs(ctx context.Context, ident fleet.Identity, limit int) ([]shiftlog.Entry, error) {
	if ident.Role != fleet.RoleOperator {
		return nil, &fleet.AuthorizationError{Identity: ident, Action: "shiftLogs"}
	}
	if o.logs == nil {
		return nil, nil
	}
	return o.logs.Recent(ctx, ident.Company, limit)
}

// PendingRequests is a filtered live subscription to the requests an
// operator's company can act on.
func (o *Operator) PendingRequests(ctx context.Context, ident fleet.Identity, fn func(map[string]fleet.ShiftRequest)) (func(), error) {
	if ident.Role != fleet.RoleOperator {
		return nil, &fleet.AuthorizationError{Identity: ident, Action: "pendingRequests"}
	}
	pred := func(raw json.RawMessage) bool {
		var req fleet.ShiftRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return false
		}
		return req.Company == ident.Company && req.Status == fleet.RequestPending
	}
	return o.store.Query(ctx, fleet.CollectionRequests, pred, func(raw map[string]json.RawMessage) {
		out := make(map[string]fleet.ShiftRequest, len(raw))
		for id, data := range raw {
			var req fleet.ShiftRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			out[id] = req
		}
		fn(out)
	})
}
