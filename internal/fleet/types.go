package fleet

import "time"

// Store collection names shared by the engine and its consumers.
const (
	CollectionVehicles  = "active_buses"
	CollectionRequests  = "shift_requests"
	CollectionShiftLogs = "shift_logs"
)

// Role of a caller identity. Authentication happens elsewhere; the
// engine only ever sees the resolved role and company.
type Role string

const (
	RoleDriver   Role = "driver"
	RoleOperator Role = "operator"
)

// Identity is the opaque caller identity supplied to every lifecycle
// action.
type Identity struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Company string `json:"company"`
}

// Vehicle status values published while a shift is active.
const (
	StatusDeparting = "departing"
	StatusArriving  = "arriving"
	StatusArrived   = "arrived"
	StatusDeparted  = "departed"
)

// VehicleState is the record synchronized through the store, keyed by
// DriverID. Created when a shift starts, overwritten on every accepted
// position sample, deleted when the shift ends. Exactly one writer (the
// owning driver's session) per key; many readers.
type VehicleState struct {
	DriverID    string  `json:"driverId"`
	DriverName  string  `json:"driverName"`
	Company     string  `json:"company"`
	RouteID     string  `json:"routeId"`
	BusNumber   string  `json:"busNumber"`
	PlateNumber string  `json:"plateNumber"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	SpeedKmh    float64 `json:"speed"`
	Status      string  `json:"status"`
	NextStop    string  `json:"nextStop,omitempty"`
	Pax         int     `json:"pax"`
	IsReverse   bool    `json:"isReverse"`
	Timestamp   int64   `json:"timestamp"` // unix milliseconds
}

// Shift request status values.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// ShiftRequest is a driver's ask to go on duty, keyed by DriverID.
// Created by the driver, resolved (and deleted) by an operator.
type ShiftRequest struct {
	DriverID    string `json:"driverId"`
	DriverName  string `json:"driverName"`
	Company     string `json:"company"`
	BusNumber   string `json:"busNumber" validate:"required"`
	PlateNumber string `json:"plateNumber" validate:"required"`
	RouteID     string `json:"routeId" validate:"required"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
}

// Sample is one position observation, from either the simulator or a
// physical sensor. Accuracy is the sensor's reported radius in meters;
// a negative value marks a simulated sample, which is never
// accuracy-gated.
type Sample struct {
	Lat      float64
	Lng      float64
	SpeedKmh float64
	Accuracy float64
	// NextIndex is the simulator cursor's next waypoint index, used for
	// next-stop labeling. Sensor samples carry -1.
	NextIndex int
	Time      time.Time
}

// Simulated reports whether the sample came from the simulator.
func (s Sample) Simulated() bool { return s.Accuracy < 0 }
