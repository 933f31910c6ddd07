package vehicles

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicatePlate   = errors.New("plate already registered")
	ErrParkingNotFound  = errors.New("parking not found")
	ErrAccountInactive  = errors.New("account is not active")
	ErrActiveSession    = errors.New("vehicle already has an active session")
	ErrSessionCompleted = errors.New("session is already completed")
	ErrVehicleNotFound  = errors.New("vehicle not found")
	ErrNoActiveSession  = errors.New("no active session found")
	ErrMultipleActive   = errors.New("multiple active sessions for one vehicle")

	ErrVehicleNotOwned = fmt.Errorf("%w: vehicle belongs to another user", ErrForbidden)
	ErrSessionNotOwned = fmt.Errorf("%w: session belongs to another user", ErrForbidden)
)

// DefaultGracePeriodMinutes is added to planned_end_time before a session counts as expired.
const DefaultGracePeriodMinutes = 5

// MaxPurchaseMinutes bounds duration_minutes on start.
const MaxPurchaseMinutes = 7 * 24 * 60

// Vehicle is a car registered by a driver.
type Vehicle struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"-"`
	Plate      string    `json:"plate"`
	Name       string    `json:"name"`
	IsFavorite bool      `json:"is_favorite"`
	CreatedAt  time.Time `json:"created_at"`
}

// VehicleInput registers a vehicle.
type VehicleInput struct {
	Plate      string `json:"plate" validate:"required,max=20"`
	Name       string `json:"name" validate:"max=100"`
	IsFavorite bool   `json:"is_favorite"`
}

// VehicleUpdate is a partial update; nil fields are left alone.
type VehicleUpdate struct {
	Plate      *string `json:"plate" validate:"omitempty,max=20"`
	Name       *string `json:"name" validate:"omitempty,max=100"`
	IsFavorite *bool   `json:"is_favorite"`
}

// VehicleRef is the vehicle as embedded in a session owned by the caller.
type VehicleRef struct {
	ID    uuid.UUID `json:"id"`
	Plate string    `json:"plate"`
	Name  string    `json:"name"`
}

// ParkingRef summarises the lot of a session.
type ParkingRef struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	City    string    `json:"city"`
	Address string    `json:"address"`
}

// Session is a parking session. TotalCost stays nil until the session ends.
type Session struct {
	ID                       uuid.UUID   `json:"id"`
	UserID                   uuid.UUID   `json:"-"`
	Vehicle                  VehicleRef  `json:"vehicle"`
	Parking                  *ParkingRef `json:"parking_lot"`
	StartTime                time.Time   `json:"start_time"`
	EndTime                  *time.Time  `json:"end_time"`
	IsActive                 bool        `json:"is_active"`
	TotalCost                *float64    `json:"total_cost"`
	DurationPurchasedMinutes *int        `json:"duration_purchased_minutes"`
	PlannedEndTime           *time.Time  `json:"planned_end_time"`
	PrepaidCost              float64     `json:"prepaid_cost"`
	GracePeriodMinutes       int         `json:"grace_period_minutes"`
}

// Expired reports whether a purchased session ran past its planned end plus grace at now.
// Sessions without a purchase never expire.
func (s Session) Expired(now time.Time) bool {
	if !s.IsActive || s.PlannedEndTime == nil {
		return false
	}
	return now.After(s.PlannedEndTime.Add(time.Duration(s.GracePeriodMinutes) * time.Minute))
}

// StartInput opens a session. DurationMinutes buys time up front.
type StartInput struct {
	VehicleID       uuid.UUID `json:"vehicle_id" validate:"required"`
	ParkingID       uuid.UUID `json:"parking_lot_id" validate:"required"`
	DurationMinutes *int      `json:"duration_minutes" validate:"omitempty,gt=0,lte=10080"`
}

// NewSession is what the store persists on start.
type NewSession struct {
	UserID             uuid.UUID
	VehicleID          uuid.UUID
	ParkingID          uuid.UUID
	StartTime          time.Time
	DurationMinutes    *int
	PlannedEndTime     *time.Time
	PrepaidCost        float64
	GracePeriodMinutes int
}

// ControllerVehicle hides the owner's label for the vehicle.
type ControllerVehicle struct {
	ID    uuid.UUID `json:"id"`
	Plate string    `json:"plate"`
}

// ControllerSession is the plate-search result shown to officers.
type ControllerSession struct {
	ID                 uuid.UUID         `json:"id"`
	Vehicle            ControllerVehicle `json:"vehicle"`
	Parking            *ParkingRef       `json:"parking_lot"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            *time.Time        `json:"end_time"`
	IsActive           bool              `json:"is_active"`
	TotalCost          *float64          `json:"total_cost"`
	PlannedEndTime     *time.Time        `json:"planned_end_time"`
	PrepaidCost        float64           `json:"prepaid_cost"`
	GracePeriodMinutes int               `json:"grace_period_minutes"`
	Expired            bool              `json:"expired"`
}

func controllerView(s Session, now time.Time) ControllerSession {
	return ControllerSession{
		ID:                 s.ID,
		Vehicle:            ControllerVehicle{ID: s.Vehicle.ID, Plate: s.Vehicle.Plate},
		Parking:            s.Parking,
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		IsActive:           s.IsActive,
		TotalCost:          s.TotalCost,
		PlannedEndTime:     s.PlannedEndTime,
		PrepaidCost:        s.PrepaidCost,
		GracePeriodMinutes: s.GracePeriodMinutes,
		Expired:            s.Expired(now),
	}
}
