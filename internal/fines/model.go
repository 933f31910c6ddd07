package fines

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidReason     = errors.New("invalid violation reason")
	ErrVehicleNotFound   = errors.New("vehicle not found")
	ErrAlreadyPaid       = errors.New("fine is already paid")
	ErrNotPayable        = errors.New("fine cannot be paid")
	ErrNotContestable    = errors.New("only unpaid fines can be contested")
	ErrInvalidTransition = errors.New("status change not allowed")

	ErrPlateReasonRequired  = fmt.Errorf("%w: plate and reason are required", ErrInvalidInput)
	ErrContestReasonMissing = fmt.Errorf("%w: reason is required", ErrInvalidInput)
)

// Status is the lifecycle state of a fine.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPaid      Status = "paid"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

// Outstanding reports whether a fine in status s counts against its owner.
func (s Status) Outstanding() bool {
	return s != StatusPaid && s != StatusCancelled
}

// prices is the server side tariff of violations. Clients never send amounts.
var prices = map[string]float64{
	"No Active Session":          50.00,
	"Obstructing Parking":        85.00,
	"Handicapped Zone Violation": 150.00,
}

// ViolationType is one row of the price table.
type ViolationType struct {
	Reason string  `json:"reason"`
	Amount float64 `json:"amount"`
}

// ViolationTypes returns the price table ordered by amount.
func ViolationTypes() []ViolationType {
	out := make([]ViolationType, 0, len(prices))
	for reason, amount := range prices {
		out = append(out, ViolationType{Reason: reason, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out
}

// PriceFor looks reason up in the price table.
func PriceFor(reason string) (float64, bool) {
	amount, ok := prices[reason]
	return amount, ok
}

// Fine is a violation issued against a vehicle.
type Fine struct {
	ID                 uuid.UUID  `json:"id"`
	VehicleID          uuid.UUID  `json:"vehicle"`
	VehiclePlate       string     `json:"vehicle_plate"`
	VehicleName        string     `json:"vehicle_name"`
	OwnerID            uuid.UUID  `json:"-"`
	SessionID          *uuid.UUID `json:"session"`
	IssuedBy           *uuid.UUID `json:"issued_by"`
	Amount             float64    `json:"amount"`
	Reason             string     `json:"reason"`
	Status             Status     `json:"status"`
	IssuedAt           time.Time  `json:"issued_at"`
	PaidAt             *time.Time `json:"paid_at"`
	Notes              string     `json:"notes"`
	EvidenceImageURL   *string    `json:"evidence_image_url"`
	ContestationReason *string    `json:"contestation_reason"`
}

// VehicleOwner is the part of a vehicle the engine needs.
type VehicleOwner struct {
	ID      uuid.UUID
	Plate   string
	OwnerID uuid.UUID
}

// Evidence is an uploaded photo attached to a report.
type Evidence struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReportInput is a violation report from an officer.
type ReportInput struct {
	Plate    string    `json:"plate" validate:"max=20"`
	Reason   string    `json:"reason" validate:"max=100"`
	Notes    string    `json:"notes" validate:"max=1000"`
	Evidence *Evidence `json:"-"`
}

// ReportResult is returned after a report.
type ReportResult struct {
	Message           string    `json:"message"`
	FineID            uuid.UUID `json:"fine_id"`
	Amount            float64   `json:"amount"`
	Plate             string    `json:"plate"`
	NewViolationCount int       `json:"new_violation_count"`
}

// NewFine is what the store inserts.
type NewFine struct {
	VehicleID         uuid.UUID
	SessionID         *uuid.UUID
	IssuedBy          uuid.UUID
	Amount            float64
	Reason            string
	Notes             string
	EvidenceURL       *string
	EvidenceObjectKey *string
}

// StatusChange is applied by SetStatus inside the owner lock.
type StatusChange struct {
	Status             Status
	PaidAt             *time.Time
	ContestationReason *string
	Notes              *string
}
