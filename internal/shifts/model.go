package shifts

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
)

var (
	ErrNoActiveShift = errors.New("no active shift found")
	ErrCityRequired  = errors.New("city parameter is required")
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Shift is an officer's working period. An officer has at most one OPEN shift.
type Shift struct {
	ID        uuid.UUID  `json:"id"`
	OfficerID uuid.UUID  `json:"officer"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Status    Status     `json:"status"`
}

// ActiveOfficer is an officer on an open shift.
type ActiveOfficer struct {
	ID                   uuid.UUID `json:"id"`
	Email                string    `json:"email"`
	FirstName            string    `json:"first_name"`
	LastName             string    `json:"last_name"`
	Role                 auth.Role `json:"role"`
	ShiftID              uuid.UUID `json:"shift_id"`
	ShiftStart           time.Time `json:"shift_start"`
	ShiftDurationSeconds int64     `json:"shift_duration_seconds"`
}
