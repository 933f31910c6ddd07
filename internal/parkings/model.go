package parkings

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidPolygon = errors.New("invalid polygon")
	ErrInvalidTariff  = errors.New("invalid tariff config")
	ErrDuplicateCity  = errors.New("city already exists")
	ErrDuplicateSpot  = errors.New("spot number already used in this parking")
	ErrInvalidInput   = errors.New("invalid input")
)

// City is a municipality where parkings are operated.
type City struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country"`
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Parking is a lot with its tariff, outline and spot occupancy.
type Parking struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	City          string       `json:"city"`
	Address       string       `json:"address"`
	RatePerHour   float64      `json:"rate"`
	Tariff        TariffConfig `json:"tariff_config"`
	Polygon       []Point      `json:"polygon_coordinates"`
	Latitude      *float64     `json:"latitude"`
	Longitude     *float64     `json:"longitude"`
	TotalSpots    int          `json:"total_spots"`
	OccupiedSpots int          `json:"occupied_spots"`
	Marker        *Point       `json:"marker"`
	CreatedAt     time.Time    `json:"created_at"`
}

// AvailableSpots is total minus occupied.
func (p Parking) AvailableSpots() int {
	return p.TotalSpots - p.OccupiedSpots
}

// Entrance is a vehicle access point of a parking.
type Entrance struct {
	ID          uuid.UUID `json:"id"`
	ParkingID   uuid.UUID `json:"parking"`
	AddressLine string    `json:"address_line"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
}

// Spot is a single bay.
type Spot struct {
	ID         uuid.UUID `json:"id"`
	ParkingID  uuid.UUID `json:"parking"`
	Number     string    `json:"number"`
	Floor      string    `json:"floor"`
	Zone       string    `json:"zone"`
	IsOccupied bool      `json:"is_occupied"`
}

// ParkingInput is the writable part of a Parking.
type ParkingInput struct {
	Name        string        `json:"name" validate:"required,max=100"`
	City        string        `json:"city" validate:"required,max=50"`
	Address     string        `json:"address" validate:"max=150"`
	RatePerHour float64       `json:"rate" validate:"gte=0"`
	Tariff      *TariffConfig `json:"tariff_config"`
	Polygon     []Point       `json:"polygon_coordinates"`
	Latitude    *float64      `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64      `json:"longitude" validate:"omitempty,longitude"`
}

// EntranceInput creates an Entrance.
type EntranceInput struct {
	AddressLine string  `json:"address_line" validate:"max=200"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
}

// SpotInput creates a Spot.
type SpotInput struct {
	ParkingID uuid.UUID `json:"parking" validate:"required"`
	Number    string    `json:"number" validate:"required,max=20"`
	Floor     string    `json:"floor" validate:"max=10"`
	Zone      string    `json:"zone" validate:"max=20"`
}
