package parkings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
)

type store interface {
	ListCities(ctx context.Context) ([]City, error)
	CreateCity(ctx context.Context, name, country string) (City, error)
	ListParkings(ctx context.Context, city string) ([]Parking, error)
	GetParking(ctx context.Context, id uuid.UUID) (Parking, error)
	CreateParking(ctx context.Context, in ParkingInput, tariff TariffConfig) (Parking, error)
	UpdateParking(ctx context.Context, id uuid.UUID, in ParkingInput, tariff TariffConfig) (Parking, error)
	DeleteParking(ctx context.Context, id uuid.UUID) error
	ListEntrances(ctx context.Context, parkingID uuid.UUID) ([]Entrance, error)
	CreateEntrance(ctx context.Context, parkingID uuid.UUID, in EntranceInput) (Entrance, error)
	ListSpots(ctx context.Context, parkingID *uuid.UUID) ([]Spot, error)
	GetSpot(ctx context.Context, id uuid.UUID) (Spot, error)
	CreateSpot(ctx context.Context, in SpotInput) (Spot, error)
	SetSpotOccupied(ctx context.Context, id uuid.UUID, occupied bool) (Spot, error)
	DeleteSpot(ctx context.Context, id uuid.UUID) error
}

// Service applies city scoping and input rules on top of the registry.
type Service struct {
	store store
}

func NewService(repo *Repository) *Service {
	return &Service{store: repo}
}

func (s *Service) ListCities(ctx context.Context) ([]City, error) {
	return s.store.ListCities(ctx)
}

func (s *Service) CreateCity(ctx context.Context, actor auth.Actor, name, country string) (City, error) {
	if actor.Role != auth.RoleSuperuser {
		return City{}, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return City{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if country = strings.TrimSpace(country); country == "" {
		country = "Israel"
	}
	return s.store.CreateCity(ctx, name, country)
}

func (s *Service) ListParkings(ctx context.Context, city string) ([]Parking, error) {
	return s.store.ListParkings(ctx, city)
}

func (s *Service) GetParking(ctx context.Context, id uuid.UUID) (Parking, error) {
	return s.store.GetParking(ctx, id)
}

// canManage reports whether actor may edit the registry of city.
func canManage(actor auth.Actor, city string) bool {
	return actor.Can(auth.RoleManager) && actor.CanOperateIn(city)
}

func (s *Service) prepare(in *ParkingInput) (TariffConfig, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.City = strings.TrimSpace(in.City)
	in.Address = strings.TrimSpace(in.Address)
	if err := ValidatePolygon(in.Polygon); err != nil {
		return TariffConfig{}, err
	}
	tariff := DefaultTariff()
	if in.Tariff != nil {
		tariff = *in.Tariff
	}
	if err := tariff.Validate(); err != nil {
		return TariffConfig{}, err
	}
	return tariff, nil
}

func (s *Service) CreateParking(ctx context.Context, actor auth.Actor, in ParkingInput) (Parking, error) {
	tariff, err := s.prepare(&in)
	if err != nil {
		return Parking{}, err
	}
	if !canManage(actor, in.City) {
		return Parking{}, ErrForbidden
	}
	p, err := s.store.CreateParking(ctx, in, tariff)
	if err != nil {
		return Parking{}, err
	}
	log.Info().Str("component", "parkings").Str("parking_id", p.ID.String()).Str("city", p.City).
		Str("actor", actor.ID.String()).Msg("parking created")
	return p, nil
}

func (s *Service) UpdateParking(ctx context.Context, actor auth.Actor, id uuid.UUID, in ParkingInput) (Parking, error) {
	tariff, err := s.prepare(&in)
	if err != nil {
		return Parking{}, err
	}
	existing, err := s.store.GetParking(ctx, id)
	if err != nil {
		return Parking{}, err
	}
	if !canManage(actor, existing.City) || !canManage(actor, in.City) {
		return Parking{}, ErrForbidden
	}
	return s.store.UpdateParking(ctx, id, in, tariff)
}

func (s *Service) DeleteParking(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	existing, err := s.store.GetParking(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(actor, existing.City) {
		return ErrForbidden
	}
	if err := s.store.DeleteParking(ctx, id); err != nil {
		return err
	}
	log.Info().Str("component", "parkings").Str("parking_id", id.String()).Str("actor", actor.ID.String()).Msg("parking deleted")
	return nil
}

func (s *Service) ListEntrances(ctx context.Context, parkingID uuid.UUID) ([]Entrance, error) {
	if _, err := s.store.GetParking(ctx, parkingID); err != nil {
		return nil, err
	}
	return s.store.ListEntrances(ctx, parkingID)
}

func (s *Service) CreateEntrance(ctx context.Context, actor auth.Actor, parkingID uuid.UUID, in EntranceInput) (Entrance, error) {
	p, err := s.store.GetParking(ctx, parkingID)
	if err != nil {
		return Entrance{}, err
	}
	if !canManage(actor, p.City) {
		return Entrance{}, ErrForbidden
	}
	in.AddressLine = strings.TrimSpace(in.AddressLine)
	return s.store.CreateEntrance(ctx, parkingID, in)
}

func (s *Service) ListSpots(ctx context.Context, parkingID *uuid.UUID) ([]Spot, error) {
	return s.store.ListSpots(ctx, parkingID)
}

func (s *Service) CreateSpot(ctx context.Context, actor auth.Actor, in SpotInput) (Spot, error) {
	p, err := s.store.GetParking(ctx, in.ParkingID)
	if err != nil {
		return Spot{}, err
	}
	if !canManage(actor, p.City) {
		return Spot{}, ErrForbidden
	}
	in.Number = strings.TrimSpace(in.Number)
	if in.Number == "" {
		return Spot{}, fmt.Errorf("%w: number is required", ErrInvalidInput)
	}
	return s.store.CreateSpot(ctx, in)
}

// SetSpotOccupied lets any officer working the spot's city toggle occupancy.
func (s *Service) SetSpotOccupied(ctx context.Context, actor auth.Actor, id uuid.UUID, occupied bool) (Spot, error) {
	spot, err := s.store.GetSpot(ctx, id)
	if err != nil {
		return Spot{}, err
	}
	p, err := s.store.GetParking(ctx, spot.ParkingID)
	if err != nil {
		return Spot{}, err
	}
	if !actor.CanOperateIn(p.City) {
		return Spot{}, ErrForbidden
	}
	return s.store.SetSpotOccupied(ctx, id, occupied)
}

func (s *Service) DeleteSpot(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	spot, err := s.store.GetSpot(ctx, id)
	if err != nil {
		return err
	}
	p, err := s.store.GetParking(ctx, spot.ParkingID)
	if err != nil {
		return err
	}
	if !canManage(actor, p.City) {
		return ErrForbidden
	}
	return s.store.DeleteSpot(ctx, id)
}
