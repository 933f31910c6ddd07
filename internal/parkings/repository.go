package parkings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tpsparking/api/internal/db"
)

// Repository persists the registry in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListCities(ctx context.Context) ([]City, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, country FROM cities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cities := []City{}
	for rows.Next() {
		var c City
		if err := rows.Scan(&c.ID, &c.Name, &c.Country); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

func (r *Repository) CreateCity(ctx context.Context, name, country string) (City, error) {
	var c City
	err := r.pool.QueryRow(ctx, `
		INSERT INTO cities (name, country) VALUES ($1, $2)
		RETURNING id, name, country`, name, country).Scan(&c.ID, &c.Name, &c.Country)
	if db.IsUniqueViolation(err, "cities_name_key") {
		return City{}, ErrDuplicateCity
	}
	return c, err
}

const parkingSelect = `
	SELECT p.id, p.name, p.city, p.address, p.rate_per_hour::float8, p.tariff_config, p.polygon,
	       p.latitude, p.longitude, p.created_at,
	       (SELECT count(*) FROM spots s WHERE s.parking_id = p.id),
	       (SELECT count(*) FROM spots s WHERE s.parking_id = p.id AND s.is_occupied),
	       e.latitude, e.longitude
	FROM parkings p
	LEFT JOIN LATERAL (
		SELECT latitude, longitude FROM parking_entrances
		WHERE parking_id = p.id ORDER BY created_at, id LIMIT 1
	) e ON TRUE`

func scanParking(row pgx.Row) (Parking, error) {
	var (
		p               Parking
		tariff, polygon []byte
		entLat, entLng  *float64
		total, occupied int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.City, &p.Address, &p.RatePerHour, &tariff, &polygon,
		&p.Latitude, &p.Longitude, &p.CreatedAt, &total, &occupied, &entLat, &entLng)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Parking{}, ErrNotFound
		}
		return Parking{}, err
	}
	if err := json.Unmarshal(tariff, &p.Tariff); err != nil {
		return Parking{}, err
	}
	if err := json.Unmarshal(polygon, &p.Polygon); err != nil {
		return Parking{}, err
	}
	if p.Polygon == nil {
		p.Polygon = []Point{}
	}
	p.TotalSpots, p.OccupiedSpots = int(total), int(occupied)

	var entrance *Point
	if entLat != nil && entLng != nil {
		entrance = &Point{Lat: *entLat, Lng: *entLng}
	}
	p.Marker = MarkerPosition(entrance, p.Polygon)
	return p, nil
}

func (r *Repository) ListParkings(ctx context.Context, city string) ([]Parking, error) {
	query := parkingSelect
	var args []any
	if city = strings.TrimSpace(city); city != "" {
		query += ` WHERE lower(p.city) = lower($1)`
		args = append(args, city)
	}
	query += ` ORDER BY p.city, p.name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Parking{}
	for rows.Next() {
		p, err := scanParking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *Repository) GetParking(ctx context.Context, id uuid.UUID) (Parking, error) {
	return scanParking(r.pool.QueryRow(ctx, parkingSelect+` WHERE p.id = $1`, id))
}

func (r *Repository) CreateParking(ctx context.Context, in ParkingInput, tariff TariffConfig) (Parking, error) {
	tariffJSON, polygonJSON, err := encodeParkingJSON(tariff, in.Polygon)
	if err != nil {
		return Parking{}, err
	}
	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO parkings (name, city, address, rate_per_hour, tariff_config, polygon, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		in.Name, in.City, in.Address, in.RatePerHour, tariffJSON, polygonJSON, in.Latitude, in.Longitude,
	).Scan(&id)
	if err != nil {
		return Parking{}, err
	}
	return r.GetParking(ctx, id)
}

func (r *Repository) UpdateParking(ctx context.Context, id uuid.UUID, in ParkingInput, tariff TariffConfig) (Parking, error) {
	tariffJSON, polygonJSON, err := encodeParkingJSON(tariff, in.Polygon)
	if err != nil {
		return Parking{}, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE parkings SET name = $2, city = $3, address = $4, rate_per_hour = $5,
		       tariff_config = $6, polygon = $7, latitude = $8, longitude = $9
		WHERE id = $1`,
		id, in.Name, in.City, in.Address, in.RatePerHour, tariffJSON, polygonJSON, in.Latitude, in.Longitude)
	if err != nil {
		return Parking{}, err
	}
	if tag.RowsAffected() == 0 {
		return Parking{}, ErrNotFound
	}
	return r.GetParking(ctx, id)
}

func (r *Repository) DeleteParking(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM parkings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeParkingJSON(tariff TariffConfig, polygon []Point) ([]byte, []byte, error) {
	if tariff.FlexRules == nil {
		tariff.FlexRules = []json.RawMessage{}
	}
	if polygon == nil {
		polygon = []Point{}
	}
	t, err := json.Marshal(tariff)
	if err != nil {
		return nil, nil, err
	}
	p, err := json.Marshal(polygon)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

func (r *Repository) ListEntrances(ctx context.Context, parkingID uuid.UUID) ([]Entrance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, parking_id, address_line, latitude, longitude
		FROM parking_entrances WHERE parking_id = $1 ORDER BY created_at, id`, parkingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Entrance{}
	for rows.Next() {
		var e Entrance
		if err := rows.Scan(&e.ID, &e.ParkingID, &e.AddressLine, &e.Latitude, &e.Longitude); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *Repository) CreateEntrance(ctx context.Context, parkingID uuid.UUID, in EntranceInput) (Entrance, error) {
	var e Entrance
	err := r.pool.QueryRow(ctx, `
		INSERT INTO parking_entrances (parking_id, address_line, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		RETURNING id, parking_id, address_line, latitude, longitude`,
		parkingID, in.AddressLine, in.Latitude, in.Longitude,
	).Scan(&e.ID, &e.ParkingID, &e.AddressLine, &e.Latitude, &e.Longitude)
	return e, err
}

const spotColumns = `id, parking_id, number, floor, zone, is_occupied`

func scanSpot(row pgx.Row) (Spot, error) {
	var s Spot
	if err := row.Scan(&s.ID, &s.ParkingID, &s.Number, &s.Floor, &s.Zone, &s.IsOccupied); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Spot{}, ErrNotFound
		}
		return Spot{}, err
	}
	return s, nil
}

func (r *Repository) ListSpots(ctx context.Context, parkingID *uuid.UUID) ([]Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots`
	var args []any
	if parkingID != nil {
		query += ` WHERE parking_id = $1`
		args = append(args, *parkingID)
	}
	query += ` ORDER BY parking_id, floor, number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Spot{}
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *Repository) GetSpot(ctx context.Context, id uuid.UUID) (Spot, error) {
	return scanSpot(r.pool.QueryRow(ctx, `SELECT `+spotColumns+` FROM spots WHERE id = $1`, id))
}

func (r *Repository) CreateSpot(ctx context.Context, in SpotInput) (Spot, error) {
	floor := in.Floor
	if floor == "" {
		floor = "0"
	}
	s, err := scanSpot(r.pool.QueryRow(ctx, `
		INSERT INTO spots (parking_id, number, floor, zone) VALUES ($1, $2, $3, $4)
		RETURNING `+spotColumns, in.ParkingID, in.Number, floor, in.Zone))
	if db.IsUniqueViolation(err, "spots_parking_id_number_key") {
		return Spot{}, ErrDuplicateSpot
	}
	return s, err
}

func (r *Repository) SetSpotOccupied(ctx context.Context, id uuid.UUID, occupied bool) (Spot, error) {
	return scanSpot(r.pool.QueryRow(ctx, `
		UPDATE spots SET is_occupied = $2 WHERE id = $1
		RETURNING `+spotColumns, id, occupied))
}

func (r *Repository) DeleteSpot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM spots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
