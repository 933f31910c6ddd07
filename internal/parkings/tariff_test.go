package parkings

import (
	"errors"
	"testing"
	"time"
)

func TestQuoteDefaultTariff(t *testing.T) {
	tariff := DefaultTariff()
	day := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	cases := []struct {
		name     string
		start    time.Time
		duration time.Duration
		want     float64
	}{
		{"two day hours", day(10, 0), 2 * time.Hour, 5.00},
		{"partial hour rounds up", day(10, 0), 90 * time.Minute, 5.00},
		{"crosses into night", day(21, 30), 2 * time.Hour, 4.00},
		{"night only", day(23, 0), 3 * time.Hour, 4.50},
		{"full day capped", day(8, 0), 24 * time.Hour, 20.00},
		{"second block billed separately", day(8, 0), 25 * time.Hour, 22.50},
		{"zero duration", day(8, 0), 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tariff.Quote(tc.start, tc.duration); got != tc.want {
				t.Fatalf("Quote = %.2f, want %.2f", got, tc.want)
			}
		})
	}
}

func TestQuoteWithoutDailyCap(t *testing.T) {
	tariff := DefaultTariff()
	tariff.DailyRate = 0
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	if got := tariff.Quote(start, 24*time.Hour); got != 52.00 {
		t.Fatalf("uncapped day = %.2f, want 52.00", got)
	}
}

func TestTariffValidate(t *testing.T) {
	if err := DefaultTariff().Validate(); err != nil {
		t.Fatalf("default tariff invalid: %v", err)
	}

	bad := DefaultTariff()
	bad.Type = "FLAT"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTariff) {
		t.Fatalf("expected invalid tariff for type, got %v", err)
	}

	bad = DefaultTariff()
	bad.NightStartTime = "25:99"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTariff) {
		t.Fatalf("expected invalid tariff for clock, got %v", err)
	}
}

func TestPolygonAndMarker(t *testing.T) {
	square := []Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 2}, {Lat: 2, Lng: 2}, {Lat: 2, Lng: 0}}
	if err := ValidatePolygon(square); err != nil {
		t.Fatalf("square rejected: %v", err)
	}
	if err := ValidatePolygon(square[:2]); !errors.Is(err, ErrInvalidPolygon) {
		t.Fatalf("two vertices accepted: %v", err)
	}
	if err := ValidatePolygon([]Point{{Lat: 91}, {}, {}}); !errors.Is(err, ErrInvalidPolygon) {
		t.Fatalf("out of range latitude accepted: %v", err)
	}

	c := MarkerPosition(nil, square)
	if c == nil || c.Lat != 1 || c.Lng != 1 {
		t.Fatalf("unexpected centroid %+v", c)
	}
	entrance := &Point{Lat: 5, Lng: 5}
	if got := MarkerPosition(entrance, square); got != entrance {
		t.Fatal("entrance must win over centroid")
	}
	if MarkerPosition(nil, nil) != nil {
		t.Fatal("no polygon and no entrance gives no marker")
	}
}
