package parkings

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TariffHourlyLinear bills every started hour at the day or night rate.
const TariffHourlyLinear = "HOURLY_LINEAR"

// TariffConfig is the JSON tariff stored per parking.
type TariffConfig struct {
	Type           string            `json:"type"`
	DailyRate      float64           `json:"daily_rate"`
	DayBaseRate    float64           `json:"day_base_rate"`
	NightBaseRate  float64           `json:"night_base_rate"`
	NightStartTime string            `json:"night_start_time"`
	NightEndTime   string            `json:"night_end_time"`
	FlexRules      []json.RawMessage `json:"flex_rules"`
}

// DefaultTariff is applied to parkings created without a tariff.
func DefaultTariff() TariffConfig {
	return TariffConfig{
		Type:           TariffHourlyLinear,
		DailyRate:      20.00,
		DayBaseRate:    2.50,
		NightBaseRate:  1.50,
		NightStartTime: "22:00",
		NightEndTime:   "06:00",
		FlexRules:      []json.RawMessage{},
	}
}

// Validate checks type, rates and clock values.
func (t TariffConfig) Validate() error {
	if t.Type != TariffHourlyLinear {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidTariff, t.Type)
	}
	if t.DayBaseRate < 0 || t.NightBaseRate < 0 || t.DailyRate < 0 {
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidTariff)
	}
	if _, err := clockMinutes(t.NightStartTime); err != nil {
		return fmt.Errorf("%w: night_start_time: %v", ErrInvalidTariff, err)
	}
	if _, err := clockMinutes(t.NightEndTime); err != nil {
		return fmt.Errorf("%w: night_end_time: %v", ErrInvalidTariff, err)
	}
	return nil
}

// Quote prices a stay of duration starting at start (in the parking's local time).
// Each started hour costs the rate of the minute it starts in; every 24 hour block
// is capped at DailyRate when DailyRate > 0.
func (t TariffConfig) Quote(start time.Time, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	nightStart, _ := clockMinutes(t.NightStartTime)
	nightEnd, _ := clockMinutes(t.NightEndTime)

	hours := int(math.Ceil(duration.Hours()))
	var total, block float64
	for h := 0; h < hours; h++ {
		if h > 0 && h%24 == 0 {
			total += t.cap(block)
			block = 0
		}
		at := start.Add(time.Duration(h) * time.Hour)
		if isNight(at.Hour()*60+at.Minute(), nightStart, nightEnd) {
			block += t.NightBaseRate
		} else {
			block += t.DayBaseRate
		}
	}
	total += t.cap(block)
	return roundCents(total)
}

func (t TariffConfig) cap(block float64) float64 {
	if t.DailyRate > 0 && block > t.DailyRate {
		return t.DailyRate
	}
	return block
}

func isNight(minute, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func clockMinutes(v string) (int, error) {
	parsed, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
