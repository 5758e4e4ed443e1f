package types

import (
	"fmt"
	"strings"
	"time"
)

// Interval is a candle width. Values are the provider codes stored on runs.
type Interval string

const (
	OneMinute      Interval = "1"
	FiveMinutes    Interval = "5"
	FifteenMinutes Interval = "15"
	ThirtyMinutes  Interval = "30"
	Hour           Interval = "60"
	FourHours      Interval = "240"
	Day            Interval = "D"
	Week           Interval = "W"
)

var intervalDurations = map[Interval]time.Duration{
	OneMinute:      time.Minute,
	FiveMinutes:    time.Minute * 5,
	FifteenMinutes: time.Minute * 15,
	ThirtyMinutes:  time.Minute * 30,
	Hour:           time.Hour,
	FourHours:      time.Hour * 4,
	Day:            time.Hour * 24,
	Week:           time.Hour * 24 * 7,
}

var intervalAliases = map[string]Interval{
	"1m":  OneMinute,
	"5m":  FiveMinutes,
	"15m": FifteenMinutes,
	"30m": ThirtyMinutes,
	"1h":  Hour,
	"4h":  FourHours,
	"1d":  Day,
	"1w":  Week,
}

// ParseInterval accepts provider codes ("60", "D") and exchange style
// aliases ("1h", "1d").
func ParseInterval(s string) (Interval, error) {
	if _, ok := intervalDurations[Interval(s)]; ok {
		return Interval(s), nil
	}
	if iv, ok := intervalAliases[strings.ToLower(s)]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("interval %q not supported", s)
}

// Duration is zero for unknown intervals.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// PeriodsPerYear counts candles in a 365 day year. Crypto trades every day.
func (i Interval) PeriodsPerYear() float64 {
	d := i.Duration()
	if d == 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(d)
}
