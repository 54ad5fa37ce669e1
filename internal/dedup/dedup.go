// Package dedup removes repeated readings and collapses the lookup tables
// to one record per join key.
package dedup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/heatcheck/internal/model"
)

// Key names a field of the reading identity key
type Key string

const (
	KeyMeterID     Key = "meter_id"
	KeyTimestamp   Key = "timestamp"
	KeyConsumption Key = "consumption"
)

// DefaultKeys is the full identity key of a reading
var DefaultKeys = []Key{KeyMeterID, KeyTimestamp, KeyConsumption}

// ParseKeys validates a list of key field names. An empty list yields DefaultKeys.
func ParseKeys(names []string) ([]Key, error) {
	if len(names) == 0 {
		return DefaultKeys, nil
	}
	keys := make([]Key, 0, len(names))
	seen := make(map[Key]bool)
	for _, name := range names {
		k := Key(strings.ToLower(strings.TrimSpace(name)))
		switch k {
		case KeyMeterID, KeyTimestamp, KeyConsumption:
		default:
			return nil, fmt.Errorf("unknown dedup key %q", name)
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Report counts what the deduplicator removed
type Report struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	Duplicates    int `json:"duplicates"`
	CommaMeterIDs int `json:"comma_meter_ids"`
	Unkeyed       int `json:"unkeyed"`
}

// Readings keeps the first reading of every distinct identity key, in input
// order. Readings whose meter ID contains a comma are removed. Readings that
// lack a key field cannot be compared and are passed through untouched.
func Readings(readings []model.Reading, keys []Key) ([]model.Reading, Report) {
	if len(keys) == 0 {
		keys = DefaultKeys
	}

	report := Report{Input: len(readings)}
	out := make([]model.Reading, 0, len(readings))
	seen := make(map[string]bool, len(readings))

	for _, r := range readings {
		if strings.Contains(r.MeterID, ",") {
			report.CommaMeterIDs++
			continue
		}

		key, ok := identity(r, keys)
		if !ok {
			report.Unkeyed++
			out = append(out, r)
			continue
		}
		if seen[key] {
			report.Duplicates++
			continue
		}
		seen[key] = true
		out = append(out, r)
	}

	report.Output = len(out)
	return out, report
}

// identity builds the key string of a reading, or false when a key field is null
func identity(r model.Reading, keys []Key) (string, bool) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		switch k {
		case KeyMeterID:
			if r.MeterID == "" {
				return "", false
			}
			parts[i] = r.MeterID
		case KeyTimestamp:
			if r.Timestamp == nil {
				return "", false
			}
			parts[i] = r.Timestamp.UTC().Format(time.RFC3339Nano)
		case KeyConsumption:
			parts[i] = strconv.FormatFloat(r.Consumption, 'g', -1, 64)
		}
	}
	return strings.Join(parts, "\x1f"), true
}

// Buildings keeps the first registry record of every normalized address
func Buildings(buildings []model.BuildingRecord) ([]model.BuildingRecord, int) {
	out := make([]model.BuildingRecord, 0, len(buildings))
	seen := make(map[string]bool, len(buildings))
	removed := 0

	for _, b := range buildings {
		if seen[b.AddressKey] {
			removed++
			continue
		}
		seen[b.AddressKey] = true
		out = append(out, b)
	}
	return out, removed
}

// Temperatures keeps the first temperature of every month
func Temperatures(temps []model.TemperatureRecord) ([]model.TemperatureRecord, int) {
	out := make([]model.TemperatureRecord, 0, len(temps))
	seen := make(map[string]bool, len(temps))
	removed := 0

	for _, t := range temps {
		if seen[t.PeriodKey] {
			removed++
			continue
		}
		seen[t.PeriodKey] = true
		out = append(out, t)
	}
	return out, removed
}
