package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/heatcheck/internal/anomaly"
	"github.com/heatcheck/internal/dedup"
	"github.com/heatcheck/internal/join"
	"github.com/heatcheck/internal/schema"
)

// Options configures a pipeline run. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	DedupKeys             []dedup.Key `json:"dedup_keys"`
	ReadingAddressColumn  string      `json:"reading_address_column"`
	RegistryAddressColumn string      `json:"registry_address_column"`
	HeatingMonths         []int       `json:"heating_months"`
	DeviationThreshold    float64     `json:"deviation_threshold"`
	WindowDays            int         `json:"window_days"`
	LagMonths             int         `json:"lag_months"`
	TitleCaseObjectType   bool        `json:"title_case_object_type"`
	RequireComplete       bool        `json:"require_complete"`
	MaxFieldErrors        int         `json:"max_field_errors"`
}

// DefaultOptions returns the behaviour of the source analysis
func DefaultOptions() Options {
	return Options{
		DedupKeys:             dedup.DefaultKeys,
		ReadingAddressColumn:  schema.Address,
		RegistryAddressColumn: schema.Address,
		HeatingMonths:         schema.DefaultHeatingMonths,
		DeviationThreshold:    anomaly.DefaultThresholdPercent,
		WindowDays:            anomaly.DefaultWindowDays,
		LagMonths:             join.DefaultLagMonths,
		MaxFieldErrors:        50,
	}
}

// Validate checks the options for values no stage can work with
func (o Options) Validate() error {
	if len(o.DedupKeys) == 0 {
		return fmt.Errorf("at least one dedup key is required")
	}
	if o.ReadingAddressColumn == "" || o.RegistryAddressColumn == "" {
		return fmt.Errorf("address columns must not be empty")
	}
	if _, err := anomaly.NewHeatingSeason(o.HeatingMonths); err != nil {
		return err
	}
	if o.DeviationThreshold <= 0 {
		return fmt.Errorf("deviation threshold must be positive, got %v", o.DeviationThreshold)
	}
	if o.WindowDays <= 0 {
		return fmt.Errorf("window days must be positive, got %d", o.WindowDays)
	}
	if o.LagMonths < 0 || o.LagMonths > 12 {
		return fmt.Errorf("lag months must be between 0 and 12, got %d", o.LagMonths)
	}
	return nil
}

// Fingerprint returns a stable text form of the options for cache keys
func (o Options) Fingerprint() string {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("%+v", o)
	}
	return string(data)
}
