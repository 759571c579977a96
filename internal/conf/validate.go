// conf/validate.go

package conf

import (
	"fmt"
	"net"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validatePrefetchSettings(&settings.Prefetch); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateFetchSettings(&settings.Fetch); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMetricsSettings(&settings.Metrics); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePrefetchSettings(settings *PrefetchSettings) error {
	if settings.Range < 0 {
		return fmt.Errorf("prefetch range must not be negative: %d", settings.Range)
	}
	if settings.Delay < 0 {
		return fmt.Errorf("prefetch delay must not be negative: %v", settings.Delay)
	}
	return nil
}

func validateFetchSettings(settings *FetchSettings) error {
	if settings.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive: %v", settings.Timeout)
	}
	if settings.RateLimit <= 0 {
		return fmt.Errorf("fetch rate limit must be positive: %v", settings.RateLimit)
	}
	if settings.Burst < 1 {
		return fmt.Errorf("fetch burst must be at least 1: %d", settings.Burst)
	}
	if settings.MaxBodySize <= 0 {
		return fmt.Errorf("fetch max body size must be positive: %d", settings.MaxBodySize)
	}
	return nil
}

func validateMetricsSettings(settings *MetricsSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("invalid metrics listen address %q: %w", settings.Listen, err)
	}
	return nil
}
