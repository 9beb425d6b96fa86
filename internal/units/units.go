// Package units provides shared constants and validation for count rate units
package units

// Unit constants
const (
	PerInterval = "per_interval"
	PerHour     = "per_hour"
)

// ValidUnits contains all valid rate unit values
var ValidUnits = []string{PerInterval, PerHour}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "per_interval, per_hour"
}

// ConvertRate converts a per-interval count to the target rate unit.
// Aggregates are stored as raw counts per interval; per_hour scales by
// the interval length so a 15-minute count of 25 reads as 100 veh/h.
func ConvertRate(count int, intervalMinutes int, targetUnits string) float64 {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	switch targetUnits {
	case PerHour:
		return float64(count) * 60.0 / float64(intervalMinutes)
	case PerInterval:
		return float64(count)
	default:
		return float64(count) // default to per_interval if unknown unit
	}
}
