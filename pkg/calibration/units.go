package calibration

// The calibration model works in centimeters internally. Callers convert
// at the API boundary, exactly once per call path; these helpers keep
// that conversion in one place.

// Conversion factors.
const (
	CmPerMeter = 100.0
	MmPerCm    = 10.0
)

// MetersToCm converts meters to centimeters.
func MetersToCm(m float64) float64 {
	return m * CmPerMeter
}

// CmToMeters converts centimeters to meters.
func CmToMeters(cm float64) float64 {
	return cm / CmPerMeter
}

// MmToCm converts millimeters to centimeters.
func MmToCm(mm float64) float64 {
	return mm / MmPerCm
}

// CmToMm converts centimeters to millimeters.
func CmToMm(cm float64) float64 {
	return cm * MmPerCm
}
