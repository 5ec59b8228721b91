package calibration

import (
	"time"
)

// Derivation tags how a record's scale constant was produced. The tag
// selects the inverse formula at measurement time; applying a formula to
// a record with a different tag is rejected.
type Derivation string

const (
	// DerivationReference marks a constant derived from a reference object
	// of known size, with the subject distance measured by tracking.
	DerivationReference Derivation = "reference-object"

	// DerivationManual marks a constant derived from a reference object
	// with a manually entered subject distance (the fallback when the
	// device cannot track).
	DerivationManual Derivation = "manual-distance"

	// DerivationFocalLength marks a constant derived from the camera's
	// 35 mm-equivalent focal length.
	DerivationFocalLength Derivation = "focal-length"
)

// Valid reports whether d is a known derivation tag.
func (d Derivation) Valid() bool {
	switch d {
	case DerivationReference, DerivationManual, DerivationFocalLength:
		return true
	}
	return false
}

// Record is one calibration result. Produced once per calibration
// session, persisted across invocations, and consumed by every
// subsequent static-photo measurement until replaced.
type Record struct {
	ID            string     `json:"id"`
	ScaleConstant float64    `json:"scale_constant"`
	Derivation    Derivation `json:"derivation"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewReferenceRecord calibrates from a reference object with a
// tracking-measured subject distance.
func NewReferenceRecord(refWidthCm, refPixelWidth, imageMaxDim, distanceCm float64) (*Record, error) {
	k, err := ReferenceScale(refWidthCm, refPixelWidth, imageMaxDim, distanceCm)
	if err != nil {
		return nil, err
	}
	return &Record{ScaleConstant: k, Derivation: DerivationReference}, nil
}

// NewManualRecord calibrates from a reference object with a manually
// entered subject distance. Same algebra as the reference form; the
// distinct tag records that the distance was typed, not measured.
func NewManualRecord(refWidthCm, refPixelWidth, imageMaxDim, distanceCm float64) (*Record, error) {
	k, err := ReferenceScale(refWidthCm, refPixelWidth, imageMaxDim, distanceCm)
	if err != nil {
		return nil, err
	}
	return &Record{ScaleConstant: k, Derivation: DerivationManual}, nil
}

// NewFocalRecord calibrates from a 35 mm-equivalent focal length.
func NewFocalRecord(focalLengthMm float64) (*Record, error) {
	k, err := FocalLengthScale(focalLengthMm)
	if err != nil {
		return nil, err
	}
	return &Record{ScaleConstant: k, Derivation: DerivationFocalLength}, nil
}

// RealLengthCm converts a pixel length measured on a photo of max
// dimension imageMaxDim, taken at distanceCm, into centimeters. It
// asserts the record's derivation tag before selecting the formula, so a
// record written with one derivation can never be silently inverted with
// another's formula.
func (r *Record) RealLengthCm(pixelLength, imageMaxDim, distanceCm float64) (float64, error) {
	switch r.Derivation {
	case DerivationReference:
		return RealLengthFromReference(r, pixelLength, imageMaxDim, distanceCm)
	case DerivationManual:
		return RealLengthFromManual(r, pixelLength, imageMaxDim, distanceCm)
	case DerivationFocalLength:
		return RealLengthFromFocal(r, pixelLength, imageMaxDim, distanceCm)
	default:
		return 0, ErrUnknownDerivation
	}
}
