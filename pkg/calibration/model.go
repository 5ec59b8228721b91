// Package calibration converts pixel measurements in static photos into
// real-world lengths. A calibration session derives a single scale
// constant, either from a reference object of known size, from a manually
// entered subject distance, or from the camera's 35 mm-equivalent focal
// length. Every later photo measurement applies the inverse formula
// matching that derivation.
//
// All model functions are pure and stateless, and all distances are in
// centimeters. Unit conversion happens at the caller's boundary, never
// inside this package.
package calibration

// FullFrameSensorWidthMm is the standard full-frame sensor width used to
// normalize 35 mm-equivalent focal lengths.
const FullFrameSensorWidthMm = 36.0

// ReferenceScale computes the scale constant from a reference object of
// known physical width photographed at a known distance:
//
//	k = (refWidthCm × imageMaxDim) / (refPixelWidth × distanceCm)
//
// refWidthCm is the object's physical width in centimeters, refPixelWidth
// its measured width in pixels, imageMaxDim the photo's larger pixel
// dimension, and distanceCm the camera-to-subject distance in centimeters.
func ReferenceScale(refWidthCm, refPixelWidth, imageMaxDim, distanceCm float64) (float64, error) {
	if err := requirePositive(refWidthCm, refPixelWidth, imageMaxDim, distanceCm); err != nil {
		return 0, err
	}
	return (refWidthCm * imageMaxDim) / (refPixelWidth * distanceCm), nil
}

// FocalLengthScale computes the scale constant from a 35 mm-equivalent
// focal length reported by the camera:
//
//	k = 36.0 / focalLengthMm
//
// No photographed reference object is involved.
func FocalLengthScale(focalLengthMm float64) (float64, error) {
	if err := requirePositive(focalLengthMm); err != nil {
		return 0, err
	}
	return FullFrameSensorWidthMm / focalLengthMm, nil
}

// realLengthCm is the shared inverse: a pixel length on a photo of max
// dimension imageMaxDim, taken at distanceCm, converts to centimeters.
// Algebraically identical for every derivation; what differs per tag is
// the validation in the entry points below.
func realLengthCm(scale, pixelLength, imageMaxDim, distanceCm float64) (float64, error) {
	if err := requirePositive(scale, pixelLength, imageMaxDim, distanceCm); err != nil {
		return 0, err
	}
	return (pixelLength * scale * distanceCm) / imageMaxDim, nil
}

// RealLengthFromReference applies the reference-object inverse formula.
// The record must carry the reference-object derivation tag.
func RealLengthFromReference(rec *Record, pixelLength, imageMaxDim, distanceCm float64) (float64, error) {
	if rec.Derivation != DerivationReference {
		return 0, ErrDerivationMismatch
	}
	return realLengthCm(rec.ScaleConstant, pixelLength, imageMaxDim, distanceCm)
}

// RealLengthFromManual applies the manual-distance inverse formula.
// The record must carry the manual-distance derivation tag.
func RealLengthFromManual(rec *Record, pixelLength, imageMaxDim, distanceCm float64) (float64, error) {
	if rec.Derivation != DerivationManual {
		return 0, ErrDerivationMismatch
	}
	return realLengthCm(rec.ScaleConstant, pixelLength, imageMaxDim, distanceCm)
}

// RealLengthFromFocal applies the focal-length inverse formula.
// The record must carry the focal-length derivation tag.
func RealLengthFromFocal(rec *Record, pixelLength, imageMaxDim, distanceCm float64) (float64, error) {
	if rec.Derivation != DerivationFocalLength {
		return 0, ErrDerivationMismatch
	}
	return realLengthCm(rec.ScaleConstant, pixelLength, imageMaxDim, distanceCm)
}

func requirePositive(vals ...float64) error {
	for _, v := range vals {
		if v <= 0 {
			return ErrNonPositiveInput
		}
	}
	return nil
}
