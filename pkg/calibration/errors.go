package calibration

import "errors"

// Sentinel errors for the calibration package.
var (
	// ErrNonPositiveInput indicates a model input that must be strictly
	// positive was zero or negative.
	ErrNonPositiveInput = errors.New("calibration: input must be positive")

	// ErrDerivationMismatch indicates an inverse formula was applied to a
	// record carrying a different derivation tag. This is a programming
	// error in the caller, never a user-facing condition.
	ErrDerivationMismatch = errors.New("calibration: derivation tag does not match formula")

	// ErrUnknownDerivation indicates a record carries a derivation tag the
	// model does not know how to invert.
	ErrUnknownDerivation = errors.New("calibration: unknown derivation tag")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("calibration: record not found")

	// ErrNoRecords indicates the store holds no records yet.
	ErrNoRecords = errors.New("calibration: no records stored")
)
