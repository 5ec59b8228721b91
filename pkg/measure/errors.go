package measure

import "errors"

var (
	// ErrTrackingUnsupported means the device cannot run spatial
	// tracking. Not a failure of this engine: callers route to the
	// manual-entry path instead.
	ErrTrackingUnsupported = errors.New("measure: tracking not supported on this device")

	// ErrSessionActive rejects a second session while one is live.
	ErrSessionActive = errors.New("measure: a tracking session is already active")

	// ErrNoSession is returned by operations that need a live session.
	ErrNoSession = errors.New("measure: no active tracking session")

	// ErrNotComplete is returned by ConfirmMeasurement before both
	// points are placed.
	ErrNotComplete = errors.New("measure: measurement is not complete")

	// ErrAlreadyConfirmed guards the exactly-once confirmation
	// contract. Redo re-arms it.
	ErrAlreadyConfirmed = errors.New("measure: measurement already confirmed")

	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("measure: engine is closed")
)
