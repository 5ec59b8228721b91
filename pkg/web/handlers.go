package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/tanagerlabs/go-fathom/pkg/calibration"
	"github.com/tanagerlabs/go-fathom/pkg/measure"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

// errorBody is the uniform failure payload. NextStep always carries an
// actionable instruction; a failure the user cannot act on is a bug.
type errorBody struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	NextStep string `json:"next_step"`
}

func fail(c *fiber.Ctx, status int, err error, nextStep string) error {
	return c.Status(status).JSON(errorBody{Error: err.Error(), NextStep: nextStep})
}

// engineError maps engine and platform failures onto HTTP statuses with
// remediation text. Negotiation denials keep their cause tag so the UI
// can branch on it.
func (s *Server) engineError(c *fiber.Ctx, err error) error {
	if ne, ok := platform.AsNegotiation(err); ok {
		return c.Status(fiber.StatusConflict).JSON(errorBody{
			Error:    ne.Error(),
			Cause:    string(ne.Cause),
			NextStep: ne.Remediation(),
		})
	}

	switch {
	case errors.Is(err, measure.ErrTrackingUnsupported):
		return c.Status(fiber.StatusConflict).JSON(errorBody{
			Error:    err.Error(),
			Cause:    string(platform.CauseUnsupported),
			NextStep: "This device cannot run spatial tracking. Calibrate with a manually entered distance instead.",
		})
	case errors.Is(err, measure.ErrSessionActive):
		return fail(c, fiber.StatusConflict, err,
			"A session is already running. Cancel it before starting another.")
	case errors.Is(err, measure.ErrNoSession):
		return fail(c, fiber.StatusConflict, err,
			"Start a session first.")
	case errors.Is(err, measure.ErrNotComplete):
		return fail(c, fiber.StatusConflict, err,
			"Place both points before confirming.")
	case errors.Is(err, measure.ErrAlreadyConfirmed):
		return fail(c, fiber.StatusConflict, err,
			"This measurement is already confirmed. Use redo to start a new one.")
	case errors.Is(err, measure.ErrEngineClosed):
		return fail(c, fiber.StatusServiceUnavailable, err,
			"The measurement engine is shut down. Restart the service.")
	case errors.Is(err, platform.ErrNoReferenceSpace):
		return fail(c, fiber.StatusConflict, err,
			"The device offers no usable reference space. Measure from a photo with calibration instead.")
	case errors.Is(err, context.Canceled):
		return fail(c, fiber.StatusConflict, err,
			"The start was cancelled. Start a new session when ready.")
	default:
		return fail(c, fiber.StatusInternalServerError, err,
			"Try again. If the failure repeats, restart the service.")
	}
}

func badRequest(c *fiber.Ctx, err error, nextStep string) error {
	return fail(c, fiber.StatusBadRequest, err, nextStep)
}

// ==================== Capability & Session ====================

func (s *Server) handleCapability(c *fiber.Ctx) error {
	capability, err := s.engine.Capability(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusBadGateway, err,
			"Check that the tracking device is reachable, then retry.")
	}
	return c.JSON(capability)
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	if err := s.engine.StartSession(c.UserContext()); err != nil {
		return s.engineError(c, err)
	}
	s.log.Info("session started via api")
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleSessionState(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot())
}

// handlePlace feeds a placement trigger through the same path as a
// spatial tap. Invalid placements (no surface, gate closed, already
// complete) are ignored silently; the returned snapshot tells the UI
// whether a point landed.
func (s *Server) handlePlace(c *fiber.Ctx) error {
	s.engine.Select()
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleConfirm(c *fiber.Ctx) error {
	if err := s.engine.ConfirmMeasurement(); err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleUndo(c *fiber.Ctx) error {
	if err := s.engine.Undo(); err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleRedo(c *fiber.Ctx) error {
	if err := s.engine.Redo(); err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleCancel(c *fiber.Ctx) error {
	if err := s.engine.Cancel(); err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(s.engine.Snapshot())
}

// ==================== Calibration ====================

// referenceRequest is the payload for reference-object calibration.
// Distances cross the boundary in meters and are converted to
// centimeters exactly once, here.
type referenceRequest struct {
	RefWidthCm     float64 `json:"ref_width_cm"`
	RefPixelWidth  float64 `json:"ref_pixel_width"`
	ImageMaxDim    float64 `json:"image_max_dim"`
	DistanceMeters float64 `json:"distance_meters"`
}

type focalRequest struct {
	FocalLengthMm float64 `json:"focal_length_mm"`
}

func (s *Server) handleCalibrateReference(c *fiber.Ctx) error {
	var req referenceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err, "Send a JSON body with ref_width_cm, ref_pixel_width, image_max_dim and distance_meters.")
	}

	// A tracked measurement is the default subject distance; an explicit
	// distance in the request overrides it.
	distance := req.DistanceMeters
	if distance == 0 {
		distance = s.lastMeasuredMeters()
	}
	if distance <= 0 {
		return badRequest(c, errors.New("web: no subject distance"),
			"Measure the camera-to-subject distance first, or supply distance_meters.")
	}

	rec, err := calibration.NewReferenceRecord(
		req.RefWidthCm, req.RefPixelWidth, req.ImageMaxDim,
		calibration.MetersToCm(distance))
	if err != nil {
		return badRequest(c, err, "All calibration inputs must be positive numbers.")
	}
	return s.saveRecord(c, rec)
}

func (s *Server) handleCalibrateManual(c *fiber.Ctx) error {
	var req referenceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err, "Send a JSON body with ref_width_cm, ref_pixel_width, image_max_dim and distance_meters.")
	}
	if req.DistanceMeters <= 0 {
		return badRequest(c, errors.New("web: no subject distance"),
			"Manual calibration needs distance_meters, the typed camera-to-subject distance.")
	}

	rec, err := calibration.NewManualRecord(
		req.RefWidthCm, req.RefPixelWidth, req.ImageMaxDim,
		calibration.MetersToCm(req.DistanceMeters))
	if err != nil {
		return badRequest(c, err, "All calibration inputs must be positive numbers.")
	}
	return s.saveRecord(c, rec)
}

func (s *Server) handleCalibrateFocal(c *fiber.Ctx) error {
	var req focalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err, "Send a JSON body with focal_length_mm.")
	}

	rec, err := calibration.NewFocalRecord(req.FocalLengthMm)
	if err != nil {
		return badRequest(c, err, "The 35mm-equivalent focal length must be a positive number.")
	}
	return s.saveRecord(c, rec)
}

func (s *Server) saveRecord(c *fiber.Ctx, rec *calibration.Record) error {
	if err := s.store.Save(rec); err != nil {
		return fail(c, fiber.StatusInternalServerError, err,
			"Check that the store path is writable, then recalibrate.")
	}
	s.log.Info("calibration saved",
		"id", rec.ID, "derivation", string(rec.Derivation), "scale", rec.ScaleConstant)
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleCalibrationLatest(c *fiber.Ctx) error {
	rec, err := s.store.Latest()
	if err != nil {
		if errors.Is(err, calibration.ErrNoRecords) {
			return fail(c, fiber.StatusNotFound, err,
				"Calibrate first: photograph a reference object or enter a focal length.")
		}
		return fail(c, fiber.StatusInternalServerError, err,
			"Check the store file, then retry.")
	}
	return c.JSON(rec)
}

func (s *Server) handleCalibrationList(c *fiber.Ctx) error {
	recs, err := s.store.List()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err,
			"Check the store file, then retry.")
	}
	return c.JSON(recs)
}

// ==================== Photo measurement ====================

type convertRequest struct {
	PixelLength    float64 `json:"pixel_length"`
	ImageMaxDim    float64 `json:"image_max_dim"`
	DistanceMeters float64 `json:"distance_meters"`
}

type convertResponse struct {
	LengthMeters float64 `json:"length_meters"`
	RecordID     string  `json:"record_id"`
	Derivation   string  `json:"derivation"`
}

// handleConvert turns a pixel length measured on a photo into a real
// length, using the latest calibration record's derivation-matched
// inverse.
func (s *Server) handleConvert(c *fiber.Ctx) error {
	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err, "Send a JSON body with pixel_length, image_max_dim and distance_meters.")
	}

	rec, err := s.store.Latest()
	if err != nil {
		if errors.Is(err, calibration.ErrNoRecords) {
			return fail(c, fiber.StatusNotFound, err,
				"Calibrate first: photograph a reference object or enter a focal length.")
		}
		return fail(c, fiber.StatusInternalServerError, err,
			"Check the store file, then retry.")
	}

	lengthCm, err := rec.RealLengthCm(
		req.PixelLength, req.ImageMaxDim,
		calibration.MetersToCm(req.DistanceMeters))
	if err != nil {
		return badRequest(c, err, "All conversion inputs must be positive numbers.")
	}

	return c.JSON(convertResponse{
		LengthMeters: calibration.CmToMeters(lengthCm),
		RecordID:     rec.ID,
		Derivation:   string(rec.Derivation),
	})
}
