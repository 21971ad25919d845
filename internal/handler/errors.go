package handler

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/pipeline"
	"github.com/clipforge/api/internal/service"
	"github.com/clipforge/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Namespace()] = e.Tag()
		}
		return fields
	}
	return nil
}

// StatusFor maps a pipeline error kind onto an HTTP status.
func StatusFor(kind pipeline.ErrorKind) int {
	switch {
	case kind.IsRequestError():
		return fiber.StatusBadRequest
	case kind == pipeline.KindSourceFetchFailure:
		return fiber.StatusBadGateway
	case kind == pipeline.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err in the standard envelope. Pipeline errors keep
// their kind as the code and attach the diagnostic tail.
func respondError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var fe *formError
	switch {
	case errors.As(err, &fe):
		return response.ValidationError(c, fe.message, fe.details)
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.Conflict(c, "Job not completed yet")
	case errors.Is(err, service.ErrTranscriptionUnavailable):
		return response.Unavailable(c, "Transcription is not configured")
	case errors.Is(err, service.ErrTranscriptionFailed):
		logger.Warn("transcription failed", slog.String("error", err.Error()))
		return response.UpstreamError(c, "Transcription service failed")
	}

	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		logger = logging.WithRequestID(logger, id)
	}

	pe, ok := pipeline.AsError(err)
	if !ok {
		logger.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
		return response.ServiceError(c, "Internal error")
	}

	var details interface{}
	if pe.Diagnostic != "" || pe.FastPathTried {
		details = fiber.Map{"diagnostic": pe.Diagnostic, "fastPathTried": pe.FastPathTried}
	}
	if !pe.Kind.IsRequestError() {
		logger.Warn("clip failed", slog.String("kind", string(pe.Kind)), slog.String("error", pe.Error()))
	}
	return response.Error(c, StatusFor(pe.Kind), string(pe.Kind), pe.Message, details)
}
