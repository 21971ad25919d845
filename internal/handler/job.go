package handler

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/middleware"
	"github.com/clipforge/api/internal/service"
	"github.com/clipforge/api/pkg/response"
)

type JobHandler struct {
	service   *service.ClipJobService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewJobHandler(svc *service.ClipJobService, v *validator.Validate, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
		logger:    logging.WithComponent(logger, "job_handler"),
	}
}

// Start handles POST /api/clip/jobs
func (h *JobHandler) Start(c *fiber.Ctx) error {
	req, closeUpload, err := parseClipForm(c, h.validator, true)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	defer closeUpload()

	result, err := h.service.StartJob(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	h.logger.Info("clip job queued",
		slog.String("job_id", result.JobID),
		slog.Int("segments", result.Segments),
	)
	return response.Accepted(c, result)
}

// Status handles GET /api/clip/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return response.OK(c, result)
}

// Result handles GET /api/clip/jobs/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return response.OK(c, absolutize(c, result))
}
