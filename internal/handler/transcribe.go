package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/middleware"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/pkg/response"
)

// Transcribe handles POST /api/transcribe: the whole source, file or url,
// turned into text.
func (h *ClipHandler) Transcribe(c *fiber.Ctx) error {
	req := &model.TranscribeRequest{
		OwnerID: middleware.GetUserID(c),
		URL:     strings.TrimSpace(c.FormValue("url")),
	}

	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return respondError(c, h.logger, &formError{message: "Unreadable upload"})
		}
		defer closeQuietly(f)
		req.Upload = f
		req.UploadName = fh.Filename
	}

	if err := h.validator.Struct(req); err != nil {
		return respondError(c, h.logger, &formError{message: "Validation failed", details: formatValidationErrors(err)})
	}

	result, err := h.clips.Transcribe(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return response.OK(c, result)
}
