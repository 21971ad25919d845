package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/middleware"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
	"github.com/clipforge/api/internal/service"
	"github.com/clipforge/api/pkg/response"
)

type ClipHandler struct {
	clips     *service.ClipService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewClipHandler(svc *service.ClipService, v *validator.Validate, logger *slog.Logger) *ClipHandler {
	return &ClipHandler{
		clips:     svc,
		validator: v,
		logger:    logging.WithComponent(logger, "clip_handler"),
	}
}

// Clip handles POST /api/clip: one start/end pair, answered synchronously.
func (h *ClipHandler) Clip(c *fiber.Ctx) error {
	req, closeUpload, err := parseClipForm(c, h.validator, false)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	defer closeUpload()

	result, err := h.clips.Clip(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	item := absolutizeItem(c, result.Items[0])
	if !item.OK {
		e := item.Error
		return response.Error(c, StatusFor(pipeline.ErrorKind(e.Code)), e.Code, e.Message, fiber.Map{
			"diagnostic":    e.Diagnostic,
			"fastPathTried": e.FastPathTried,
		})
	}
	return response.OK(c, item)
}

// Multi handles POST /api/clip/multi: several sections of one source.
// Partial failures are reported per item with a 200.
func (h *ClipHandler) Multi(c *fiber.Ctx) error {
	req, closeUpload, err := parseClipForm(c, h.validator, true)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	defer closeUpload()

	result, err := h.clips.Clip(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return response.OK(c, absolutize(c, result))
}

// History handles GET /api/history.
func (h *ClipHandler) History(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Sign in to see your history")
	}

	result, err := h.clips.History(c.UserContext(), userID)
	if err != nil {
		h.logger.Warn("history lookup failed", slog.String("error", err.Error()))
		return response.UpstreamError(c, "History service unavailable")
	}
	return response.OK(c, result)
}

// formError is a malformed clip form, answered with VALIDATION_ERROR.
type formError struct {
	message string
	details interface{}
}

func (e *formError) Error() string { return e.message }

// parseClipForm reads the multipart form shared by every clip endpoint.
// Nothing is written to c; a bad form comes back as a *formError.
func parseClipForm(c *fiber.Ctx, v *validator.Validate, multi bool) (*model.ClipRequest, func(), error) {
	noop := func() {}

	req := &model.ClipRequest{
		OwnerID:           middleware.GetUserID(c),
		URL:               strings.TrimSpace(c.FormValue("url")),
		Watermark:         formBool(c, "watermark", false),
		WatermarkText:     c.FormValue("wm_text"),
		Preview:           formBool(c, "preview_480", true),
		Final:             formBool(c, "final_1080", false),
		IncludeTranscript: formBool(c, "include_transcript", false),
	}

	if multi {
		sections, err := parseSections(c.FormValue("sections"))
		if err != nil {
			return nil, noop, &formError{message: err.Error()}
		}
		req.Sections = sections
	} else {
		req.Sections = []model.Section{{Start: c.FormValue("start"), End: c.FormValue("end")}}
	}

	if err := v.Struct(req); err != nil {
		return nil, noop, &formError{message: "Validation failed", details: formatValidationErrors(err)}
	}

	// Missing file or a plain url-encoded form: the url is the source.
	fh, err := c.FormFile("file")
	if err != nil {
		return req, noop, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, noop, &formError{message: "Unreadable upload"}
	}
	req.Upload = f
	req.UploadName = fh.Filename
	return req, func() { closeQuietly(f) }, nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}

// parseSections accepts a JSON list of {start,end}; endpoints may be
// timestamps or plain numbers.
func parseSections(raw string) ([]model.Section, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("sections is required")
	}

	var items []struct {
		Start interface{} `json:"start"`
		End   interface{} `json:"end"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("sections must be a JSON list of {start, end}")
	}

	sections := make([]model.Section, len(items))
	for i, it := range items {
		sections[i] = model.Section{Start: stringify(it.Start), End: stringify(it.End)}
	}
	return sections, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func formBool(c *fiber.Ctx, key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(c.FormValue(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// absolutize prefixes host-relative artifact URLs with the request's base URL.
func absolutize(c *fiber.Ctx, resp *model.ClipResponse) *model.ClipResponse {
	out := *resp
	out.Items = make([]model.ClipItem, len(resp.Items))
	for i, it := range resp.Items {
		out.Items[i] = absolutizeItem(c, it)
	}
	out.ZipURL = absoluteURL(c, resp.ZipURL)
	return &out
}

func absolutizeItem(c *fiber.Ctx, it model.ClipItem) model.ClipItem {
	it.PreviewURL = absoluteURL(c, it.PreviewURL)
	it.FinalURL = absoluteURL(c, it.FinalURL)
	return it
}

func absoluteURL(c *fiber.Ctx, u *string) *string {
	if u == nil || !strings.HasPrefix(*u, "/") {
		return u
	}
	abs := c.BaseURL() + *u
	return &abs
}
