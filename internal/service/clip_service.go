package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
)

const (
	historyTimeout = 10 * time.Second
	historyLimit   = 50
)

// ProgressFunc observes a batch as its sections settle. Calls are serialized.
type ProgressFunc func(settled, total int, item model.ClipItem)

// ClipService runs a clip request end to end: resolve the source, cut every
// section, bundle finals, publish URLs and record usage.
type ClipService struct {
	resolver     *pipeline.Resolver
	orchestrator *pipeline.Orchestrator
	bundler      *pipeline.Bundler
	publisher    Publisher
	cfg          *config.PipelineConfig
	logger       *slog.Logger

	transcoder  client.Transcoder
	transcriber client.Transcriber
	history     client.HistoryStore

	pending sync.WaitGroup
}

func NewClipService(resolver *pipeline.Resolver, orchestrator *pipeline.Orchestrator, bundler *pipeline.Bundler, publisher Publisher, cfg *config.PipelineConfig, logger *slog.Logger) *ClipService {
	return &ClipService{
		resolver:     resolver,
		orchestrator: orchestrator,
		bundler:      bundler,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logging.WithComponent(logger, "clip_service"),
	}
}

// WithTranscription enables per-section transcripts. The transcoder extracts
// audio and the transcriber turns it into text.
func (s *ClipService) WithTranscription(transcoder client.Transcoder, transcriber client.Transcriber) *ClipService {
	s.transcoder = transcoder
	s.transcriber = transcriber
	return s
}

// WithHistory enables history rows and usage charging for authenticated callers.
func (s *ClipService) WithHistory(history client.HistoryStore) *ClipService {
	s.history = history
	return s
}

// Ranges validates the request and returns its parsed sections. Nothing is
// fetched or transcoded, so the handler can reject bad input synchronously.
func (s *ClipService) Ranges(req *model.ClipRequest) ([]pipeline.TimeRange, error) {
	if req == nil {
		return nil, invalidRequest("empty request")
	}
	if !req.Preview && !req.Final {
		return nil, invalidRequest("at least one of preview or final must be requested")
	}
	if (req.Upload == nil) == (req.URL == "") {
		return nil, invalidRequest("provide either a file or a URL")
	}
	if max := s.cfg.MaxSegments; max > 0 && len(req.Sections) > max {
		return nil, invalidRequest("too many sections: %d (max %d)", len(req.Sections), max)
	}
	if len(req.Sections) == 0 {
		return nil, invalidRequest("at least one section is required")
	}

	ranges := make([]pipeline.TimeRange, len(req.Sections))
	for i, sec := range req.Sections {
		r, err := pipeline.ParseRange(sec.Start, sec.End, s.cfg.MaxClipSeconds)
		if err != nil {
			if pe, ok := pipeline.AsError(err); ok && len(req.Sections) > 1 {
				pe.Message = fmt.Sprintf("section %d: %s", i+1, pe.Message)
			}
			return nil, err
		}
		ranges[i] = r
	}
	return ranges, nil
}

// Clip runs the request synchronously.
func (s *ClipService) Clip(ctx context.Context, req *model.ClipRequest) (*model.ClipResponse, error) {
	return s.Run(ctx, req, nil)
}

// Run executes the request, reporting each settled section to progress.
// Request errors and source failures are returned as *pipeline.Error; segment
// failures are carried in the response items.
func (s *ClipService) Run(ctx context.Context, req *model.ClipRequest, progress ProgressFunc) (*model.ClipResponse, error) {
	ranges, err := s.Ranges(req)
	if err != nil {
		return nil, err
	}

	opts := pipeline.JobOptions{WantPreview: req.Preview, WantFinal: req.Final}
	if req.Watermark {
		opts.Watermark = req.WatermarkText
		if strings.TrimSpace(opts.Watermark) == "" {
			opts.Watermark = s.cfg.DefaultWatermark
		}
	}

	ref := pipeline.SourceRef{Upload: req.Upload, UploadName: req.UploadName, URL: req.URL}
	resp := &model.ClipResponse{Items: make([]model.ClipItem, len(ranges))}

	err = s.resolver.WithSource(ctx, ref, func(src *pipeline.LocalSource) error {
		resp.SourceName = src.Name
		settled := 0

		results, err := s.orchestrator.RunMany(ctx, src, ranges, opts, func(i int, res pipeline.ClipResult) {
			resp.Items[i] = s.item(ctx, i, res)
			settled++
			if progress != nil {
				progress(settled, len(ranges), resp.Items[i])
			}
		})
		if err != nil {
			return err
		}

		if req.IncludeTranscript {
			s.transcribe(ctx, src, results, resp.Items)
		}
		if req.Final {
			s.bundle(ctx, results, resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, it := range resp.Items {
		if it.OK {
			resp.TotalSeconds += it.Duration
		}
	}
	resp.CompletedAt = time.Now()

	s.record(req.OwnerID, resp)
	return resp, nil
}

// item maps a settled result onto its response shape, publishing artifacts.
func (s *ClipService) item(ctx context.Context, index int, res pipeline.ClipResult) model.ClipItem {
	it := model.ClipItem{
		Index:    index,
		Start:    pipeline.FormatSeconds(res.Range.Start),
		End:      pipeline.FormatSeconds(res.Range.End),
		Duration: res.Range.Duration(),
		OK:       res.OK(),
	}
	if !res.OK() {
		it.Error = itemError(res.Err)
		return it
	}

	if a := res.Preview; a != nil {
		it.PreviewURL = s.publish(ctx, CategoryPreviews, a.Path)
		it.PreviewSeconds = a.ProbedDuration
		it.PreviewBytes = a.SizeBytes
	}
	if a := res.Final; a != nil {
		it.FinalURL = s.publish(ctx, CategoryExports, a.Path)
		it.FinalSeconds = a.ProbedDuration
		it.FinalBytes = a.SizeBytes
	}
	return it
}

func (s *ClipService) publish(ctx context.Context, category, path string) *string {
	u, err := s.publisher.Publish(ctx, category, path)
	if err != nil {
		s.logger.Error("failed to publish artifact",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &u
}

// bundle zips the finals. A failed archive is logged and the items stand on their own.
func (s *ClipService) bundle(ctx context.Context, results []pipeline.ClipResult, resp *model.ClipResponse) {
	arc, err := s.bundler.Bundle(results)
	if err != nil {
		s.logger.Error("failed to bundle exports", slog.String("error", err.Error()))
		return
	}
	if arc == nil {
		return
	}
	resp.ZipURL = s.publish(ctx, CategoryExports, arc.Path)
	size := arc.SizeBytes
	resp.ZipBytes = &size
}

// transcribe fills Transcript for every successful section. The audio is
// extracted into the source's work dir so it goes away with the source.
func (s *ClipService) transcribe(ctx context.Context, src *pipeline.LocalSource, results []pipeline.ClipResult, items []model.ClipItem) {
	if s.transcriber == nil || s.transcoder == nil || !s.transcriber.IsConfigured() {
		return
	}

	for i, res := range results {
		if !res.OK() {
			continue
		}
		input := res.Preview
		if input == nil {
			input = res.Final
		}
		if input == nil {
			continue
		}

		audio := filepath.Join(src.Dir, fmt.Sprintf("transcript_%d.mp3", i))
		if err := pipeline.ExtractAudio(ctx, s.transcoder, input.Path, audio, s.cfg.ExtractTimeout); err != nil {
			s.logger.Warn("audio extraction failed", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}

		text, err := s.transcriber.Transcribe(ctx, audio)
		if err != nil {
			s.logger.Warn("transcription failed", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		items[i].Transcript = text
	}
}

// record writes the history row and charges usage in the background.
func (s *ClipService) record(ownerID string, resp *model.ClipResponse) {
	if ownerID == "" || s.history == nil || !s.history.IsConfigured() {
		return
	}

	entry := &model.HistoryEntry{
		UserID:     ownerID,
		JobType:    model.JobTypeClip,
		SourceName: resp.SourceName,
		Duration:   resp.TotalSeconds,
		Segments:   len(resp.Items),
		Succeeded:  resp.Succeeded(),
		ZipURL:     resp.ZipURL,
	}
	seconds := int(math.Ceil(resp.TotalSeconds))

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()

		logger := s.logger.With(slog.String("user_id", ownerID))
		if err := s.history.Record(ctx, entry); err != nil {
			logger.Warn("failed to record history", slog.String("error", err.Error()))
		}
		if seconds > 0 {
			if err := s.history.ChargeSeconds(ctx, ownerID, seconds); err != nil {
				logger.Warn("failed to charge usage", slog.String("error", err.Error()))
			}
		}
	}()
}

// History lists the caller's recent runs. Without a history backend the list is empty.
func (s *ClipService) History(ctx context.Context, userID string) (*model.HistoryResponse, error) {
	resp := &model.HistoryResponse{Items: []model.HistoryEntry{}}
	if s.history == nil || !s.history.IsConfigured() {
		return resp, nil
	}
	rows, err := s.history.List(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if rows != nil {
		resp.Items = rows
	}
	return resp, nil
}

// Wait blocks until background history writes have finished.
func (s *ClipService) Wait() {
	s.pending.Wait()
}

func itemError(pe *pipeline.Error) *model.ItemError {
	return &model.ItemError{
		Code:          string(pe.Kind),
		Message:       pe.Message,
		Diagnostic:    pe.Diagnostic,
		FastPathTried: pe.FastPathTried,
	}
}

func invalidRequest(format string, args ...any) *pipeline.Error {
	return &pipeline.Error{
		Kind:    pipeline.KindInvalidRequest,
		Op:      "clip",
		Message: fmt.Sprintf(format, args...),
	}
}
