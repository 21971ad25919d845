package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
)

// NoSpeech is returned as the text when the engine hears nothing.
const NoSpeech = "(no text found)"

var (
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
	ErrTranscriptionFailed      = errors.New("transcription failed")
)

// Transcribe resolves the source, extracts its audio track and returns the
// engine's transcript. The work dir is released before returning.
func (s *ClipService) Transcribe(ctx context.Context, req *model.TranscribeRequest) (*model.TranscribeResponse, error) {
	if s.transcriber == nil || s.transcoder == nil || !s.transcriber.IsConfigured() {
		return nil, ErrTranscriptionUnavailable
	}
	if req == nil {
		return nil, invalidRequest("empty request")
	}
	if (req.Upload == nil) == (req.URL == "") {
		return nil, invalidRequest("provide either a file or a URL")
	}

	resp := &model.TranscribeResponse{}
	ref := pipeline.SourceRef{Upload: req.Upload, UploadName: req.UploadName, URL: req.URL}
	err := s.resolver.WithSource(ctx, ref, func(src *pipeline.LocalSource) error {
		resp.SourceName = src.Name

		audio := filepath.Join(src.Dir, "transcript.mp3")
		if err := pipeline.ExtractAudio(ctx, s.transcoder, src.Path, audio, s.cfg.ExtractTimeout); err != nil {
			return err
		}

		text, err := s.transcriber.Transcribe(ctx, audio)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
		}
		resp.Text = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Text == "" {
		resp.Text = NoSpeech
	}
	resp.CompletedAt = time.Now()

	s.logger.Info("source transcribed",
		slog.String("source", resp.SourceName),
		slog.Int("chars", len(resp.Text)),
	)
	return resp, nil
}
