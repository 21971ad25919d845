package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
)

const watermarkStyle = "x=w-tw-20:y=h-th-20:fontcolor=white:fontsize=28:box=1:boxcolor=black@0.45:boxborderw=10"

// TranscodeOutput holds the artifacts produced for one range.
type TranscodeOutput struct {
	Preview *ClipArtifact
	Final   *ClipArtifact
}

// Executor drives the transcoding engine with the fast-path/fallback strategy.
type Executor struct {
	transcoder client.Transcoder
	prober     client.Prober
	cfg        *config.PipelineConfig
	previewDir string
	exportDir  string
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor writing previews and exports into the
// directories named by storage. prober may be nil.
func NewExecutor(transcoder client.Transcoder, prober client.Prober, cfg *config.PipelineConfig, storage *config.StorageConfig, logger *slog.Logger) *Executor {
	return &Executor{
		transcoder: transcoder,
		prober:     prober,
		cfg:        cfg,
		previewDir: storage.PreviewDir,
		exportDir:  storage.ExportDir,
		logger:     logger.With("component", "executor"),
		now:        time.Now,
	}
}

// Transcode produces the requested tiers for one range. Tiers run in order,
// preview first; the first failing tier fails the whole call.
func (e *Executor) Transcode(ctx context.Context, src *LocalSource, r TimeRange, watermark string, wantPreview, wantFinal bool) (*TranscodeOutput, error) {
	if !wantPreview && !wantFinal {
		return nil, newError(KindInvalidRequest, "transcode", "neither preview nor final requested")
	}
	if err := ValidateRange(r.Start, r.End, 0); err != nil {
		return nil, err
	}

	drawtext := ""
	if cleanWatermark(watermark) != "" {
		drawtext = drawtextFilter(watermark)
	}

	out := &TranscodeOutput{}
	if wantPreview {
		path := e.outputPath(e.previewDir, src, r, "prev")
		a, err := e.preview(ctx, src.Path, path, r, drawtext)
		if err != nil {
			return nil, err
		}
		out.Preview = a
	}
	if wantFinal {
		path := e.outputPath(e.exportDir, src, r, "1080")
		a, err := e.final(ctx, src.Path, path, r, drawtext)
		if err != nil {
			return nil, err
		}
		out.Final = a
	}
	return out, nil
}

func (e *Executor) preview(ctx context.Context, input, output string, r TimeRange, drawtext string) (*ClipArtifact, error) {
	p := e.cfg.Preview
	reencode := &client.TranscodeRequest{
		InputPath:    input,
		OutputPath:   output,
		Start:        r.Start,
		Duration:     r.Duration(),
		VideoCodec:   "libx264",
		Preset:       p.Preset,
		CRF:          p.CRF,
		AudioCodec:   "aac",
		AudioBitrate: p.AudioBitrate,
		Filter:       videoFilter(p.Height, drawtext),
		FastStart:    true,
	}

	if drawtext != "" {
		if err := e.attempt(ctx, "preview", reencode, p.Timeout); err != nil {
			return nil, err
		}
		return e.artifact(ctx, KindPreview, output), nil
	}

	fast := &client.TranscodeRequest{
		InputPath:  input,
		OutputPath: output,
		Start:      r.Start,
		Duration:   r.Duration(),
		StreamCopy: true,
		FastStart:  true,
	}
	fastErr := e.attempt(ctx, "preview fast path", fast, e.cfg.CopyTimeout)
	if fastErr == nil {
		return e.artifact(ctx, KindPreview, output), nil
	}
	if k := KindOf(fastErr); k == KindTimeout || k == KindCanceled {
		return nil, fastErr
	}

	e.logger.Info("fast path failed, re-encoding preview", "output", filepath.Base(output), "error", fastErr)
	if err := e.attempt(ctx, "preview fallback", reencode, p.Timeout); err != nil {
		pe := toError(err)
		pe.FastPathTried = true
		if pe.Kind == KindTranscodeFailure || pe.Kind == KindOutputMissing {
			pe.Kind = KindTranscodeFailure
			pe.Message = "fast path and re-encode fallback both failed: " + pe.Message
		}
		return nil, pe
	}
	return e.artifact(ctx, KindPreview, output), nil
}

func (e *Executor) final(ctx context.Context, input, output string, r TimeRange, drawtext string) (*ClipArtifact, error) {
	p := e.cfg.Final
	req := &client.TranscodeRequest{
		InputPath:    input,
		OutputPath:   output,
		Start:        r.Start,
		Duration:     r.Duration(),
		VideoCodec:   "libx264",
		Preset:       p.Preset,
		CRF:          p.CRF,
		AudioCodec:   "aac",
		AudioBitrate: p.AudioBitrate,
		Filter:       videoFilter(p.Height, drawtext),
		FastStart:    true,
	}
	if err := e.attempt(ctx, "final", req, p.Timeout); err != nil {
		return nil, err
	}
	return e.artifact(ctx, KindFinal, output), nil
}

// attempt runs one transcoder invocation under its own timeout.
func (e *Executor) attempt(ctx context.Context, op string, req *client.TranscodeRequest, timeout time.Duration) error {
	return runBounded(ctx, e.transcoder, op, req, timeout, e.diagLimit())
}

// runBounded runs one subprocess under its own timeout, falling back to
// defaultSubprocessTimeout when none is configured. On any failure the
// output file is removed so nothing partial is left behind.
func runBounded(ctx context.Context, tr client.Transcoder, op string, req *client.TranscodeRequest, timeout time.Duration, diagLimit int) error {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return &Error{Kind: KindTranscodeFailure, Op: op, Message: "cannot create output directory", Err: err}
	}
	if timeout <= 0 {
		timeout = defaultSubprocessTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := invoke(ctx, tctx, tr, op, req, timeout, diagLimit)
	if err != nil {
		_ = os.Remove(req.OutputPath)
	}
	return err
}

func invoke(parent, ctx context.Context, tr client.Transcoder, op string, req *client.TranscodeRequest, timeout time.Duration, diagLimit int) error {
	res, err := tr.Transcode(ctx, req)
	diag := ""
	if res != nil {
		diag = Truncate(res.Diagnostics, diagLimit)
	}

	if err != nil {
		switch {
		case parent.Err() != nil:
			return &Error{Kind: KindCanceled, Op: op, Message: "canceled", Diagnostic: diag, Err: parent.Err()}
		case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			return &Error{Kind: KindTimeout, Op: op, Message: fmt.Sprintf("exceeded %s", timeout), Diagnostic: diag, Err: err}
		default:
			return &Error{Kind: KindTranscodeFailure, Op: op, Message: "transcoder did not run", Diagnostic: diag, Err: err}
		}
	}
	if res.ExitCode != 0 {
		return &Error{Kind: KindTranscodeFailure, Op: op, Message: fmt.Sprintf("transcoder exited with code %d", res.ExitCode), Diagnostic: diag}
	}

	info, statErr := os.Stat(req.OutputPath)
	if statErr != nil || info.Size() == 0 {
		return &Error{Kind: KindOutputMissing, Op: op, Message: "transcoder produced no output", Diagnostic: diag}
	}
	return nil
}

// artifact stats and probes a finished output. Probing is best effort.
func (e *Executor) artifact(ctx context.Context, kind ArtifactKind, path string) *ClipArtifact {
	a := &ClipArtifact{Kind: kind, Path: path}
	if info, err := os.Stat(path); err == nil {
		size := info.Size()
		a.SizeBytes = &size
	}
	if e.prober != nil {
		if d, err := e.prober.ProbeDuration(ctx, path); err == nil {
			a.ProbedDuration = &d
		} else {
			e.logger.Debug("probe failed", "path", filepath.Base(path), "error", err)
		}
	}
	return a
}

func (e *Executor) diagLimit() int {
	if e.cfg.DiagnosticLimit > 0 {
		return e.cfg.DiagnosticLimit
	}
	return 4000
}

// outputPath is unique per call: the timestamp plus a random suffix keeps
// concurrent jobs on identical ranges apart.
func (e *Executor) outputPath(dir string, src *LocalSource, r TimeRange, tier string) string {
	stamp := e.now().UTC().Format("20060102_150405.000000")
	stamp = strings.Replace(stamp, ".", "_", 1)
	name := fmt.Sprintf("%s_%s_%s_%s_%s.mp4", src.BaseName(), r.label(), tier, stamp, uuid.NewString()[:8])
	return filepath.Join(dir, name)
}

// videoFilter scales to height, rounding the width to an even number, and
// appends the watermark when present.
func videoFilter(height int, drawtext string) string {
	f := ""
	if height > 0 {
		f = fmt.Sprintf("scale=-2:%d:flags=lanczos", height)
	}
	if drawtext == "" {
		return f
	}
	if f == "" {
		return drawtext
	}
	return f + "," + drawtext
}

func drawtextFilter(text string) string {
	return "drawtext=text=" + EscapeDrawtext(text) + ":expansion=none:" + watermarkStyle
}
