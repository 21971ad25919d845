package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/clipforge/api/internal/config"
)

// TranscodeRequest describes one ffmpeg invocation.
type TranscodeRequest struct {
	InputPath  string
	OutputPath string
	// Start is the seek offset in seconds. Duration 0 means to the end of input.
	Start    float64
	Duration float64

	// StreamCopy copies every stream without re-encoding.
	StreamCopy bool

	VideoCodec   string
	Preset       string
	CRF          int
	AudioCodec   string
	AudioBitrate string
	// Filter is a -vf filter graph.
	Filter string

	// AudioOnly drops the video stream (used to extract audio for transcription).
	AudioOnly bool
	FastStart bool
}

// Transcoder runs the transcoding engine.
type Transcoder interface {
	Transcode(ctx context.Context, req *TranscodeRequest) (*RunResult, error)
}

// Prober reads container metadata.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// FFmpegClient implements Transcoder and Prober with the ffmpeg and ffprobe binaries.
type FFmpegClient struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
}

// FFmpegOption is a functional option for configuring FFmpegClient
type FFmpegOption func(*FFmpegClient)

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner CommandRunner) FFmpegOption {
	return func(c *FFmpegClient) {
		c.runner = runner
	}
}

// NewFFmpegClient creates a new FFmpeg client
func NewFFmpegClient(cfg *config.FFmpegConfig, logger *slog.Logger, opts ...FFmpegOption) *FFmpegClient {
	c := &FFmpegClient{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		runner:      &ExecCommandRunner{Logger: logger},
	}
	if c.ffmpegPath == "" {
		c.ffmpegPath = "ffmpeg"
	}
	if c.ffprobePath == "" {
		c.ffprobePath = "ffprobe"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcode implements Transcoder
func (c *FFmpegClient) Transcode(ctx context.Context, req *TranscodeRequest) (*RunResult, error) {
	return c.runner.Run(ctx, c.ffmpegPath, TranscodeArgs(req)...)
}

// ProbeDuration implements Prober
func (c *FFmpegClient) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res, err := c.runner.Run(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Diagnostics))
	}
	out := strings.TrimSpace(res.Stdout)
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q", out)
	}
	return d, nil
}

// VerifyInstalled checks that ffmpeg is available
func (c *FFmpegClient) VerifyInstalled(ctx context.Context) error {
	res, err := c.runner.Run(ctx, c.ffmpegPath, "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ffmpeg -version exited with code %d", res.ExitCode)
	}
	return nil
}

// TranscodeArgs builds the ffmpeg argument list for req. Seeking is placed
// before -i so ffmpeg seeks on the input.
func TranscodeArgs(req *TranscodeRequest) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if req.Start > 0 {
		args = append(args, "-ss", formatSeconds(req.Start))
	}
	if req.Duration > 0 {
		args = append(args, "-t", formatSeconds(req.Duration))
	}
	args = append(args, "-i", req.InputPath)

	switch {
	case req.AudioOnly:
		codec := req.AudioCodec
		if codec == "" {
			codec = "libmp3lame"
		}
		args = append(args, "-vn", "-c:a", codec)
		if req.AudioBitrate != "" {
			args = append(args, "-b:a", req.AudioBitrate)
		}
	case req.StreamCopy:
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	default:
		if req.Filter != "" {
			args = append(args, "-vf", req.Filter)
		}
		vcodec := req.VideoCodec
		if vcodec == "" {
			vcodec = "libx264"
		}
		args = append(args, "-c:v", vcodec)
		if req.Preset != "" {
			args = append(args, "-preset", req.Preset)
		}
		if req.CRF > 0 {
			args = append(args, "-crf", strconv.Itoa(req.CRF))
		}
		acodec := req.AudioCodec
		if acodec == "" {
			acodec = "aac"
		}
		args = append(args, "-c:a", acodec)
		if req.AudioBitrate != "" {
			args = append(args, "-b:a", req.AudioBitrate)
		}
	}

	if req.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-y", req.OutputPath)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

var (
	_ Transcoder = (*FFmpegClient)(nil)
	_ Prober     = (*FFmpegClient)(nil)
)
