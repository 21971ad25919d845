package pipeline

import "context"

// ArtifactKind distinguishes the two output tiers.
type ArtifactKind string

const (
	KindPreview ArtifactKind = "preview"
	KindFinal   ArtifactKind = "final"
)

// ClipArtifact is one produced video file. The pipeline never deletes it;
// the retention sweep does.
type ClipArtifact struct {
	Kind           ArtifactKind
	Path           string
	ProbedDuration *float64
	SizeBytes      *int64
}

// ClipResult is the settled outcome of one requested range. Exactly one of
// the artifacts or Err is meaningful.
type ClipResult struct {
	Range   TimeRange
	Preview *ClipArtifact
	Final   *ClipArtifact
	Err     *Error
}

// OK reports whether the segment produced its artifacts.
func (r ClipResult) OK() bool { return r.Err == nil }

// JobOptions are the per-request choices shared by every segment.
type JobOptions struct {
	Watermark   string
	WantPreview bool
	WantFinal   bool
}

// ClipJob is one (source, range) unit of work.
type ClipJob struct {
	Index  int
	Source *LocalSource
	Range  TimeRange
	JobOptions
}

// JobRunner executes a single ClipJob. Implementations never panic on
// subprocess failure; the failure is carried in ClipResult.Err.
type JobRunner interface {
	Run(ctx context.Context, job ClipJob) ClipResult
}

// Run implements JobRunner.
func (e *Executor) Run(ctx context.Context, job ClipJob) ClipResult {
	res := ClipResult{Range: job.Range}
	out, err := e.Transcode(ctx, job.Source, job.Range, job.Watermark, job.WantPreview, job.WantFinal)
	if err != nil {
		res.Err = toError(err)
		return res
	}
	res.Preview = out.Preview
	res.Final = out.Final
	return res
}

func toError(err error) *Error {
	if pe, ok := AsError(err); ok {
		return pe
	}
	return &Error{Kind: KindTranscodeFailure, Message: err.Error(), Err: err}
}
