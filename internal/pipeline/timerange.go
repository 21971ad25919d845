package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const opParse = "parse timestamp"

// maxTimestampSeconds bounds any endpoint, about 31 years. Larger values
// would overflow the millisecond arithmetic in FormatSeconds.
const maxTimestampSeconds = 1e9

// TimeRange is a validated [Start, End) window in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() float64 { return r.End - r.Start }

func (r TimeRange) String() string {
	return FormatSeconds(r.Start) + "-" + FormatSeconds(r.End)
}

// label is the filesystem-safe form used in output names.
func (r TimeRange) label() string {
	return strings.ReplaceAll(r.String(), ":", "-")
}

// ParseTimestamp converts "SS", "MM:SS" or "HH:MM:SS" into seconds.
// Every field may carry a fractional part; fields are right-aligned so the
// last one is always seconds.
func ParseTimestamp(text string) (float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, newError(KindInvalidTimeFormat, opParse, "empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, newError(KindInvalidTimeFormat, opParse, "too many fields in %q", s)
	}

	var total float64
	for _, p := range parts {
		v, err := parseField(strings.TrimSpace(p))
		if err != nil {
			return 0, newError(KindInvalidTimeFormat, opParse, "invalid field %q in %q", p, s)
		}
		total = total*60 + v
	}
	return total, nil
}

func parseField(p string) (float64, error) {
	if p == "" {
		return 0, strconv.ErrSyntax
	}
	dots := 0
	for _, c := range p {
		switch {
		case c >= '0' && c <= '9':
		case c == '.':
			dots++
		default:
			return 0, strconv.ErrSyntax
		}
	}
	if dots > 1 || p == "." {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseFloat(p, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

// FormatSeconds renders seconds as HH:MM:SS with a millisecond suffix only
// when the value is fractional.
func FormatSeconds(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	if sec > maxTimestampSeconds {
		sec = maxTimestampSeconds
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	frac := ms % 1000
	if frac == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, frac)
}

// ValidateRange rejects end <= start, endpoints past maxTimestampSeconds and
// windows longer than maxDuration. A maxDuration <= 0 disables the length cap.
func ValidateRange(start, end, maxDuration float64) error {
	const op = "validate range"
	if start < 0 {
		return newError(KindInvalidRange, op, "start %.3f is negative", start)
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return newError(KindInvalidRange, op, "start and end must be numbers")
	}
	if end > maxTimestampSeconds {
		return newError(KindInvalidRange, op, "end %.0fs exceeds the largest supported timestamp", end)
	}
	if end <= start {
		return newError(KindInvalidRange, op, "end %s must be after start %s", FormatSeconds(end), FormatSeconds(start))
	}
	if maxDuration > 0 && end-start > maxDuration {
		return newError(KindInvalidRange, op, "duration %.3fs exceeds maximum %.0fs", end-start, maxDuration)
	}
	return nil
}

// NewTimeRange validates start and end and returns the range.
func NewTimeRange(start, end, maxDuration float64) (TimeRange, error) {
	if err := ValidateRange(start, end, maxDuration); err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Start: start, End: end}, nil
}

// ParseRange parses both endpoints and validates the resulting window.
func ParseRange(startText, endText string, maxDuration float64) (TimeRange, error) {
	start, err := ParseTimestamp(startText)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := ParseTimestamp(endText)
	if err != nil {
		return TimeRange{}, err
	}
	return NewTimeRange(start, end, maxDuration)
}
