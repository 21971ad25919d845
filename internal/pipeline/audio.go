package pipeline

import (
	"context"
	"time"

	"github.com/clipforge/api/internal/client"
)

// defaultSubprocessTimeout bounds a transcoder launch that has no configured
// timeout. No subprocess runs unbounded.
const defaultSubprocessTimeout = 10 * time.Minute

const opExtractAudio = "extract audio"

// ExtractAudio writes the audio track of input to output as low-bitrate MP3
// for speech-to-text. The subprocess is killed after timeout.
func ExtractAudio(ctx context.Context, tr client.Transcoder, input, output string, timeout time.Duration) error {
	return runBounded(ctx, tr, opExtractAudio, &client.TranscodeRequest{
		InputPath:    input,
		OutputPath:   output,
		AudioOnly:    true,
		AudioBitrate: "64k",
	}, timeout, maxFetchDiag)
}
