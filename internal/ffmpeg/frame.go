package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/keagan/audiogram/pkg/util"
)

// ExtractFrame captures a single frame at timestamp as an image
func (e *Executor) ExtractFrame(ctx context.Context, input string, timestamp time.Duration, output string) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Dur("timestamp", timestamp).
		Msg("extracting frame")

	args := []string{
		"-ss", util.FormatDuration(timestamp),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2", // high quality JPEG
		output,
	}

	opts := RunOptions{
		Op:   "ffmpeg thumbnail",
		Args: args,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("frame extraction")
		},
	}

	return e.Run(ctx, opts)
}
