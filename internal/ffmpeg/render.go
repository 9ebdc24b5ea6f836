package ffmpeg

import (
	"context"
	"fmt"
	"strings"
)

// SequenceOptions configures muxing a numbered image sequence with an audio
// track.
type SequenceOptions struct {
	// FramePattern is a printf-style image path, e.g. "frames/frame_%06d.png".
	FramePattern string
	StartNumber  int
	Audio        string
	FPS          float64
	Output       string

	VideoCodec   string
	AudioCodec   string
	AudioBitrate string
	PixelFormat  string
	Preset       string
	// CRF is the x264 quality. Nil uses DefaultCRF; zero is lossless.
	CRF          *int
	ProgressFunc ProgressFunc
}

// EncodeSequence encodes the frames at a fixed rate and muxes them with the
// audio, stopping at the shorter stream.
func (e *Executor) EncodeSequence(ctx context.Context, opts SequenceOptions) error {
	if err := validateSequenceOptions(opts); err != nil {
		return fmt.Errorf("invalid encode options: %w", err)
	}

	e.logger.Info().
		Str("frames", opts.FramePattern).
		Str("audio", opts.Audio).
		Str("output", opts.Output).
		Float64("fps", opts.FPS).
		Msg("starting encode")

	args := buildSequenceArgs(opts)

	runOpts := RunOptions{
		Op:              "ffmpeg encode",
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("encode output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return err
	}

	e.logger.Info().Str("output", opts.Output).Msg("encode completed")
	return nil
}

func buildSequenceArgs(opts SequenceOptions) []string {
	rate := formatRate(opts.FPS)
	args := []string{
		"-framerate", rate,
		"-start_number", fmt.Sprintf("%d", opts.StartNumber),
		"-i", opts.FramePattern,
		"-i", opts.Audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
	}

	args = append(args, "-c:v", orDefault(opts.VideoCodec, DefaultVideoCodec))

	args = append(args,
		"-crf", crfArg(opts.CRF),
		"-preset", orDefault(opts.Preset, DefaultPreset),
		"-pix_fmt", orDefault(opts.PixelFormat, DefaultPixelFormat),
		"-r", rate,
		"-c:a", orDefault(opts.AudioCodec, DefaultAudioCodec),
	)
	if opts.AudioBitrate != "" {
		args = append(args, "-b:a", opts.AudioBitrate)
	}

	args = append(args, "-shortest")
	if strings.HasSuffix(strings.ToLower(opts.Output), ".mp4") || strings.HasSuffix(strings.ToLower(opts.Output), ".mov") {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, opts.Output)
}

// FilterOptions configures a single-input video filter pass.
type FilterOptions struct {
	Input  string
	Output string
	// Filter is a complete -vf filter graph.
	Filter string

	VideoCodec   string
	PixelFormat  string
	Preset       string
	CRF          *int
	ProgressFunc ProgressFunc
}

// ApplyFilter re-encodes the video stream through Filter and copies audio.
func (e *Executor) ApplyFilter(ctx context.Context, opts FilterOptions) error {
	if opts.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.Filter == "" {
		return fmt.Errorf("filter cannot be empty")
	}

	e.logger.Info().
		Str("input", opts.Input).
		Str("output", opts.Output).
		Int("filter_len", len(opts.Filter)).
		Msg("applying filter")

	runOpts := RunOptions{
		Op:              "ffmpeg overlay",
		Args:            buildFilterArgs(opts),
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("filter output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return err
	}

	e.logger.Info().Str("output", opts.Output).Msg("filter completed")
	return nil
}

func buildFilterArgs(opts FilterOptions) []string {
	return []string{
		"-i", opts.Input,
		"-vf", opts.Filter,
		"-c:v", orDefault(opts.VideoCodec, DefaultVideoCodec),
		"-crf", crfArg(opts.CRF),
		"-preset", orDefault(opts.Preset, DefaultPreset),
		"-pix_fmt", orDefault(opts.PixelFormat, DefaultPixelFormat),
		"-c:a", "copy",
		opts.Output,
	}
}

func crfArg(crf *int) string {
	if crf == nil {
		return fmt.Sprintf("%d", DefaultCRF)
	}
	return fmt.Sprintf("%d", *crf)
}

func validateSequenceOptions(opts SequenceOptions) error {
	if opts.FramePattern == "" {
		return fmt.Errorf("frame pattern is required")
	}
	if opts.Audio == "" {
		return fmt.Errorf("audio path is required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.FPS <= 0 {
		return fmt.Errorf("FPS must be positive")
	}
	if opts.CRF != nil && (*opts.CRF < 0 || *opts.CRF > 51) {
		return fmt.Errorf("CRF must be between 0 and 51")
	}
	return nil
}

func formatRate(fps float64) string {
	if fps == float64(int(fps)) {
		return fmt.Sprintf("%d", int(fps))
	}
	return fmt.Sprintf("%.3f", fps)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
