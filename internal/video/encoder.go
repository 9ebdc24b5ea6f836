// Package video muxes rendered frame sequences with their source audio.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keagan/audiogram/internal/config"
	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/rs/zerolog"
)

// FramePattern names frame images inside a frame directory. Numbering
// starts at 0.
const FramePattern = "frame_%06d.png"

// FrameName returns the file name of frame i.
func FrameName(i int) string {
	return fmt.Sprintf(FramePattern, i)
}

// Sequencer runs the external encoder. *ffmpeg.Executor implements it.
type Sequencer interface {
	EncodeSequence(ctx context.Context, opts ffmpeg.SequenceOptions) error
}

// EncodeError reports a failed encode. ExitCode is the encoder's exit
// status, or -1 when the process never produced one.
type EncodeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EncodeError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("video encode failed (exit status %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("video encode failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Options holds codec settings.
type Options struct {
	VideoCodec   string
	AudioCodec   string
	AudioBitrate string
	PixelFormat  string
	Preset       string
	// CRF nil leaves the ffmpeg default.
	CRF          *int
}

// OptionsFromConfig maps the ffmpeg config section to encoder options.
func OptionsFromConfig(cfg config.FFmpegConfig) Options {
	crf := cfg.CRF
	return Options{
		VideoCodec:   cfg.VideoCodec,
		AudioCodec:   cfg.AudioCodec,
		AudioBitrate: cfg.AudioBitrate,
		PixelFormat:  cfg.PixelFormat,
		Preset:       cfg.Preset,
		CRF:          &crf,
	}
}

// Encoder turns a frame directory plus audio into a video file.
type Encoder struct {
	logger zerolog.Logger
	seq    Sequencer
	opts   Options
}

// NewEncoder creates an encoder backed by seq.
func NewEncoder(logger zerolog.Logger, seq Sequencer, opts Options) *Encoder {
	return &Encoder{
		logger: logger.With().Str("component", "video").Logger(),
		seq:    seq,
		opts:   opts,
	}
}

// Encode muxes frameDir/frame_%06d.png at fps with audioPath into output.
// On failure any partial output is removed and an *EncodeError returned.
func (e *Encoder) Encode(ctx context.Context, frameDir, audioPath string, fps float64, output string) (string, error) {
	if err := util.EnsureDir(filepath.Dir(output)); err != nil {
		return "", &EncodeError{ExitCode: -1, Err: fmt.Errorf("create output dir: %w", err)}
	}

	e.logger.Info().
		Str("frames", frameDir).
		Str("audio", audioPath).
		Float64("fps", fps).
		Msg("encoding video")

	err := e.seq.EncodeSequence(ctx, ffmpeg.SequenceOptions{
		FramePattern: filepath.Join(frameDir, FramePattern),
		StartNumber:  0,
		Audio:        audioPath,
		FPS:          fps,
		Output:       output,
		VideoCodec:   e.opts.VideoCodec,
		AudioCodec:   e.opts.AudioCodec,
		AudioBitrate: e.opts.AudioBitrate,
		PixelFormat:  e.opts.PixelFormat,
		Preset:       e.opts.Preset,
		CRF:          e.opts.CRF,
	})
	if err != nil {
		_ = os.Remove(output)
		encErr := &EncodeError{ExitCode: -1, Err: err}
		var exitErr *ffmpeg.ExitError
		if errors.As(err, &exitErr) {
			encErr.ExitCode = exitErr.Code
			encErr.Stderr = exitErr.Stderr
		}
		return "", encErr
	}

	if err := VerifyContainer(output); err != nil {
		_ = os.Remove(output)
		return "", &EncodeError{ExitCode: 0, Err: err}
	}

	e.logger.Info().Str("output", output).Msg("video encoded")
	return output, nil
}
