package overlays

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/rs/zerolog"
)

// OverlayError reports a failed composite or thumbnail capture.
type OverlayError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *OverlayError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s failed (exit status %d): %v", e.Op, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OverlayError) Unwrap() error { return e.Err }

func newOverlayError(op string, err error) *OverlayError {
	oe := &OverlayError{Op: op, ExitCode: -1, Err: err}
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) {
		oe.ExitCode = exitErr.Code
		oe.Stderr = exitErr.Stderr
	}
	return oe
}

// Media is the subset of *ffmpeg.Executor the compositor drives.
type Media interface {
	ApplyFilter(ctx context.Context, opts ffmpeg.FilterOptions) error
	ExtractFrame(ctx context.Context, input string, timestamp time.Duration, output string) error
	ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Options holds font and codec settings for the burn-in pass.
type Options struct {
	FontFile    string
	VideoCodec  string
	PixelFormat string
	Preset      string
	CRF         *int
}

// Compositor applies overlay elements to encoded videos.
type Compositor struct {
	logger zerolog.Logger
	media  Media
	opts   Options
}

// NewCompositor creates a compositor.
func NewCompositor(logger zerolog.Logger, media Media, opts Options) *Compositor {
	return &Compositor{
		logger: logger.With().Str("component", "overlays").Logger(),
		media:  media,
		opts:   opts,
	}
}

// BuildFilter flattens elements into one drawtext chain, each gated by its
// enable window. No elements yields the passthrough filter.
func BuildFilter(elements []Element, fontFile string) string {
	fb := ffmpeg.NewFilterBuilder()
	if len(elements) == 0 {
		return fb.Custom("null").Build()
	}
	for _, el := range elements {
		fb.DrawText(ffmpeg.DrawText{
			Text:       el.Text,
			FontFile:   fontFile,
			FontSize:   el.Style.FontSize,
			FontColor:  el.Style.Color,
			Box:        el.Style.Background != "",
			BoxColor:   el.Style.Background,
			BoxOpacity: el.Style.Opacity,
			BoxBorder:  16,
			X:          el.Position.X,
			Y:          el.Position.Y,
			Enable:     ffmpeg.EnableWindow(el.Start, el.End()),
		})
	}
	return fb.Build()
}

// Composite burns elements into videoPath, writing output. On failure the
// partial output is removed.
func (c *Compositor) Composite(ctx context.Context, videoPath string, elements []Element, output string) (string, error) {
	if err := util.EnsureDir(filepath.Dir(output)); err != nil {
		return "", &OverlayError{Op: "overlay composite", ExitCode: -1, Err: err}
	}

	filter := BuildFilter(elements, c.opts.FontFile)

	c.logger.Info().
		Str("input", videoPath).
		Int("elements", len(elements)).
		Msg("compositing overlays")

	err := c.media.ApplyFilter(ctx, ffmpeg.FilterOptions{
		Input:       videoPath,
		Output:      output,
		Filter:      filter,
		VideoCodec:  c.opts.VideoCodec,
		PixelFormat: c.opts.PixelFormat,
		Preset:      c.opts.Preset,
		CRF:         c.opts.CRF,
	})
	if err != nil {
		_ = os.Remove(output)
		return "", newOverlayError("overlay composite", err)
	}

	c.logger.Info().Str("output", output).Msg("overlays composited")
	return output, nil
}

// ExtractThumbnail captures one frame at at. Times outside the video fall
// back to its midpoint.
func (c *Compositor) ExtractThumbnail(ctx context.Context, videoPath string, at time.Duration, output string) (string, error) {
	if err := util.EnsureDir(filepath.Dir(output)); err != nil {
		return "", &OverlayError{Op: "thumbnail", ExitCode: -1, Err: err}
	}

	info, err := c.media.ProbeMedia(ctx, videoPath)
	if err != nil {
		return "", newOverlayError("thumbnail", err)
	}
	at = ClampThumbnailTime(at, info.Duration)

	if err := c.media.ExtractFrame(ctx, videoPath, at, output); err != nil {
		_ = os.Remove(output)
		return "", newOverlayError("thumbnail", err)
	}

	c.logger.Info().Str("output", output).Dur("at", at).Msg("thumbnail extracted")
	return output, nil
}

// ClampThumbnailTime keeps at inside a video of length d.
func ClampThumbnailTime(at, d time.Duration) time.Duration {
	if at < 0 {
		at = 0
	}
	if d > 0 && at >= d {
		at = d / 2
	}
	return at
}
