// Package raster turns frame descriptors into PNG images.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/keagan/audiogram/internal/synth"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Fallback image geometry before scaling to the requested size.
const (
	FallbackWidth  = 640
	FallbackHeight = 360
	fallbackText   = "audiogram"
)

// Rasterizer renders frames. It is safe for concurrent use.
type Rasterizer struct {
	logger  zerolog.Logger
	encoder png.Encoder
}

// New creates a rasterizer.
func New(logger zerolog.Logger) *Rasterizer {
	return &Rasterizer{
		logger:  logger.With().Str("component", "raster").Logger(),
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// Rasterize renders f as a width x height PNG. Rendering failures are logged
// and replaced by the fallback image, so the result is always usable.
func (r *Rasterizer) Rasterize(f synth.Frame, width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = FallbackWidth, FallbackHeight
	}

	img, err := r.render(f, width, height)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Float64("time", f.Time).
			Str("style", f.Style.Name).
			Msg("rasterization failed, using fallback frame")
		img = Fallback(width, height)
	}

	var buf bytes.Buffer
	if err := r.encoder.Encode(&buf, img); err != nil {
		// encoding to memory only fails on invalid bounds
		r.logger.Error().Err(err).Msg("PNG encode failed")
		buf.Reset()
		_ = r.encoder.Encode(&buf, Fallback(width, height))
	}
	return buf.Bytes()
}

func (r *Rasterizer) render(f synth.Frame, width, height int) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img, err = nil, fmt.Errorf("svg render panic: %v", rec)
		}
	}()
	return renderSVG(Markup(f, width, height), width, height)
}

func renderSVG(markup string, width, height int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(strings.NewReader(markup), oksvg.StrictErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)
	return rgba, nil
}

// Fallback draws the placeholder frame: a fixed-size gradient with static
// text, scaled to width x height.
func Fallback(width, height int) image.Image {
	base := image.NewRGBA(image.Rect(0, 0, FallbackWidth, FallbackHeight))
	for y := 0; y < FallbackHeight; y++ {
		t := float64(y) / float64(FallbackHeight-1)
		c := color.RGBA{
			R: uint8(20 + 40*t),
			G: uint8(20 + 20*t),
			B: uint8(60 + 120*t),
			A: 0xff,
		}
		draw.Draw(base, image.Rect(0, y, FallbackWidth, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	textWidth := d.MeasureString(fallbackText).Ceil()
	d.Dot = fixed.P((FallbackWidth-textWidth)/2, FallbackHeight/2)
	d.DrawString(fallbackText)

	if width == FallbackWidth && height == FallbackHeight {
		return base
	}
	return resize.Resize(uint(width), uint(height), base, resize.Bilinear)
}
