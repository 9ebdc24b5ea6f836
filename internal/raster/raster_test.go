package raster

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/internal/synth"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T, style string, rms float64, seed int64) synth.Frame {
	t.Helper()
	reg, err := styles.Builtin()
	require.NoError(t, err)
	p, err := reg.Get(style)
	require.NoError(t, err)

	a := &analysis.Analysis{
		Duration:    1,
		SampleRate:  1024,
		FrameSize:   256,
		RMS:         []float64{rms, rms, rms, rms},
		Frequency:   []float64{220, 220, 220, 220},
		VocalEnergy: []float64{0.5, 0.5, 0.5, 0.5},
		Silence:     make([]bool, 4),
	}
	return synth.New(synth.DefaultOptions()).Synthesize(0.3, a, p, seed)
}

func TestRasterizeDimensions(t *testing.T) {
	r := New(zerolog.Nop())
	sizes := [][2]int{{320, 180}, {64, 64}, {101, 37}}

	for _, style := range []string{synth.StyleMonochrome, synth.StyleSynthwave, synth.StylePainterly} {
		f := testFrame(t, style, 0.6, 11)
		for _, sz := range sizes {
			data := r.Rasterize(f, sz[0], sz[1])
			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err, style)
			assert.Equal(t, sz[0], cfg.Width, style)
			assert.Equal(t, sz[1], cfg.Height, style)
		}
	}
}

func TestMarkupDeterministic(t *testing.T) {
	f := testFrame(t, synth.StyleSynthwave, 0.4, 99)
	assert.Equal(t, Markup(f, 320, 180), Markup(f, 320, 180))

	other := testFrame(t, synth.StyleSynthwave, 0.4, 100)
	assert.NotEqual(t, Markup(f, 320, 180), Markup(other, 320, 180))
}

func TestMarkupAlwaysHasPulse(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		f := testFrame(t, synth.StyleMonochrome, 0.9, seed)
		m := Markup(f, 320, 180)
		assert.Contains(t, m, `fill="none" stroke=`, "seed %d", seed)
	}
}

func TestJumpCopies(t *testing.T) {
	tests := []struct {
		drop, intensity float64
		want            int
	}{
		{0.1, 0, 1},
		{0.99, 0, 1},
		{0.1, 1, 0},
		{0.49, 1, 0},
		{0.5, 1, 1},
		{0.74, 1, 1},
		{0.75, 1, 2},
		{0.99, 1, 2},
		{0.2, 0.5, 1},
		{0.9, 0.5, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jumpCopies(tt.drop, tt.intensity), "drop %v intensity %v", tt.drop, tt.intensity)
	}
}

// shapeCounts returns rect counts for the same frame with and without a
// jump cut. Grain rects are identical in both.
func shapeCounts(f synth.Frame) (jump, calm int) {
	calmFrame := f
	calmFrame.Visual.JumpCutIntensity = 0
	return strings.Count(Markup(f, 320, 180), "<rect"), strings.Count(Markup(calmFrame, 320, 180), "<rect")
}

func TestJumpCutDropsShapes(t *testing.T) {
	loud := testFrame(t, synth.StyleMonochrome, 0.9, 5)
	require.Equal(t, 1.0, loud.Visual.JumpCutIntensity)

	var drawn, all int
	for seed := int64(0); seed < 50; seed++ {
		loud.Seed = seed
		jump, calm := shapeCounts(loud)
		drawn += jump
		all += calm
	}
	assert.Less(t, drawn, all)
}

func TestJumpCutAddsShapes(t *testing.T) {
	loud := testFrame(t, synth.StyleMonochrome, 0.9, 5)
	require.Equal(t, 1.0, loud.Visual.JumpCutIntensity)

	added := false
	for seed := int64(0); seed < 500 && !added; seed++ {
		loud.Seed = seed
		jump, calm := shapeCounts(loud)
		added = jump > calm
	}
	assert.True(t, added, "no jump-cut frame drew more shapes than its calm version")
}

func TestPulseScalesWithEnergy(t *testing.T) {
	f := testFrame(t, synth.StyleSynthwave, 0.2, 1)
	quiet := Markup(f, 400, 400)
	f.Visual.EnergyMultiplier = 2.5
	loud := Markup(f, 400, 400)

	pulse := func(m string) string {
		i := strings.LastIndex(m, "<circle")
		return m[i:]
	}
	assert.NotEqual(t, pulse(quiet), pulse(loud))
}

func TestFallback(t *testing.T) {
	img := Fallback(FallbackWidth, FallbackHeight)
	assert.Equal(t, FallbackWidth, img.Bounds().Dx())

	scaled := Fallback(1280, 720)
	assert.Equal(t, 1280, scaled.Bounds().Dx())
	assert.Equal(t, 720, scaled.Bounds().Dy())
}

func TestRenderSVGRejectsBrokenMarkup(t *testing.T) {
	_, err := renderSVG("<svg><circle", 10, 10)
	assert.Error(t, err)
}

func TestRenderSVGEachStyle(t *testing.T) {
	reg, err := styles.Builtin()
	require.NoError(t, err)

	for _, p := range reg.List() {
		t.Run(p.Name, func(t *testing.T) {
			for _, rms := range []float64{0.2, 0.5, 0.9} {
				f := testFrame(t, p.Name, rms, 3)
				img, err := renderSVG(Markup(f, 160, 90), 160, 90)
				require.NoError(t, err, "rms %v", rms)
				assert.Equal(t, 160, img.Bounds().Dx())
				assert.Equal(t, 90, img.Bounds().Dy())
			}
		})
	}
}
