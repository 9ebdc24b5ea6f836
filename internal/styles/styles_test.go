package styles

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	assert.Equal(t, []string{"monochrome", "painterly", "synthwave"}, r.Names())

	mono, err := r.Get("monochrome")
	require.NoError(t, err)
	assert.Equal(t, MotionJumpy, mono.Motion)
	assert.Equal(t, ReactivityStrong, mono.Reactivity)

	synth, err := r.Get("synthwave")
	require.NoError(t, err)
	assert.Equal(t, MotionDrift, synth.Motion)
	assert.Equal(t, ReactivityStrong, synth.Reactivity)

	paint, err := r.Get("painterly")
	require.NoError(t, err)
	assert.Equal(t, MotionSmooth, paint.Motion)
	assert.Equal(t, ReactivitySubtle, paint.Reactivity)
	assert.Equal(t, TexturePainterly, paint.Texture)
}

func TestGetUnknownStyle(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	_, err = r.Get("Nonexistent Style")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "Nonexistent Style")

	// lookup is exact, not case-insensitive
	_, err = r.Get("Monochrome")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryIsImmutable(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	p, err := r.Get("synthwave")
	require.NoError(t, err)
	p.Palette[0] = "#123456"
	p.Name = "changed"

	again, err := r.Get("synthwave")
	require.NoError(t, err)
	assert.Equal(t, "#ff2a6d", again.Palette[0])
	assert.Equal(t, "synthwave", again.Name)
}

func TestNewRegistryValidation(t *testing.T) {
	valid := Preset{Name: "a", Palette: []string{"#fff"}, Motion: MotionSmooth, Texture: TextureClean, Reactivity: ReactivityModerate}

	_, err := NewRegistry([]Preset{valid, valid})
	assert.Error(t, err, "duplicate names")

	bad := valid
	bad.Motion = "wobbly"
	_, err = NewRegistry([]Preset{bad})
	assert.Error(t, err)

	bad = valid
	bad.Palette = []string{"red"}
	_, err = NewRegistry([]Preset{bad})
	assert.Error(t, err)

	r, err := NewRegistry([]Preset{valid})
	require.NoError(t, err)
	assert.Len(t, r.List(), 1)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff2a6d")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x2a, B: 0x6d, A: 0xff}, c)

	c, err = ParseColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, c)

	for _, in := range []string{"", "fff", "#ggg", "#12345"} {
		_, err := ParseColor(in)
		assert.Error(t, err, in)
	}
}

func TestReactivityMultiplier(t *testing.T) {
	assert.Less(t, ReactivitySubtle.Multiplier(), ReactivityModerate.Multiplier())
	assert.Less(t, ReactivityModerate.Multiplier(), ReactivityStrong.Multiplier())
}
