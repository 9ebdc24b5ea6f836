package raster

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"strings"

	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/internal/synth"
	"github.com/samber/lo"
)

// Shape budgets per texture at an energy multiplier of 1.
const (
	grainyShapes    = 18
	painterlyShapes = 9
	cleanShapes     = 6
	maxShapes       = 48
)

// Markup renders the frame as an SVG document of exactly width x height.
func Markup(f synth.Frame, width, height int) string {
	var b strings.Builder
	w, h := float64(width), float64(height)
	minDim := math.Min(w, h)
	v := f.Visual
	palette := paletteColors(f.Style)

	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		width, height, width, height)

	top := hsvToRGB(v.Hue, v.Saturation/100, v.Brightness/100)
	bottom := mix(palette[0], top, 0.35)
	fmt.Fprintf(&b, `<defs><linearGradient id="bg" x1="0" y1="0" x2="0" y2="1">`+
		`<stop offset="0" stop-color="%s"/><stop offset="1" stop-color="%s"/>`+
		`</linearGradient></defs>`, hex(top), hex(bottom))
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="url(#bg)"/>`, width, height)

	rng := rand.New(rand.NewSource(f.Seed))

	n := shapeCount(f.Style.Texture, v.EnergyMultiplier)
	for i := 0; i < n; i++ {
		// draw all random values up front so a skipped shape does not
		// shift the sequence for the ones after it
		fill := palette[rng.Intn(len(palette))]
		cx := rng.Float64() * w
		cy := rng.Float64() * h
		size := minDim * (0.02 + 0.08*rng.Float64()) * v.EnergyMultiplier
		phase := rng.Float64() * 2 * math.Pi
		drop := rng.Float64()

		copies := jumpCopies(drop, v.JumpCutIntensity)
		if copies == 0 {
			continue
		}

		sway := math.Sin(f.Time*v.MotionMultiplier+phase) * minDim * 0.04 * v.MotionMultiplier
		cx += sway
		cy += math.Cos(f.Time*v.MotionMultiplier+phase) * minDim * 0.02 * v.MotionMultiplier

		writeShape(&b, f.Style.Texture, cx, cy, size, fill)
		if copies == 2 {
			// cut-in: the same shape mirrored through the centre
			writeShape(&b, f.Style.Texture, w-cx, h-cy, size, fill)
		}
	}

	grains := int(v.Grain * 120)
	for i := 0; i < grains; i++ {
		x, y := rng.Float64()*w, rng.Float64()*h
		fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="2" height="2" fill="#ffffff" fill-opacity="0.12"/>`, x, y)
	}

	// the pulse is always drawn, so no frame is empty
	energy := lo.Clamp(v.EnergyMultiplier, 0, 3)
	radius := minDim * (0.08 + 0.06*energy)
	stroke := 2 + 3*energy
	pulse := palette[len(palette)-1]
	if v.JumpCutIntensity > 0 {
		pulse = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="%.2f" fill="none" stroke="%s" stroke-width="%.2f"/>`,
		w/2, h/2, radius, hex(pulse), stroke)

	b.WriteString(`</svg>`)
	return b.String()
}

// jumpCopies maps a shape's drop draw to how many times it is drawn. Jump
// cuts remove shapes in the low band and double them in the high band.
func jumpCopies(drop, intensity float64) int {
	if intensity <= 0 {
		return 1
	}
	switch {
	case drop < 0.5*intensity:
		return 0
	case drop >= 1-0.25*intensity:
		return 2
	}
	return 1
}

func writeShape(b *strings.Builder, t styles.Texture, cx, cy, size float64, fill color.RGBA) {
	switch t {
	case styles.TexturePainterly:
		fmt.Fprintf(b, `<ellipse cx="%.2f" cy="%.2f" rx="%.2f" ry="%.2f" fill="%s" fill-opacity="0.35"/>`,
			cx, cy, size*1.8, size, hex(fill))
	case styles.TextureGrainy:
		fmt.Fprintf(b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" fill-opacity="0.8"/>`,
			cx-size/2, cy-size/2, size, size, hex(fill))
	default:
		fmt.Fprintf(b, `<circle cx="%.2f" cy="%.2f" r="%.2f" fill="%s" fill-opacity="0.6"/>`,
			cx, cy, size, hex(fill))
	}
}

func shapeCount(t styles.Texture, energy float64) int {
	base := cleanShapes
	switch t {
	case styles.TextureGrainy:
		base = grainyShapes
	case styles.TexturePainterly:
		base = painterlyShapes
	}
	if math.IsNaN(energy) {
		energy = 1
	}
	return lo.Clamp(int(float64(base)*energy), 0, maxShapes)
}

func paletteColors(p styles.Preset) []color.RGBA {
	out := make([]color.RGBA, 0, len(p.Palette))
	for _, s := range p.Palette {
		if c, err := styles.ParseColor(s); err == nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff})
	}
	return out
}

// hsvToRGB converts hue in degrees and saturation/value in [0,1].
func hsvToRGB(h, s, v float64) color.RGBA {
	s = lo.Clamp(s, 0, 1)
	v = lo.Clamp(v, 0, 1)
	c := v * s
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g = c, x
	case hp < 2:
		r, g = x, c
	case hp < 3:
		g, b = c, x
	case hp < 4:
		g, b = x, c
	case hp < 5:
		r, b = x, c
	default:
		r, b = c, x
	}
	m := v - c
	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 0xff,
	}
}

func mix(a, b color.RGBA, t float64) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 0xff}
}

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
