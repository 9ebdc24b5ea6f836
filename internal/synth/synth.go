// Package synth maps audio descriptors and a style preset to per-frame
// visual parameters. Output depends only on its inputs.
package synth

import (
	"math"

	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/samber/lo"
)

// Neutral descriptors used past the end of the analysis.
const (
	DefaultRMS         = 0.1
	DefaultVocalEnergy = 0.5
	DefaultFrequency   = 150.0
)

// Built-in style names with dedicated behaviour.
const (
	StyleMonochrome = "monochrome"
	StyleSynthwave  = "synthwave"
	StylePainterly  = "painterly"
)

// Options tunes the synthesizer.
type Options struct {
	// HueSpeed is the base hue rotation in degrees per second.
	HueSpeed float64
	// JumpCutThreshold is the RMS level a jump-cut style must exceed.
	JumpCutThreshold float64
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		HueSpeed:         12,
		JumpCutThreshold: 0.3,
	}
}

// Visual is the derived visual parameter set for a frame.
type Visual struct {
	Hue              float64 `json:"hue"`
	Saturation       float64 `json:"saturation"`
	Brightness       float64 `json:"brightness"`
	EnergyMultiplier float64 `json:"energyMultiplier"`
	MotionMultiplier float64 `json:"motionMultiplier"`
	JumpCutIntensity float64 `json:"jumpCutIntensity"`
	HueDrift         float64 `json:"hueDrift"`
	Grain            float64 `json:"grain"`
}

// Frame describes one renderable frame.
type Frame struct {
	Time float64 `json:"time"`
	// Index is the analysis frame the time maps to, unclamped.
	Index   int             `json:"index"`
	InRange bool            `json:"inRange"`
	Audio   analysis.Sample `json:"audio"`
	Visual  Visual          `json:"visual"`
	Seed    int64           `json:"seed"`
	Style   styles.Preset   `json:"style"`
}

// Synthesizer builds frame descriptors.
type Synthesizer struct {
	opts Options
}

// New creates a synthesizer; zero option fields take defaults.
func New(opts Options) *Synthesizer {
	def := DefaultOptions()
	if opts.HueSpeed == 0 {
		opts.HueSpeed = def.HueSpeed
	}
	if opts.JumpCutThreshold <= 0 {
		opts.JumpCutThreshold = def.JumpCutThreshold
	}
	return &Synthesizer{opts: opts}
}

// Synthesize computes the frame descriptor for playback time t.
func (s *Synthesizer) Synthesize(t float64, a *analysis.Analysis, preset styles.Preset, jobSeed int64) Frame {
	idx := a.IndexAt(t)
	sample, ok := a.At(idx)
	if !ok {
		sample = analysis.Sample{
			RMS:         DefaultRMS,
			VocalEnergy: DefaultVocalEnergy,
			Frequency:   DefaultFrequency,
		}
	}
	sample = sanitize(sample)

	react := preset.Reactivity.Multiplier()

	v := Visual{
		Hue:              t * s.opts.HueSpeed,
		Saturation:       35 + 45*sample.VocalEnergy + 20*sample.RMS,
		Brightness:       25 + 65*sample.RMS,
		EnergyMultiplier: 0.5 + 2*sample.RMS*react,
		MotionMultiplier: motionBase(preset.Motion) * (0.5 + sample.RMS*react),
		Grain:            grain(preset.Texture),
	}

	switch preset.Name {
	case StyleMonochrome:
		v.Saturation = 0
		if sample.RMS > s.opts.JumpCutThreshold {
			v.Brightness = 95
			v.JumpCutIntensity = 1
		} else {
			v.Brightness = 12
		}
	case StyleSynthwave:
		v.HueDrift = sample.Frequency / 1000 * 90
		v.Hue = v.Hue + 280 + v.HueDrift
		v.Saturation += 30 * sample.RMS * react
		v.Brightness += 25 * sample.RMS * react
	case StylePainterly:
		// warm band [15, 55)
		v.Hue = 15 + math.Mod(wrapHue(v.Hue), 40)
		v.EnergyMultiplier = 0.5 + (v.EnergyMultiplier-0.5)*0.5
		v.MotionMultiplier *= 0.5
		v.Saturation *= 0.8
	}

	v.Hue = wrapHue(v.Hue)
	v.Saturation = lo.Clamp(v.Saturation, 0, 100)
	v.Brightness = lo.Clamp(v.Brightness, 0, 100)

	return Frame{
		Time:    t,
		Index:   idx,
		InRange: ok,
		Audio:   sample,
		Visual:  v,
		Seed:    jobSeed + int64(idx),
		Style:   preset,
	}
}

func motionBase(m styles.Motion) float64 {
	switch m {
	case styles.MotionJumpy:
		return 1.4
	case styles.MotionDrift:
		return 1.0
	default:
		return 0.6
	}
}

func grain(t styles.Texture) float64 {
	switch t {
	case styles.TextureGrainy:
		return 0.35
	case styles.TexturePainterly:
		return 0.15
	default:
		return 0
	}
}

// wrapHue folds h into [0, 360).
func wrapHue(h float64) float64 {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

func sanitize(s analysis.Sample) analysis.Sample {
	s.RMS = finiteOr(s.RMS, DefaultRMS)
	s.VocalEnergy = finiteOr(s.VocalEnergy, DefaultVocalEnergy)
	s.Frequency = finiteOr(s.Frequency, DefaultFrequency)

	s.RMS = lo.Clamp(s.RMS, 0, 1)
	s.VocalEnergy = lo.Clamp(s.VocalEnergy, 0, 1)
	s.Frequency = lo.Clamp(s.Frequency, 0, 20000)
	return s
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
