// Package styles holds the immutable catalog of visual style presets.
package styles

import (
	_ "embed"
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// ErrNotFound is returned when no preset has the requested name.
var ErrNotFound = errors.New("style preset not found")

// Motion is how shapes move between frames.
type Motion string

const (
	MotionSmooth Motion = "smooth"
	MotionJumpy  Motion = "jumpy"
	MotionDrift  Motion = "drift"
)

// Texture is the surface treatment of a frame.
type Texture string

const (
	TextureGrainy    Texture = "grainy"
	TextureClean     Texture = "clean"
	TexturePainterly Texture = "painterly"
)

// Reactivity is how strongly visuals follow the audio.
type Reactivity string

const (
	ReactivitySubtle   Reactivity = "subtle"
	ReactivityModerate Reactivity = "moderate"
	ReactivityStrong   Reactivity = "strong"
)

// Multiplier scales audio-driven parameters.
func (r Reactivity) Multiplier() float64 {
	switch r {
	case ReactivitySubtle:
		return 0.5
	case ReactivityStrong:
		return 1.5
	default:
		return 1.0
	}
}

// Preset is a named bundle of visual parameters.
type Preset struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Palette     []string   `yaml:"palette" json:"palette"`
	Motion      Motion     `yaml:"motion" json:"motion"`
	Texture     Texture    `yaml:"texture" json:"texture"`
	Reactivity  Reactivity `yaml:"reactivity" json:"reactivity"`
}

func (p Preset) clone() Preset {
	p.Palette = append([]string(nil), p.Palette...)
	return p
}

func (p Preset) validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if len(p.Palette) == 0 {
		return fmt.Errorf("preset %q: palette is empty", p.Name)
	}
	for _, c := range p.Palette {
		if _, err := ParseColor(c); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	if !lo.Contains([]Motion{MotionSmooth, MotionJumpy, MotionDrift}, p.Motion) {
		return fmt.Errorf("preset %q: unknown motion %q", p.Name, p.Motion)
	}
	if !lo.Contains([]Texture{TextureGrainy, TextureClean, TexturePainterly}, p.Texture) {
		return fmt.Errorf("preset %q: unknown texture %q", p.Name, p.Texture)
	}
	if !lo.Contains([]Reactivity{ReactivitySubtle, ReactivityModerate, ReactivityStrong}, p.Reactivity) {
		return fmt.Errorf("preset %q: unknown reactivity %q", p.Name, p.Reactivity)
	}
	return nil
}

// Registry is a read-only set of presets keyed by exact name. It is safe
// for concurrent use because nothing mutates it after construction.
type Registry struct {
	presets map[string]Preset
}

// NewRegistry validates presets and builds a registry from them.
func NewRegistry(presets []Preset) (*Registry, error) {
	r := &Registry{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.presets[p.Name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		r.presets[p.Name] = p.clone()
	}
	return r, nil
}

// Builtin returns the registry of presets shipped with the binary.
func Builtin() (*Registry, error) {
	var presets []Preset
	if err := yaml.Unmarshal(builtinPresets, &presets); err != nil {
		return nil, fmt.Errorf("parse builtin presets: %w", err)
	}
	return NewRegistry(presets)
}

// Get looks up a preset by exact name.
func (r *Registry) Get(name string) (Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.clone(), nil
}

// Names returns the preset names in sorted order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.presets)
	sort.Strings(names)
	return names
}

// List returns copies of all presets sorted by name.
func (r *Registry) List() []Preset {
	return lo.Map(r.Names(), func(name string, _ int) Preset {
		return r.presets[name].clone()
	})
}

// ParseColor parses "#rrggbb" or "#rgb".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 || !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
