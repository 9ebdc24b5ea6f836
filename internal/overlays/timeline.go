// Package overlays builds the branded text timeline for a rendered video and
// burns it in with a single ffmpeg pass.
package overlays

import (
	"math"
	"time"

	"github.com/keagan/audiogram/internal/config"
)

// Kind identifies an overlay element.
type Kind string

const (
	KindIntro      Kind = "intro"
	KindTitleCard  Kind = "title-card"
	KindLowerThird Kind = "lower-third"
	KindEndScreen  Kind = "end-screen"
)

// Fixed segment lengths in seconds.
const (
	IntroSeconds     = 5.0
	TitleCardSeconds = 5.0
	EndScreenSeconds = 10.0
)

// Position holds drawtext x/y expressions.
type Position struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// TextStyle is how an element's text is drawn. An empty Background draws
// no box.
type TextStyle struct {
	FontSize   int     `json:"fontSize"`
	Color      string  `json:"color"`
	Background string  `json:"background,omitempty"`
	Opacity    float64 `json:"opacity"`
}

// Element is one timed text overlay. Start and Duration are seconds.
type Element struct {
	Kind     Kind      `json:"kind"`
	Start    float64   `json:"start"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Position Position  `json:"position"`
	Style    TextStyle `json:"style"`
}

// End returns the exclusive end of the element's window.
func (e Element) End() float64 {
	return e.Start + e.Duration
}

// Episode is the optional metadata shown in overlays.
type Episode struct {
	Title   string `json:"title,omitempty"`
	Guest   string `json:"guest,omitempty"`
	Sponsor string `json:"sponsor,omitempty"`
}

// TimelineConfig controls text and spacing of generated elements.
type TimelineConfig struct {
	BrandText          string
	EndScreenText      string
	LowerThirdInterval time.Duration
	LowerThirdDuration time.Duration
	TitleFontSize      int
	BodyFontSize       int
	FontColor          string
	BoxColor           string
	BoxOpacity         float64
}

// TimelineFromConfig maps the overlays config section.
func TimelineFromConfig(cfg config.OverlayConfig) TimelineConfig {
	return TimelineConfig{
		BrandText:          cfg.BrandText,
		EndScreenText:      cfg.EndScreenText,
		LowerThirdInterval: cfg.LowerThirdInterval,
		LowerThirdDuration: cfg.LowerThirdDuration,
		TitleFontSize:      cfg.TitleFontSize,
		BodyFontSize:       cfg.BodyFontSize,
		FontColor:          cfg.FontColor,
		BoxColor:           cfg.BoxColor,
		BoxOpacity:         cfg.BoxOpacity,
	}
}

func (c TimelineConfig) withDefaults() TimelineConfig {
	def := TimelineFromConfig(config.Default().Overlays)
	if c.BrandText == "" {
		c.BrandText = def.BrandText
	}
	if c.EndScreenText == "" {
		c.EndScreenText = def.EndScreenText
	}
	if c.LowerThirdInterval <= 0 {
		c.LowerThirdInterval = def.LowerThirdInterval
	}
	if c.LowerThirdDuration <= 0 {
		c.LowerThirdDuration = def.LowerThirdDuration
	}
	if c.TitleFontSize <= 0 {
		c.TitleFontSize = def.TitleFontSize
	}
	if c.BodyFontSize <= 0 {
		c.BodyFontSize = def.BodyFontSize
	}
	if c.FontColor == "" {
		c.FontColor = def.FontColor
	}
	if c.BoxColor == "" {
		c.BoxColor = def.BoxColor
	}
	if c.BoxOpacity <= 0 {
		c.BoxOpacity = def.BoxOpacity
	}
	return c
}

var (
	centered   = Position{X: "(w-text_w)/2", Y: "(h-text_h)/2"}
	lowerLeft  = Position{X: "40", Y: "h-text_h-80"}
	belowTitle = Position{X: "(w-text_w)/2", Y: "(h-text_h)/2+90"}
)

// BuildTimeline lays out the overlay elements for a video of the given
// duration in seconds. Elements never extend past the end of the video.
func BuildTimeline(duration float64, ep Episode, cfg TimelineConfig) []Element {
	if duration <= 0 || math.IsNaN(duration) {
		return nil
	}
	cfg = cfg.withDefaults()

	title := TextStyle{FontSize: cfg.TitleFontSize, Color: cfg.FontColor}
	body := TextStyle{FontSize: cfg.BodyFontSize, Color: cfg.FontColor, Background: cfg.BoxColor, Opacity: cfg.BoxOpacity}

	var out []Element

	out = append(out, Element{
		Kind:     KindIntro,
		Start:    0,
		Duration: math.Min(IntroSeconds, duration),
		Text:     cfg.BrandText,
		Position: centered,
		Style:    title,
	})

	if duration > IntroSeconds {
		text := ep.Title
		if text == "" {
			text = "Untitled Episode"
		}
		out = append(out, Element{
			Kind:     KindTitleCard,
			Start:    IntroSeconds,
			Duration: math.Min(TitleCardSeconds, duration-IntroSeconds),
			Text:     text,
			Position: centered,
			Style:    title,
		})
	}

	lowerText := lowerThirdText(ep)
	interval := cfg.LowerThirdInterval.Seconds()
	length := cfg.LowerThirdDuration.Seconds()
	for start := interval; start+length <= duration-EndScreenSeconds; start += interval {
		out = append(out, Element{
			Kind:     KindLowerThird,
			Start:    start,
			Duration: length,
			Text:     lowerText,
			Position: lowerLeft,
			Style:    body,
		})
	}

	endStart := math.Max(0, duration-EndScreenSeconds)
	out = append(out, Element{
		Kind:     KindEndScreen,
		Start:    endStart,
		Duration: duration - endStart,
		Text:     cfg.EndScreenText,
		Position: centered,
		Style:    title,
	})
	if ep.Sponsor != "" {
		out = append(out, Element{
			Kind:     KindEndScreen,
			Start:    endStart,
			Duration: duration - endStart,
			Text:     "Sponsored by " + ep.Sponsor,
			Position: belowTitle,
			Style:    body,
		})
	}

	return out
}

func lowerThirdText(ep Episode) string {
	switch {
	case ep.Guest != "" && ep.Title != "":
		return ep.Title + " | with " + ep.Guest
	case ep.Guest != "":
		return "with " + ep.Guest
	case ep.Title != "":
		return ep.Title
	default:
		return "Now playing"
	}
}
