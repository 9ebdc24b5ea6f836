package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder helps construct complex ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// Scale adds a scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		// Return self without adding filter - allows chaining to continue
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps float64) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("fps=%f", fps))
	return fb
}

// DrawText describes one drawtext filter instance.
type DrawText struct {
	Text       string
	FontFile   string
	FontSize   int
	FontColor  string
	Box        bool
	BoxColor   string
	BoxOpacity float64
	BoxBorder  int
	// X and Y are drawtext expressions, e.g. "(w-text_w)/2".
	X string
	Y string
	// Enable is a timeline expression; empty keeps the text on screen.
	Enable string
}

// DrawText adds a drawtext filter. Text and font path are escaped here, so
// callers pass raw strings.
func (fb *FilterBuilder) DrawText(dt DrawText) *FilterBuilder {
	opts := []string{"text=" + EscapeDrawText(dt.Text)}
	if dt.FontFile != "" {
		opts = append(opts, "fontfile="+EscapeFilterPath(dt.FontFile))
	}
	if dt.FontSize > 0 {
		opts = append(opts, fmt.Sprintf("fontsize=%d", dt.FontSize))
	}
	if dt.FontColor != "" {
		opts = append(opts, "fontcolor="+dt.FontColor)
	}
	if dt.Box {
		opts = append(opts, "box=1")
		color := dt.BoxColor
		if color == "" {
			color = "black"
		}
		opts = append(opts, fmt.Sprintf("boxcolor=%s@%.2f", color, dt.BoxOpacity))
		if dt.BoxBorder > 0 {
			opts = append(opts, fmt.Sprintf("boxborderw=%d", dt.BoxBorder))
		}
	}
	if dt.X != "" {
		opts = append(opts, "x="+dt.X)
	}
	if dt.Y != "" {
		opts = append(opts, "y="+dt.Y)
	}
	if dt.Enable != "" {
		opts = append(opts, "enable='"+dt.Enable+"'")
	}
	fb.filters = append(fb.filters, "drawtext="+strings.Join(opts, ":"))
	return fb
}

// Custom adds a custom filter string
func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	fb.filters = append(fb.filters, filter)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}

// EnableWindow returns a timeline expression true for start <= t < end.
func EnableWindow(start, end float64) string {
	return fmt.Sprintf("gte(t,%.3f)*lt(t,%.3f)", start, end)
}

// EscapeDrawText escapes text for a drawtext text option inside a
// filtergraph passed as a single argv entry. Three layers unescape it in
// turn: the graph parser, the option parser, then drawtext expansion.
func EscapeDrawText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	s = escapeChars(s, `\%`)
	s = escapeChars(s, `\':`)
	return escapeChars(s, `\'[],;`)
}

// EscapeFilterPath escapes a file path used as a filter option value.
func EscapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return escapeChars(escapeChars(path, `\':`), `\'[],;`)
}

func escapeChars(s, special string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
