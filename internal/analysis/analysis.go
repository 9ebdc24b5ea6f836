// Package analysis turns an audio file into per-frame loudness, pitch,
// vocal-energy and silence descriptors.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// ErrAnalysis marks failures to analyze an audio source.
var ErrAnalysis = errors.New("audio analysis failed")

// Default analysis parameters.
const (
	DefaultSampleRate       = 22050
	DefaultFrameSize        = 1024
	DefaultSilenceThreshold = 0.01
)

// Analysis holds per-frame audio descriptors. All four sequences have the
// same length, floor(Duration * SampleRate / FrameSize).
type Analysis struct {
	Duration    float64
	SampleRate  int
	FrameSize   int
	RMS         []float64
	Frequency   []float64
	VocalEnergy []float64
	Silence     []bool
}

// Sample is the set of descriptors for one analysis frame.
type Sample struct {
	RMS         float64 `json:"rms"`
	Frequency   float64 `json:"frequency"`
	VocalEnergy float64 `json:"vocalEnergy"`
	Silent      bool    `json:"silent"`
}

// ExpectedFrames returns the sequence length for a duration.
func ExpectedFrames(duration float64, sampleRate, frameSize int) int {
	if duration <= 0 || sampleRate <= 0 || frameSize <= 0 {
		return 0
	}
	return int(math.Floor(duration * float64(sampleRate) / float64(frameSize)))
}

func newAnalysis(duration float64, sampleRate, frameSize int) *Analysis {
	n := ExpectedFrames(duration, sampleRate, frameSize)
	return &Analysis{
		Duration:    duration,
		SampleRate:  sampleRate,
		FrameSize:   frameSize,
		RMS:         make([]float64, n),
		Frequency:   make([]float64, n),
		VocalEnergy: make([]float64, n),
		Silence:     make([]bool, n),
	}
}

// Len returns the number of analysis frames.
func (a *Analysis) Len() int {
	return len(a.RMS)
}

// IndexAt maps a playback time to an analysis frame index. The result is
// not clamped.
func (a *Analysis) IndexAt(t float64) int {
	if a.FrameSize <= 0 {
		return -1
	}
	return int(math.Floor(t * float64(a.SampleRate) / float64(a.FrameSize)))
}

// At returns the descriptors at index i and whether i was in range.
func (a *Analysis) At(i int) (Sample, bool) {
	if i < 0 || i >= a.Len() {
		return Sample{}, false
	}
	return Sample{
		RMS:         a.RMS[i],
		Frequency:   a.Frequency[i],
		VocalEnergy: a.VocalEnergy[i],
		Silent:      a.Silence[i],
	}, true
}

// Validate checks the length and range invariants.
func (a *Analysis) Validate() error {
	if a.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", ErrAnalysis, a.Duration)
	}
	n := ExpectedFrames(a.Duration, a.SampleRate, a.FrameSize)
	if len(a.RMS) != n || len(a.Frequency) != n || len(a.VocalEnergy) != n || len(a.Silence) != n {
		return fmt.Errorf("%w: sequence lengths %d/%d/%d/%d, want %d", ErrAnalysis,
			len(a.RMS), len(a.Frequency), len(a.VocalEnergy), len(a.Silence), n)
	}
	for i, v := range a.VocalEnergy {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: vocal energy %f out of range at frame %d", ErrAnalysis, v, i)
		}
	}
	return nil
}

// Extractor produces an Analysis for an audio file.
type Extractor interface {
	Analyze(ctx context.Context, audioPath string) (*Analysis, error)
}

// Prober reads container metadata.
type Prober interface {
	ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Media probes and decodes audio. *ffmpeg.Executor implements it.
type Media interface {
	Prober
	StreamPCM(ctx context.Context, input string, format ffmpeg.PCMFormat, fn func(io.Reader) error) error
}

// Options tunes extraction.
type Options struct {
	SampleRate       int
	FrameSize        int
	SilenceThreshold float64
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.FrameSize <= 0 {
		o.FrameSize = DefaultFrameSize
	}
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = DefaultSilenceThreshold
	}
	return o
}

// New builds the extractor for mode ("pcm" or "simulated").
func New(logger zerolog.Logger, mode string, media Media, opts Options) (Extractor, error) {
	switch mode {
	case "", "pcm":
		return NewPCMExtractor(logger, media, opts), nil
	case "simulated":
		return NewSimulatedExtractor(logger, media, opts), nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}
}

// probeDuration reads the container duration in seconds.
func probeDuration(ctx context.Context, prober Prober, audioPath string) (float64, error) {
	info, err := prober.ProbeMedia(ctx, audioPath)
	if err != nil {
		return 0, fmt.Errorf("%w: probe %s: %v", ErrAnalysis, audioPath, err)
	}
	if !info.HasAudio {
		return 0, fmt.Errorf("%w: %s has no audio stream", ErrAnalysis, audioPath)
	}
	duration := info.Duration.Seconds()
	if duration <= 0 {
		return 0, fmt.Errorf("%w: could not determine duration of %s", ErrAnalysis, audioPath)
	}
	return duration, nil
}
