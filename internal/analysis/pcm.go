package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Speech-relevant band used for the vocal-energy ratio.
const (
	vocalBandLow  = 300.0
	vocalBandHigh = 3400.0
)

// PCMExtractor decodes audio through ffmpeg and computes descriptors per
// analysis window.
type PCMExtractor struct {
	logger zerolog.Logger
	media  Media
	opts   Options
}

// NewPCMExtractor creates a DSP-backed extractor.
func NewPCMExtractor(logger zerolog.Logger, media Media, opts Options) *PCMExtractor {
	return &PCMExtractor{
		logger: logger.With().Str("component", "analysis").Str("mode", "pcm").Logger(),
		media:  media,
		opts:   opts.withDefaults(),
	}
}

// Analyze implements Extractor.
func (p *PCMExtractor) Analyze(ctx context.Context, audioPath string) (*Analysis, error) {
	start := time.Now()

	duration, err := probeDuration(ctx, p.media, audioPath)
	if err != nil {
		return nil, err
	}

	a := newAnalysis(duration, p.opts.SampleRate, p.opts.FrameSize)
	win := newWindowAnalyzer(p.opts.FrameSize, p.opts.SampleRate)

	format := ffmpeg.PCMFormat{SampleRate: p.opts.SampleRate, Channels: 1}
	err = p.media.StreamPCM(ctx, audioPath, format, func(r io.Reader) error {
		return fillFromPCM(r, a, win, p.opts.SilenceThreshold)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decode %s: %v", ErrAnalysis, audioPath, err)
	}

	p.logger.Info().
		Str("input", audioPath).
		Float64("duration", duration).
		Int("frames", a.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("audio analysis complete")

	return a, nil
}

// fillFromPCM reads exactly a.Len() windows. A stream that ends early leaves
// the remaining frames silent.
func fillFromPCM(r io.Reader, a *Analysis, win *windowAnalyzer, silenceThreshold float64) error {
	buf := make([]float64, a.FrameSize)
	eof := false

	for i := 0; i < a.Len(); i++ {
		got := 0
		if !eof {
			var err error
			got, err = ffmpeg.ReadSamples(r, buf)
			if err == io.EOF {
				eof = true
			} else if err != nil {
				return err
			}
		}
		for j := got; j < len(buf); j++ {
			buf[j] = 0
		}

		s := win.analyze(buf)
		a.RMS[i] = s.RMS
		a.Frequency[i] = s.Frequency
		a.VocalEnergy[i] = s.VocalEnergy
		a.Silence[i] = s.RMS < silenceThreshold
	}
	return nil
}

// windowAnalyzer computes descriptors for fixed-size windows. It is not
// safe for concurrent use.
type windowAnalyzer struct {
	fft        *fourier.FFT
	sampleRate float64
	size       int
	hann       []float64
	scratch    []float64
	coeffs     []complex128
}

func newWindowAnalyzer(size, sampleRate int) *windowAnalyzer {
	hann := make([]float64, size)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}
	return &windowAnalyzer{
		fft:        fourier.NewFFT(size),
		sampleRate: float64(sampleRate),
		size:       size,
		hann:       hann,
		scratch:    make([]float64, size),
	}
}

func (w *windowAnalyzer) analyze(samples []float64) Sample {
	var sumSq float64
	for i, v := range samples {
		sumSq += v * v
		w.scratch[i] = v * w.hann[i]
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))

	w.coeffs = w.fft.Coefficients(w.coeffs, w.scratch)

	var total, vocal, peak float64
	peakBin := 0
	for k := 1; k < len(w.coeffs); k++ {
		c := w.coeffs[k]
		power := real(c)*real(c) + imag(c)*imag(c)
		total += power
		freq := float64(k) * w.sampleRate / float64(w.size)
		if freq >= vocalBandLow && freq <= vocalBandHigh {
			vocal += power
		}
		if power > peak {
			peak = power
			peakBin = k
		}
	}

	s := Sample{RMS: math.Min(rms, 1)}
	if total > 0 {
		s.Frequency = float64(peakBin) * w.sampleRate / float64(w.size)
		s.VocalEnergy = math.Max(0, math.Min(1, vocal/total))
	}
	return s
}
