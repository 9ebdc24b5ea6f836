package ffmpeg

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// PCMFormat describes the raw audio ffmpeg decodes to for analysis.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// DefaultAnalysisFormat returns mono PCM at a rate suited to feature extraction
func DefaultAnalysisFormat() PCMFormat {
	return PCMFormat{
		SampleRate: 22050,
		Channels:   1, // mono
	}
}

// StreamPCM decodes input to signed 16-bit little-endian PCM and hands the
// stream to fn. Whatever fn leaves unread is drained so ffmpeg exits
// cleanly.
func (e *Executor) StreamPCM(ctx context.Context, input string, format PCMFormat, fn func(io.Reader) error) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if format.SampleRate <= 0 {
		format = DefaultAnalysisFormat()
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	e.logger.Info().
		Str("input", input).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("decoding audio")

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vn", // no video
		"-ac", fmt.Sprintf("%d", format.Channels),
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := newTailBuffer(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			tail.Add(scanner.Text())
			e.logger.Debug().Str("ffmpeg", scanner.Text()).Msg("audio decode")
		}
	}()

	fnErr := fn(bufio.NewReaderSize(stdout, 64*1024))
	if fnErr != nil {
		_ = cmd.Process.Kill()
	}
	_, _ = io.Copy(io.Discard, stdout)
	wg.Wait()

	waitErr := cmd.Wait()
	if fnErr != nil {
		return fnErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newExitError("ffmpeg decode", waitErr, tail.String())
	}
	return nil
}

// ReadSamples fills dst with normalized [-1,1] samples from s16le PCM. It
// returns the number of samples read; a short count means the stream ended.
func ReadSamples(r io.Reader, dst []float64) (int, error) {
	buf := make([]byte, 2*len(dst))
	n, err := io.ReadFull(r, buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[2*i:]))
		dst[i] = float64(v) / 32768.0
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return samples, io.EOF
	}
	return samples, err
}
