package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/keagan/audiogram/internal/overlays"
	"github.com/keagan/audiogram/internal/progress"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/internal/synth"
	"github.com/keagan/audiogram/internal/video"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns a synthetic analysis of a fixed duration.
type fakeExtractor struct {
	duration float64
	err      error
	block    chan struct{}
}

func (f *fakeExtractor) Analyze(ctx context.Context, path string) (*analysis.Analysis, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	n := analysis.ExpectedFrames(f.duration, analysis.DefaultSampleRate, analysis.DefaultFrameSize)
	a := &analysis.Analysis{
		Duration:    f.duration,
		SampleRate:  analysis.DefaultSampleRate,
		FrameSize:   analysis.DefaultFrameSize,
		RMS:         make([]float64, n),
		Frequency:   make([]float64, n),
		VocalEnergy: make([]float64, n),
		Silence:     make([]bool, n),
	}
	for i := 0; i < n; i++ {
		a.RMS[i] = float64(i%10) / 10
		a.Frequency[i] = 100 + float64(i%7)*50
		a.VocalEnergy[i] = float64(i%5) / 5
	}
	return a, nil
}

// recordingRenderer keeps every descriptor it was asked to draw.
type recordingRenderer struct {
	mu     sync.Mutex
	frames map[float64]synth.Frame
	panics bool
}

func (r *recordingRenderer) Rasterize(f synth.Frame, w, h int) []byte {
	if r.panics {
		panic("rasterizer exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = make(map[float64]synth.Frame)
	}
	r.frames[f.Time] = f
	return []byte("png")
}

type fakeEncoder struct {
	err error
}

func (f *fakeEncoder) Encode(ctx context.Context, frameDir, audioPath string, fps float64, output string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return output, os.WriteFile(output, []byte("ftyp"), 0644)
}

type fakeCompositor struct {
	compositeErr error
	elements     []overlays.Element
}

func (f *fakeCompositor) Composite(ctx context.Context, videoPath string, elements []overlays.Element, output string) (string, error) {
	f.elements = elements
	if f.compositeErr != nil {
		return "", f.compositeErr
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return "", err
	}
	return output, os.WriteFile(output, []byte("final"), 0644)
}

func (f *fakeCompositor) ExtractThumbnail(ctx context.Context, videoPath string, at time.Duration, output string) (string, error) {
	return output, os.WriteFile(output, []byte("jpeg"), 0644)
}

// monotonicProgress wraps a FileStore and records every write.
type monotonicProgress struct {
	*progress.FileStore
	mu     sync.Mutex
	writes []progress.Record
}

func (m *monotonicProgress) Write(jobID string, current, total int) error {
	m.mu.Lock()
	m.writes = append(m.writes, progress.Record{Current: current, Total: total})
	m.mu.Unlock()
	return m.FileStore.Write(jobID, current, total)
}

type harness struct {
	orch       *Orchestrator
	extractor  *fakeExtractor
	renderer   *recordingRenderer
	encoder    *fakeEncoder
	compositor *fakeCompositor
	progress   *monotonicProgress
	results    *ResultStore
	registry   *Registry
	styles     *styles.Registry
	settings   Settings
}

func newHarness(t *testing.T, duration float64) *harness {
	t.Helper()
	root := t.TempDir()

	reg, err := styles.Builtin()
	require.NoError(t, err)
	store, err := progress.NewFileStore(filepath.Join(root, "progress"))
	require.NoError(t, err)
	results, err := NewResultStore(filepath.Join(root, "results"))
	require.NoError(t, err)

	h := &harness{
		extractor:  &fakeExtractor{duration: duration},
		renderer:   &recordingRenderer{},
		encoder:    &fakeEncoder{},
		compositor: &fakeCompositor{},
		progress:   &monotonicProgress{FileStore: store},
		results:    results,
		registry:   NewRegistry(),
		styles:     reg,
		settings: Settings{
			WorkDir:       filepath.Join(root, "work"),
			OutputDir:     filepath.Join(root, "output"),
			Width:         64,
			Height:        36,
			FPS:           30,
			RenderWorkers: 4,
			ThumbnailAt:   7500 * time.Millisecond,
		},
	}
	h.orch = NewOrchestrator(zerolog.Nop(), Deps{
		Styles:     h.styles,
		Extractor:  h.extractor,
		Renderer:   h.renderer,
		Encoder:    h.encoder,
		Compositor: h.compositor,
		Progress:   h.progress,
		Results:    h.results,
		Observer:   h.registry,
	}, h.settings)
	return h
}

func testJob(id, style string) Job {
	return Job{ID: id, AudioPath: "/in/episode.wav", Style: style, Seed: 42, CreatedAt: time.Now()}
}

func TestRunMonochromeThirtySeconds(t *testing.T) {
	h := newHarness(t, 30)
	job := testJob("job-mono", "monochrome")

	res := h.orch.Run(context.Background(), job)
	require.True(t, res.Success, "error: %s", res.Error)

	assert.Equal(t, 900, res.TotalFrames)
	assert.InDelta(t, 30.0, res.Duration, 1e-9)
	require.NotNil(t, res.Analysis)
	assert.Len(t, res.Analysis.RMS, PreviewLength)
	assert.Len(t, res.Analysis.VocalEnergy, PreviewLength)
	assert.Len(t, res.Analysis.Silence, PreviewLength)
	assert.Equal(t, filepath.Join(h.settings.OutputDir, "job-mono.mp4"), res.VideoPath)
	assert.FileExists(t, res.VideoPath)
	assert.FileExists(t, res.ThumbnailPath)
	assert.Len(t, h.renderer.frames, 900)

	data, err := os.ReadFile(h.progress.Path(job.ID))
	require.NoError(t, err)
	assert.Equal(t, "900/900", string(data))

	// monotonic and ends at total
	last := -1
	for _, w := range h.progress.writes {
		assert.GreaterOrEqual(t, w.Current, last)
		assert.Equal(t, 900, w.Total)
		last = w.Current
	}
	assert.Equal(t, 900, last)

	// work dir removed on success
	_, err = os.Stat(filepath.Join(h.settings.WorkDir, job.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestRunResultIsWrittenOnce(t *testing.T) {
	h := newHarness(t, 2)
	job := testJob("job-once", "synthwave")

	res := h.orch.Run(context.Background(), job)
	require.True(t, res.Success)

	first, err := h.results.ReadRaw(job.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := h.results.ReadRaw(job.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	err = h.results.Write(&Result{JobID: job.ID, Success: false})
	assert.True(t, errors.Is(err, ErrResultExists))

	stored, err := h.results.Read(job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
}

func TestRunUnknownStyle(t *testing.T) {
	h := newHarness(t, 30)
	job := testJob("job-style", "Nonexistent Style")

	res := h.orch.Run(context.Background(), job)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Nonexistent Style")
	assert.Empty(t, res.VideoPath)
	assert.Equal(t, StageCreated, res.Stage)

	_, err := os.Stat(filepath.Join(h.settings.OutputDir, job.ID+".mp4"))
	assert.True(t, os.IsNotExist(err))

	stored, err := h.results.Read(job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Success)
}

func TestRunEncoderFailureKeepsFrames(t *testing.T) {
	h := newHarness(t, 2)
	h.encoder.err = &video.EncodeError{
		ExitCode: 1,
		Stderr:   "Unknown encoder 'nope'",
		Err:      &ffmpeg.ExitError{Op: "ffmpeg encode", Code: 1, Err: errors.New("exit status 1")},
	}
	job := testJob("job-enc", "painterly")

	res := h.orch.Run(context.Background(), job)
	assert.False(t, res.Success)
	assert.Empty(t, res.VideoPath)
	assert.Equal(t, StageEncoding, res.Stage)
	assert.Contains(t, res.Error, "exit status 1")
	assert.Equal(t, "Unknown encoder 'nope'", res.Details)

	entries, err := os.ReadDir(filepath.Join(h.settings.WorkDir, job.ID, "frames"))
	require.NoError(t, err)
	assert.Len(t, entries, 60)
	assert.Equal(t, video.FrameName(0), entries[0].Name())
}

func TestRunOverlayFailureDeliversNothing(t *testing.T) {
	h := newHarness(t, 2)
	h.compositor.compositeErr = &overlays.OverlayError{Op: "overlay composite", ExitCode: 1, Err: errors.New("exit status 1")}
	job := testJob("job-overlay", "synthwave")

	res := h.orch.Run(context.Background(), job)
	assert.False(t, res.Success)
	assert.Equal(t, StageOverlaying, res.Stage)
	assert.Empty(t, res.VideoPath)

	files, _ := os.ReadDir(h.settings.OutputDir)
	assert.Empty(t, files)
}

func TestRunAnalysisFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.extractor.err = fmt.Errorf("%w: could not determine duration", analysis.ErrAnalysis)

	res := h.orch.Run(context.Background(), testJob("job-audio", "monochrome"))
	assert.False(t, res.Success)
	assert.Equal(t, StageAnalyzing, res.Stage)
	assert.Contains(t, res.Error, "duration")
}

func TestRunRecoversPanics(t *testing.T) {
	h := newHarness(t, 1)
	h.renderer.panics = true

	res := h.orch.Run(context.Background(), testJob("job-panic", "monochrome"))
	assert.False(t, res.Success)
	assert.Equal(t, StageSynthesizing, res.Stage)
	assert.Contains(t, res.Error, "rasterizer exploded")
}

// storedObserver checks the result record is readable when Complete runs.
type storedObserver struct {
	*Registry
	results *ResultStore
	stored  bool
}

func (o *storedObserver) Complete(id string, res *Result) {
	_, err := o.results.Read(id)
	o.stored = err == nil
	o.Registry.Complete(id, res)
}

func TestRunCompletesObserverOnceResultIsStored(t *testing.T) {
	h := newHarness(t, 1)
	obs := &storedObserver{Registry: h.registry, results: h.results}
	h.orch.deps.Observer = obs
	job := testJob("job-terminal", "monochrome")
	h.registry.Add(job)

	res := h.orch.Run(context.Background(), job)
	require.True(t, res.Success, res.Error)
	assert.True(t, obs.stored)

	// terminal before anything outside Run calls Complete
	snap, ok := h.registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StageDone, snap.Stage)
	assert.Same(t, res, snap.Result)
}

func TestRunDeterministicForFixedSeed(t *testing.T) {
	h1 := newHarness(t, 3)
	h2 := newHarness(t, 3)

	r1 := h1.orch.Run(context.Background(), testJob("job-a", "synthwave"))
	r2 := h2.orch.Run(context.Background(), testJob("job-b", "synthwave"))
	require.True(t, r1.Success)
	require.True(t, r2.Success)

	require.Equal(t, len(h1.renderer.frames), len(h2.renderer.frames))
	for tm, f := range h1.renderer.frames {
		assert.Equal(t, f, h2.renderer.frames[tm], "frame at %v", tm)
	}
	assert.Equal(t, r1.Analysis, r2.Analysis)
}

func TestRunPassesEpisodeToTimeline(t *testing.T) {
	h := newHarness(t, 30)
	job := testJob("job-ep", "monochrome")
	job.Episode = overlays.Episode{Title: "Pilot", Sponsor: "Acme"}

	res := h.orch.Run(context.Background(), job)
	require.True(t, res.Success)

	var texts []string
	for _, e := range h.compositor.elements {
		texts = append(texts, e.Text)
	}
	joined := strings.Join(texts, "|")
	assert.Contains(t, joined, "Pilot")
	assert.Contains(t, joined, "Sponsored by Acme")
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 900, FrameCount(30, 30))
	assert.Equal(t, 1, FrameCount(0.01, 30))
	assert.Equal(t, 0, FrameCount(0, 30))
	assert.Equal(t, 300, FrameCount(9.99999999, 30))
}

func TestNewAnalysisPreviewShortSequences(t *testing.T) {
	a := &analysis.Analysis{RMS: []float64{0.1, 0.2}, VocalEnergy: []float64{0.3, 0.4}, Silence: []bool{false, true}}
	p := NewAnalysisPreview(a)
	assert.Equal(t, []float64{0.1, 0.2}, p.RMS)
	assert.Equal(t, []bool{false, true}, p.Silence)

	p.RMS[0] = 9
	assert.Equal(t, 0.1, a.RMS[0])
}
