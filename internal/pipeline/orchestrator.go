package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/internal/config"
	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/keagan/audiogram/internal/logging"
	"github.com/keagan/audiogram/internal/overlays"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/internal/synth"
	"github.com/keagan/audiogram/internal/video"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FrameRenderer rasterizes frame descriptors. *raster.Rasterizer
// implements it.
type FrameRenderer interface {
	Rasterize(f synth.Frame, width, height int) []byte
}

// Encoder muxes frames and audio. *video.Encoder implements it.
type Encoder interface {
	Encode(ctx context.Context, frameDir, audioPath string, fps float64, output string) (string, error)
}

// Compositor burns overlays and grabs thumbnails. *overlays.Compositor
// implements it.
type Compositor interface {
	Composite(ctx context.Context, videoPath string, elements []overlays.Element, output string) (string, error)
	ExtractThumbnail(ctx context.Context, videoPath string, at time.Duration, output string) (string, error)
}

// ProgressWriter persists frame progress. *progress.FileStore implements it.
type ProgressWriter interface {
	Write(jobID string, current, total int) error
}

// StageObserver is told about stage transitions and, once the result record
// is on disk, about the terminal result. *Registry implements it.
type StageObserver interface {
	SetStage(id string, stage Stage)
	Complete(id string, res *Result)
}

// Settings are the per-process render parameters.
type Settings struct {
	WorkDir       string
	OutputDir     string
	Width         int
	Height        int
	FPS           int
	RenderWorkers int
	KeepFrames    bool
	ThumbnailAt   time.Duration
	Timeline      overlays.TimelineConfig
}

// SettingsFromConfig extracts render settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WorkDir:       cfg.WorkDir,
		OutputDir:     cfg.OutputDir,
		Width:         cfg.Render.Width,
		Height:        cfg.Render.Height,
		FPS:           cfg.Render.FPS,
		RenderWorkers: cfg.Render.RenderWorkers,
		KeepFrames:    cfg.KeepFrames,
		ThumbnailAt:   cfg.Overlays.ThumbnailAt,
		Timeline:      overlays.TimelineFromConfig(cfg.Overlays),
	}
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Styles     *styles.Registry
	Extractor  analysis.Extractor
	Synth      *synth.Synthesizer
	Renderer   FrameRenderer
	Encoder    Encoder
	Compositor Compositor
	Progress   ProgressWriter
	Results    *ResultStore
	Observer   StageObserver
}

// Orchestrator runs a job through every stage and writes its terminal
// record.
type Orchestrator struct {
	logger   zerolog.Logger
	deps     Deps
	settings Settings
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(logger zerolog.Logger, deps Deps, settings Settings) *Orchestrator {
	if deps.Synth == nil {
		deps.Synth = synth.New(synth.DefaultOptions())
	}
	if settings.FPS <= 0 {
		settings.FPS = 30
	}
	if settings.RenderWorkers <= 0 {
		settings.RenderWorkers = 1
	}
	return &Orchestrator{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		deps:     deps,
		settings: settings,
	}
}

// jobRun carries per-job state between stages.
type jobRun struct {
	job      Job
	logger   zerolog.Logger
	stage    Stage
	preset   styles.Preset
	analysis *analysis.Analysis
	frames   int
	jobDir   string
	frameDir string
	encoded  string
	final    string
	thumb    string
}

// Run executes job to completion and returns its terminal record, which has
// already been persisted. Failures never escape as panics.
func (o *Orchestrator) Run(ctx context.Context, job Job) *Result {
	run := &jobRun{
		job:    job,
		logger: logging.WithJob(o.logger, job.ID),
		stage:  StageCreated,
	}
	run.logger.Info().
		Str("audio", job.AudioPath).
		Str("style", job.Style).
		Int64("seed", job.Seed).
		Msg("job started")

	start := time.Now()
	res := o.execute(ctx, run)
	res.CompletedAt = time.Now().UTC()

	if err := o.deps.Results.Write(res); err != nil {
		run.logger.Error().Err(err).Msg("failed to write job result")
	}
	if o.deps.Observer != nil {
		o.deps.Observer.Complete(job.ID, res)
	}

	if res.Success {
		run.logger.Info().
			Dur("elapsed", time.Since(start)).
			Str("video", res.VideoPath).
			Msg("job completed")
	} else {
		run.logger.Error().
			Str("stage", string(res.Stage)).
			Str("error", res.Error).
			Dur("elapsed", time.Since(start)).
			Msg("job failed")
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, run *jobRun) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			res = o.failure(run, &StageError{Stage: run.stage, Err: err})
			res.Details = string(debug.Stack())
		}
	}()

	steps := []struct {
		stage Stage
		fn    func(context.Context, *jobRun) error
	}{
		{StageCreated, o.resolveStyle},
		{StageAnalyzing, o.analyze},
		{StageSynthesizing, o.synthesize},
		{StageEncoding, o.encode},
		{StageOverlaying, o.overlay},
		{StageThumbnailing, o.thumbnail},
	}

	for _, step := range steps {
		o.enter(run, step.stage)
		if err := step.fn(ctx, run); err != nil {
			return o.failure(run, &StageError{Stage: step.stage, Err: err})
		}
	}

	o.enter(run, StageDone)
	o.cleanup(run)

	return &Result{
		Success:       true,
		JobID:         run.job.ID,
		Style:         run.preset.Name,
		VideoPath:     run.final,
		ThumbnailPath: run.thumb,
		Duration:      run.analysis.Duration,
		TotalFrames:   run.frames,
		Analysis:      NewAnalysisPreview(run.analysis),
		Stage:         StageDone,
	}
}

func (o *Orchestrator) enter(run *jobRun, stage Stage) {
	run.stage = stage
	if o.deps.Observer != nil {
		o.deps.Observer.SetStage(run.job.ID, stage)
	}
	run.logger.Debug().Str("stage", string(stage)).Msg("stage entered")
}

func (o *Orchestrator) resolveStyle(ctx context.Context, run *jobRun) error {
	preset, err := o.deps.Styles.Get(run.job.Style)
	if err != nil {
		return err
	}
	run.preset = preset

	run.jobDir = filepath.Join(o.settings.WorkDir, run.job.ID)
	run.frameDir = filepath.Join(run.jobDir, "frames")
	return util.EnsureDir(run.frameDir)
}

func (o *Orchestrator) analyze(ctx context.Context, run *jobRun) error {
	a, err := o.deps.Extractor.Analyze(ctx, run.job.AudioPath)
	if err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	run.analysis = a
	run.frames = FrameCount(a.Duration, o.settings.FPS)

	run.logger.Info().
		Float64("duration", a.Duration).
		Int("analysis_frames", a.Len()).
		Int("video_frames", run.frames).
		Msg("audio analyzed")
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, run *jobRun) error {
	total := run.frames
	o.writeProgress(run, 0, total)

	var (
		mu        sync.Mutex
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.settings.RenderWorkers)

	fps := float64(o.settings.FPS)
	for i := 0; i < total; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("frame %d: panic: %v", i, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			t := float64(i) / fps
			frame := o.deps.Synth.Synthesize(t, run.analysis, run.preset, run.job.Seed)
			data := o.deps.Renderer.Rasterize(frame, o.settings.Width, o.settings.Height)

			path := filepath.Join(run.frameDir, video.FrameName(i))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("write frame %d: %w", i, err)
			}

			// completion count only grows, so records stay monotonic
			mu.Lock()
			completed++
			o.writeProgress(run, completed, total)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.writeProgress(run, total, total)
	run.logger.Info().Int("frames", total).Str("dir", run.frameDir).Msg("frames rendered")
	return nil
}

func (o *Orchestrator) writeProgress(run *jobRun, current, total int) {
	if err := o.deps.Progress.Write(run.job.ID, current, total); err != nil {
		run.logger.Warn().Err(err).Int("current", current).Msg("failed to write progress")
	}
}

func (o *Orchestrator) encode(ctx context.Context, run *jobRun) error {
	out, err := o.deps.Encoder.Encode(ctx, run.frameDir, run.job.AudioPath,
		float64(o.settings.FPS), filepath.Join(run.jobDir, "encoded.mp4"))
	if err != nil {
		return err
	}
	run.encoded = out
	return nil
}

func (o *Orchestrator) overlay(ctx context.Context, run *jobRun) error {
	elements := overlays.BuildTimeline(run.analysis.Duration, run.job.Episode, o.settings.Timeline)
	out, err := o.deps.Compositor.Composite(ctx, run.encoded, elements,
		filepath.Join(o.settings.OutputDir, run.job.ID+".mp4"))
	if err != nil {
		return err
	}
	run.final = out
	return nil
}

func (o *Orchestrator) thumbnail(ctx context.Context, run *jobRun) error {
	out, err := o.deps.Compositor.ExtractThumbnail(ctx, run.final, o.settings.ThumbnailAt,
		filepath.Join(o.settings.OutputDir, run.job.ID+".jpg"))
	if err != nil {
		return err
	}
	run.thumb = out
	return nil
}

// failure builds the failed record. Delivered outputs are removed so a
// failed job never leaves a video behind; the work directory is kept.
func (o *Orchestrator) failure(run *jobRun, err *StageError) *Result {
	util.CleanupFiles(run.final, run.thumb)

	o.enter(run, StageFailed)
	return &Result{
		Success: false,
		JobID:   run.job.ID,
		Style:   run.job.Style,
		Stage:   err.Stage,
		Error:   err.Error(),
		Details: errorDetails(err.Err),
	}
}

func (o *Orchestrator) cleanup(run *jobRun) {
	if o.settings.KeepFrames {
		return
	}
	if err := os.RemoveAll(run.jobDir); err != nil {
		run.logger.Warn().Err(err).Str("dir", run.jobDir).Msg("failed to remove work dir")
	}
}

// errorDetails extracts diagnostics carried by typed errors.
func errorDetails(err error) string {
	var encErr *video.EncodeError
	if errors.As(err, &encErr) && encErr.Stderr != "" {
		return encErr.Stderr
	}
	var ovErr *overlays.OverlayError
	if errors.As(err, &ovErr) && ovErr.Stderr != "" {
		return ovErr.Stderr
	}
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) && exitErr.Stderr != "" {
		return exitErr.Stderr
	}
	return fmt.Sprintf("%+v", err)
}
