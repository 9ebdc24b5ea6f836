package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/internal/config"
	"github.com/keagan/audiogram/internal/ffmpeg"
	"github.com/keagan/audiogram/internal/overlays"
	"github.com/keagan/audiogram/internal/progress"
	"github.com/keagan/audiogram/internal/raster"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/internal/synth"
	"github.com/keagan/audiogram/internal/video"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// State is the coarse status reported to pollers.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Status answers a status poll: either pending or the terminal record.
type Status struct {
	JobID  string  `json:"jobId"`
	State  State   `json:"state"`
	Stage  Stage   `json:"stage,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// ServiceOptions tunes the job service.
type ServiceOptions struct {
	Concurrency int
	QueueSize   int
	PollTimeout time.Duration
	// Seed pins every job's seed; zero derives one from the job ID.
	Seed int64
}

// Service accepts jobs, runs them on a bounded pool and answers polls.
type Service struct {
	logger   zerolog.Logger
	orch     *Orchestrator
	styles   *styles.Registry
	registry *Registry
	results  *ResultStore
	progress *progress.FileStore
	pool     *Pool
	opts     ServiceOptions
}

// NewService wires a service around an orchestrator. The registry should be
// the orchestrator's stage observer.
func NewService(logger zerolog.Logger, orch *Orchestrator, reg *styles.Registry, registry *Registry,
	results *ResultStore, prog *progress.FileStore, opts ServiceOptions) *Service {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	return &Service{
		logger:   logger.With().Str("component", "service").Logger(),
		orch:     orch,
		styles:   reg,
		registry: registry,
		results:  results,
		progress: prog,
		pool:     NewPool(opts.Concurrency, opts.QueueSize),
		opts:     opts,
	}
}

// Stores holds the file stores shared between a service and pollers in
// other processes.
type Stores struct {
	Results  *ResultStore
	Progress *progress.FileStore
}

// OpenStores opens the result and progress stores under cfg.DataDir.
func OpenStores(cfg *config.Config) (*Stores, error) {
	results, err := NewResultStore(filepath.Join(cfg.DataDir, "results"))
	if err != nil {
		return nil, err
	}
	prog, err := progress.NewFileStore(filepath.Join(cfg.DataDir, "progress"))
	if err != nil {
		return nil, err
	}
	return &Stores{Results: results, Progress: prog}, nil
}

// New builds a service with the ffmpeg-backed stages described by cfg.
func New(logger zerolog.Logger, cfg *config.Config) (*Service, error) {
	exec, err := ffmpeg.New(logger, ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	reg, err := styles.Builtin()
	if err != nil {
		return nil, err
	}

	extractor, err := analysis.New(logger, cfg.Analysis.Mode, exec, analysis.Options{
		SampleRate:       cfg.Analysis.SampleRate,
		FrameSize:        cfg.Analysis.FrameSize,
		SilenceThreshold: cfg.Analysis.SilenceThreshold,
	})
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := util.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	registry := NewRegistryWithRetention(cfg.Server.JobRetention)
	orch := NewOrchestrator(logger, Deps{
		Styles:    reg,
		Extractor: extractor,
		Synth:     synth.New(synth.DefaultOptions()),
		Renderer:  raster.New(logger),
		Encoder:   video.NewEncoder(logger, exec, video.OptionsFromConfig(cfg.FFmpeg)),
		Compositor: overlays.NewCompositor(logger, exec, overlays.Options{
			FontFile:    cfg.Overlays.FontFile,
			VideoCodec:  cfg.FFmpeg.VideoCodec,
			PixelFormat: cfg.FFmpeg.PixelFormat,
			Preset:      cfg.FFmpeg.Preset,
			CRF:         lo.ToPtr(cfg.FFmpeg.CRF),
		}),
		Progress: stores.Progress,
		Results:  stores.Results,
		Observer: registry,
	}, SettingsFromConfig(cfg))

	return NewService(logger, orch, reg, registry, stores.Results, stores.Progress, ServiceOptions{
		Concurrency: cfg.Concurrency,
		QueueSize:   cfg.QueueSize,
		PollTimeout: cfg.Server.PollTimeout,
		Seed:        cfg.Render.Seed,
	}), nil
}

// Styles returns the preset registry.
func (s *Service) Styles() *styles.Registry {
	return s.styles
}

// Submit validates req, queues the job and returns its ID without waiting
// for rendering.
func (s *Service) Submit(req Request) (string, error) {
	if err := s.validate(req); err != nil {
		return "", err
	}

	id := uuid.NewString()
	seed := s.opts.Seed
	if seed == 0 {
		seed = SeedFor(id)
	}
	job := Job{
		ID:        id,
		AudioPath: req.AudioPath,
		Style:     req.Style,
		Episode:   req.Episode,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}

	s.registry.Add(job)
	err := s.pool.TrySubmit(func() {
		res := s.orch.Run(context.Background(), job)
		s.registry.Complete(job.ID, res)
	})
	if err != nil {
		s.registry.Remove(job.ID)
		s.logger.Warn().Err(err).Str("job", id).Msg("job rejected")
		return "", err
	}

	s.logger.Info().
		Str("job", id).
		Str("style", req.Style).
		Str("audio", req.AudioPath).
		Msg("job accepted")
	return id, nil
}

func (s *Service) validate(req Request) error {
	if strings.TrimSpace(req.AudioPath) == "" {
		return &ValidationError{Field: "audioPath", Message: "audio path is required"}
	}
	if !util.FileExists(req.AudioPath) {
		return &ValidationError{Field: "audioPath", Message: fmt.Sprintf("audio file %q does not exist", req.AudioPath)}
	}
	if _, err := s.styles.Get(req.Style); err != nil {
		return &ValidationError{
			Field:   "style",
			Message: fmt.Sprintf("unsupported style %q (available: %s)", req.Style, strings.Join(s.styles.Names(), ", ")),
			Err:     err,
		}
	}
	return nil
}

// Status reports whether the job has a terminal record.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if snap, ok := s.registry.Get(id); ok {
		st := Status{JobID: id, State: StatePending, Stage: snap.Stage}
		if snap.Result != nil {
			st.State = StateDone
			st.Result = snap.Result
		}
		return st, nil
	}
	return StatusFromStore(ctx, s.results, id)
}

// StatusFromStore answers a status poll from the result files alone, for
// pollers outside the rendering process.
func StatusFromStore(ctx context.Context, results *ResultStore, id string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	res, err := results.Read(id)
	if errors.Is(err, ErrResultNotFound) {
		return Status{JobID: id, State: StatePending}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{JobID: id, State: StateDone, Stage: res.Stage, Result: res}, nil
}

// Progress reads the job's progress record. A read that does not finish
// within the poll timeout returns ErrStatusUnknown.
func (s *Service) Progress(ctx context.Context, id string) (progress.Record, error) {
	return ReadProgress(ctx, s.progress, id, s.opts.PollTimeout)
}

// ProgressReader loads progress records. *progress.FileStore implements it.
type ProgressReader interface {
	Read(jobID string) (progress.Record, error)
}

// ReadProgress reads a progress record with a timeout.
func ReadProgress(ctx context.Context, store ProgressReader, id string, timeout time.Duration) (progress.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		rec progress.Record
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		rec, err := store.Read(id)
		ch <- reply{rec, err}
	}()

	select {
	case r := <-ch:
		return r.rec, r.err
	case <-ctx.Done():
		return progress.Record{}, fmt.Errorf("%w: %v", ErrStatusUnknown, ctx.Err())
	}
}

// Wait blocks until a job submitted to this service finishes. Jobs already
// evicted from the registry are answered from the result store.
func (s *Service) Wait(ctx context.Context, id string) (*Result, error) {
	res, err := s.registry.Wait(ctx, id)
	if errors.Is(err, ErrResultNotFound) {
		return s.results.Read(id)
	}
	return res, err
}

// Close stops accepting jobs and waits for queued ones to finish.
func (s *Service) Close() {
	s.pool.Stop()
}
