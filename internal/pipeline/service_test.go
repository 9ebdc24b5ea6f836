package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keagan/audiogram/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, h *harness, opts ServiceOptions) *Service {
	t.Helper()
	svc := NewService(zerolog.Nop(), h.orch, h.styles, h.registry, h.results, h.progress.FileStore, opts)
	t.Cleanup(svc.Close)
	return svc
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))
	return path
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, 1)
	svc := newTestService(t, h, ServiceOptions{Concurrency: 1})
	audio := writeAudio(t)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty audio", Request{Style: "monochrome"}, "audioPath"},
		{"missing audio", Request{AudioPath: filepath.Join(t.TempDir(), "nope.wav"), Style: "monochrome"}, "audioPath"},
		{"unknown style", Request{AudioPath: audio, Style: "Nonexistent Style"}, "style"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := svc.Submit(tt.req)
			assert.Empty(t, id)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := svc.Submit(Request{AudioPath: audio, Style: "Nonexistent Style"})
	assert.Contains(t, err.Error(), "monochrome")
}

func TestSubmitRunsJob(t *testing.T) {
	h := newHarness(t, 2)
	svc := newTestService(t, h, ServiceOptions{Concurrency: 2, QueueSize: 4, Seed: 42})

	id, err := svc.Submit(Request{AudioPath: writeAudio(t), Style: "synthwave"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "synthwave", res.Style)

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, StageDone, st.Stage)

	// a separate poller sees the same terminal record
	polled, err := StatusFromStore(ctx, h.results, id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, polled.State)
	assert.Equal(t, res.VideoPath, polled.Result.VideoPath)

	rec, err := svc.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, progress.Record{Current: 60, Total: 60}, rec)
}

func TestStatusUnknownJobIsPending(t *testing.T) {
	h := newHarness(t, 1)
	svc := newTestService(t, h, ServiceOptions{Concurrency: 1})

	st, err := svc.Status(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	assert.Nil(t, st.Result)

	_, err = svc.Progress(context.Background(), "missing")
	assert.True(t, errors.Is(err, progress.ErrNotFound))
}

func TestSubmitQueueFull(t *testing.T) {
	h := newHarness(t, 1)
	release := make(chan struct{})
	h.extractor.block = release

	svc := newTestService(t, h, ServiceOptions{Concurrency: 1, QueueSize: 1})
	t.Cleanup(func() { close(release) })
	audio := writeAudio(t)

	first, err := svc.Submit(Request{AudioPath: audio, Style: "monochrome"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(first)
		return ok && snap.Stage == StageAnalyzing
	}, 5*time.Second, 10*time.Millisecond)

	_, err = svc.Submit(Request{AudioPath: audio, Style: "monochrome"})
	require.NoError(t, err)

	_, err = svc.Submit(Request{AudioPath: audio, Style: "monochrome"})
	assert.True(t, errors.Is(err, ErrQueueFull))
}

// blockingReader never answers until released.
type blockingReader struct {
	release chan struct{}
}

func (b *blockingReader) Read(jobID string) (progress.Record, error) {
	<-b.release
	return progress.Record{}, nil
}

func TestReadProgressTimeout(t *testing.T) {
	r := &blockingReader{release: make(chan struct{})}
	defer close(r.release)

	_, err := ReadProgress(context.Background(), r, "job", 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrStatusUnknown))
}

func TestSeedFor(t *testing.T) {
	a := SeedFor("job-1")
	assert.Equal(t, a, SeedFor("job-1"))
	assert.NotEqual(t, a, SeedFor("job-2"))
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p := NewPool(2, 2)
	done := make(chan struct{})
	require.NoError(t, p.TrySubmit(func() { close(done) }))
	p.Stop()

	select {
	case <-done:
	default:
		t.Fatal("queued task did not run before Stop returned")
	}
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolClosed)
}

func TestRegistryWait(t *testing.T) {
	r := NewRegistry()

	_, err := r.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)

	r.Add(Job{ID: "job"})
	r.SetStage("job", StageEncoding)
	snap, ok := r.Get("job")
	require.True(t, ok)
	assert.Equal(t, StageEncoding, snap.Stage)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx, "job")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go r.Complete("job", &Result{JobID: "job", Success: false, Stage: StageEncoding})
	res, err := r.Wait(context.Background(), "job")
	require.NoError(t, err)
	assert.False(t, res.Success)

	// terminal state sticks
	r.SetStage("job", StageOverlaying)
	r.Complete("job", &Result{JobID: "job", Success: true})
	snap, _ = r.Get("job")
	assert.Equal(t, StageFailed, snap.Stage)
	assert.False(t, snap.Result.Success)
}

func TestRegistryEvictsFinishedJobs(t *testing.T) {
	r := NewRegistryWithRetention(20 * time.Millisecond)
	r.Add(Job{ID: "done"})
	r.Add(Job{ID: "running"})
	r.Complete("done", &Result{JobID: "done", Success: true})

	res, err := r.Wait(context.Background(), "done")
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Eventually(t, func() bool {
		_, ok := r.Get("done")
		return !ok
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("running")
	assert.True(t, ok, "unfinished jobs are kept")
}

func TestServiceAnswersEvictedJobsFromStore(t *testing.T) {
	h := newHarness(t, 1)
	h.registry = NewRegistryWithRetention(time.Millisecond)
	h.orch.deps.Observer = h.registry
	svc := newTestService(t, h, ServiceOptions{Concurrency: 1, QueueSize: 1})

	id, err := svc.Submit(Request{AudioPath: writeAudio(t), Style: "monochrome"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := h.registry.Get(id)
		return h.registry.Len() == 0 && !ok
	}, 10*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	require.NotNil(t, st.Result)
	assert.True(t, st.Result.Success, st.Result.Error)

	res, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, res.JobID)
}
