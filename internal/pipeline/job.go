package pipeline

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/keagan/audiogram/internal/overlays"
)

// Stage is a job's position in the render state machine.
type Stage string

const (
	StageCreated      Stage = "created"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StageEncoding     Stage = "encoding"
	StageOverlaying   Stage = "overlaying"
	StageThumbnailing Stage = "thumbnailing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Request is a job submission.
type Request struct {
	AudioPath string           `json:"audioPath"`
	Style     string           `json:"style"`
	Episode   overlays.Episode `json:"episode"`
}

// Job is an accepted render request. It does not change once created; stage
// and result are tracked by the registry and the result store.
type Job struct {
	ID        string           `json:"id"`
	AudioPath string           `json:"audioPath"`
	Style     string           `json:"style"`
	Episode   overlays.Episode `json:"episode"`
	Seed      int64            `json:"seed"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SeedFor derives a job seed from its ID.
func SeedFor(jobID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	return int64(h.Sum64() & math.MaxInt64)
}

// FrameCount returns the number of video frames for a duration.
func FrameCount(duration float64, fps int) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	n := int(math.Floor(duration*float64(fps) + 1e-6))
	if n < 1 {
		n = 1
	}
	return n
}
