package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/audiogram/internal/analysis"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/samber/lo"
)

// PreviewLength bounds each descriptor sequence in a success record.
const PreviewLength = 100

// AnalysisPreview is the head of each descriptor sequence.
type AnalysisPreview struct {
	RMS         []float64 `json:"rms"`
	VocalEnergy []float64 `json:"vocalEnergy"`
	Silence     []bool    `json:"silence"`
}

// NewAnalysisPreview copies the first PreviewLength values of a.
func NewAnalysisPreview(a *analysis.Analysis) *AnalysisPreview {
	return &AnalysisPreview{
		RMS:         append([]float64{}, lo.Slice(a.RMS, 0, PreviewLength)...),
		VocalEnergy: append([]float64{}, lo.Slice(a.VocalEnergy, 0, PreviewLength)...),
		Silence:     append([]bool{}, lo.Slice(a.Silence, 0, PreviewLength)...),
	}
}

// Result is a job's terminal record.
type Result struct {
	Success       bool             `json:"success"`
	JobID         string           `json:"jobId"`
	Style         string           `json:"style,omitempty"`
	VideoPath     string           `json:"videoPath,omitempty"`
	ThumbnailPath string           `json:"thumbnailPath,omitempty"`
	Duration      float64          `json:"duration,omitempty"`
	TotalFrames   int              `json:"totalFrames,omitempty"`
	Analysis      *AnalysisPreview `json:"analysis,omitempty"`
	Stage         Stage            `json:"stage,omitempty"`
	Error         string           `json:"error,omitempty"`
	Details       string           `json:"details,omitempty"`
	CompletedAt   time.Time        `json:"completedAt"`
}

// ResultStore persists terminal records as one JSON file per job.
type ResultStore struct {
	dir string
}

// NewResultStore creates the directory if needed.
func NewResultStore(dir string) (*ResultStore, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &ResultStore{dir: dir}, nil
}

// Path returns the record file for jobID.
func (s *ResultStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Write stores res. A record can be written only once per job.
func (s *ResultStore) Write(res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')

	if err := util.WriteFileOnce(s.Path(res.JobID), data, 0644); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrResultExists, res.JobID)
		}
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// ReadRaw returns the stored bytes for jobID.
func (s *ResultStore) ReadRaw(jobID string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return data, nil
}

// Read decodes the stored record for jobID.
func (s *ResultStore) Read(jobID string) (*Result, error) {
	data, err := s.ReadRaw(jobID)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", jobID, err)
	}
	return &res, nil
}
