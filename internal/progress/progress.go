// Package progress persists per-job frame progress as "<current>/<total>"
// text files that other processes can poll.
package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/keagan/audiogram/pkg/util"
)

// ErrNotFound is returned when no readable record exists for a job.
var ErrNotFound = errors.New("progress not found")

var recordPattern = regexp.MustCompile(`^(\d{1,18})/(\d{1,18})$`)

// Record is a job's frame progress.
type Record struct {
	Current int `json:"currentFrame"`
	Total   int `json:"totalFrames"`
}

// Done reports whether every frame has been written.
func (r Record) Done() bool {
	return r.Total > 0 && r.Current >= r.Total
}

// String formats the record as stored on disk.
func (r Record) String() string {
	return fmt.Sprintf("%d/%d", r.Current, r.Total)
}

// Parse reads a stored record. Anything other than two non-negative integers
// separated by a slash is rejected.
func Parse(s string) (Record, error) {
	m := recordPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Record{}, fmt.Errorf("malformed progress record %q", s)
	}
	cur, err := strconv.Atoi(m[1])
	if err != nil {
		return Record{}, err
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Record{}, err
	}
	if cur > total {
		cur = total
	}
	return Record{Current: cur, Total: total}, nil
}

// FileStore keeps one progress file per job in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the progress file for jobID.
func (s *FileStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+".progress")
}

// Write atomically replaces the job's record.
func (s *FileStore) Write(jobID string, current, total int) error {
	if current < 0 || total < 0 {
		return fmt.Errorf("negative progress %d/%d", current, total)
	}
	rec := Record{Current: current, Total: total}
	return util.WriteFileAtomic(s.Path(jobID), []byte(rec.String()), 0644)
}

// Read returns the job's record. A missing or malformed file yields
// ErrNotFound.
func (s *FileStore) Read(jobID string) (Record, error) {
	data, err := os.ReadFile(s.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	rec, err := Parse(string(data))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return rec, nil
}

// Remove deletes the job's record if present.
func (s *FileStore) Remove(jobID string) error {
	err := os.Remove(s.Path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
