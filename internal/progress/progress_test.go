package progress

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read("job-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Write("job-1", 12, 900))
	rec, err := s.Read("job-1")
	require.NoError(t, err)
	assert.Equal(t, Record{Current: 12, Total: 900}, rec)
	assert.False(t, rec.Done())

	require.NoError(t, s.Write("job-1", 900, 900))
	for i := 0; i < 3; i++ {
		rec, err = s.Read("job-1")
		require.NoError(t, err)
		assert.Equal(t, Record{Current: 900, Total: 900}, rec)
		assert.True(t, rec.Done())
	}

	data, err := os.ReadFile(s.Path("job-1"))
	require.NoError(t, err)
	assert.Equal(t, "900/900", string(data))
}

func TestReadMalformed(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, content := range []string{"", "12/", "/900", "12", "a/b", "-1/5", "1/2/3", "12 / 900"} {
		require.NoError(t, os.WriteFile(s.Path("bad"), []byte(content), 0644))
		_, err := s.Read("bad")
		assert.True(t, errors.Is(err, ErrNotFound), "content %q", content)
	}
}

func TestParseClampsCurrent(t *testing.T) {
	rec, err := Parse("950/900\n")
	require.NoError(t, err)
	assert.Equal(t, Record{Current: 900, Total: 900}, rec)
}

func TestWriteRejectsNegative(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Write("job", -1, 10))
}

func TestConcurrentReadsNeverSeePartialRecords(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("job", 0, 5000))

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 5000; i++ {
			_ = s.Write("job", i, 5000)
		}
		close(done)
	}()

	var bad int
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0
		for {
			select {
			case <-done:
				return
			default:
			}
			rec, err := s.Read("job")
			if err != nil || rec.Total != 5000 || rec.Current < last {
				bad++
				continue
			}
			last = rec.Current
		}
	}()

	wg.Wait()
	assert.Zero(t, bad)
}

func TestRemove(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("job", 1, 2))
	require.NoError(t, s.Remove("job"))
	require.NoError(t, s.Remove("job"))
	_, err = s.Read("job")
	assert.True(t, errors.Is(err, ErrNotFound))
}
