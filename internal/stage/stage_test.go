// ABOUTME: Tests for the staging directory
// ABOUTME: Covers collision-free paths, size limits, idempotent discard, and sweeping

package stage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convertbot/internal/catalog"
)

func newTestStage(t *testing.T, maxSize int64) *Stage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "staging"), maxSize, nil)
	require.NoError(t, err)
	return s
}

func TestStage_WritesContent(t *testing.T) {
	s := newTestStage(t, 0)

	f, err := s.Stage("!room:example.org/@alice:example.org", "report.docx", strings.NewReader("hello"))
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "report.docx", f.Name)
	assert.Equal(t, catalog.Format("docx"), f.Format)
	assert.Equal(t, int64(5), f.Size)
	assert.True(t, filepath.IsAbs(f.Path))
	assert.True(t, strings.HasPrefix(f.Path, s.Dir()))
	assert.False(t, f.CreatedAt.IsZero())

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStage_SameFilenameNeverCollides(t *testing.T) {
	s := newTestStage(t, 0)

	var wg sync.WaitGroup
	paths := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := "user-a"
			if i%2 == 0 {
				session = "user-b"
			}
			f, err := s.Stage(session, "report.docx", strings.NewReader("x"))
			if assert.NoError(t, err) {
				paths <- f.Path
			}
		}(i)
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, 20)
}

func TestStage_SanitizesTraversal(t *testing.T) {
	s := newTestStage(t, 0)

	f, err := s.Stage("../../etc", "../../passwd|evil.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	rel, err := filepath.Rel(s.Dir(), f.Path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."), "staged outside dir: %s", f.Path)
	assert.Equal(t, catalog.Format("pdf"), f.Format)
}

func TestStage_TooLarge(t *testing.T) {
	s := newTestStage(t, 4)

	_, err := s.Stage("user", "big.pdf", bytes.NewReader([]byte("12345")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))

	// Nothing left behind
	removed, err := s.Sweep(-time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	f, err := s.Stage("user", "ok.pdf", bytes.NewReader([]byte("1234")))
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.Size)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStage_ReadFailureIsStorageError(t *testing.T) {
	s := newTestStage(t, 0)

	_, err := s.Stage("user", "report.docx", failingReader{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	entries, err := os.ReadDir(filepath.Join(s.Dir(), "user"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiscard_Idempotent(t *testing.T) {
	s := newTestStage(t, 0)

	f, err := s.Stage("user", "report.docx", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Discard(f))
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))

	// Second discard succeeds
	assert.NoError(t, s.Discard(f))
	assert.NoError(t, s.Discard(nil))
	assert.NoError(t, s.Remove(""))
}

func TestDiscard_KeepsSiblings(t *testing.T) {
	s := newTestStage(t, 0)

	a, err := s.Stage("user", "a.docx", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.Stage("user", "b.docx", strings.NewReader("b"))
	require.NoError(t, err)

	require.NoError(t, s.Discard(a))
	_, err = os.Stat(b.Path)
	assert.NoError(t, err)
}

func TestSweep_RemovesOnlyStaleFiles(t *testing.T) {
	s := newTestStage(t, 0)

	old, err := s.Stage("user", "old.docx", strings.NewReader("x"))
	require.NoError(t, err)
	fresh, err := s.Stage("other", "fresh.docx", strings.NewReader("y"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))

	removed, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)

	// The emptied session directory is gone too
	_, err = os.Stat(filepath.Dir(old.Path))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_KeepsFreshEmptyDirectory(t *testing.T) {
	s := newTestStage(t, 0)

	// Stage has just created the directory and not yet opened its file
	dir := filepath.Join(s.Dir(), "user")
	require.NoError(t, os.MkdirAll(dir, 0700))

	_, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	assert.NoError(t, err)

	f, err := s.Stage("user", "report.docx", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(f.Path))

	// Once stale and empty it is reclaimed
	require.NoError(t, s.Discard(f))
	require.NoError(t, os.MkdirAll(dir, 0700))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir, past, past))
	_, err = s.Sweep(time.Hour)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStage_RecreatesRemovedSessionDirectory(t *testing.T) {
	s := newTestStage(t, 0)

	dir := filepath.Join(s.Dir(), "user")
	f, err := s.create(dir, filepath.Join(dir, "a_report.docx"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, os.RemoveAll(dir))
	staged, err := s.Stage("user", "report.docx", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(staged.Path))
}

func TestStage_SourceLimitIsTooLarge(t *testing.T) {
	s := newTestStage(t, 0)

	_, err := s.Stage("user", "big.pdf", limitedReader{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.False(t, errors.Is(err, ErrStorage))

	entries, err := os.ReadDir(filepath.Join(s.Dir(), "user"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type limitedReader struct{}

func (limitedReader) Read([]byte) (int, error) { return 0, ErrTooLarge }

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.docx", sanitizeFilename("report.docx"))
	assert.Equal(t, "my_report__1_.pdf", sanitizeFilename("my report (1).pdf"))
	assert.Equal(t, "passwd", sanitizeFilename("../../passwd"))
	assert.Equal(t, "upload", sanitizeFilename(".."))
	assert.Equal(t, "file.txt", sanitizeFilename(`C:\Users\bob\file.txt`))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "room_example.org_alice_example.org", slugify("!room:example.org/@alice:example.org"))
	assert.Equal(t, "default", slugify(""))
	assert.Equal(t, "default", slugify(".."))
}
