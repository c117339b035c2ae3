// ABOUTME: Transient on-disk staging for uploaded documents
// ABOUTME: Writes uploads under collision-free paths and removes them idempotently

package stage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/convertbot/internal/catalog"
)

// ErrStorage wraps any failure to write or delete staged content.
var ErrStorage = errors.New("staging storage error")

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// File is one uploaded document awaiting conversion or discard.
type File struct {
	ID        string
	SessionID string
	Path      string // absolute
	Name      string // original filename as uploaded
	Format    catalog.Format
	Size      int64
	CreatedAt time.Time
}

// Stage manages the staging directory.
type Stage struct {
	dir     string
	maxSize int64
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a stage rooted at dir. The directory is created if needed.
// maxSize <= 0 disables the size limit.
func New(dir string, maxSize int64, logger *slog.Logger) (*Stage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving staging directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Stage{
		dir:     abs,
		maxSize: maxSize,
		logger:  logger.With("component", "stage"),
		now:     time.Now,
	}, nil
}

// Dir returns the absolute staging directory.
func (s *Stage) Dir() string { return s.dir }

// MaxSize returns the upload limit in bytes (0 means unlimited).
func (s *Stage) MaxSize() int64 { return s.maxSize }

// Stage writes content to a new file owned by sessionID. The stored name is
// "<uuid>_<sanitized filename>" inside a per-session directory, so identical
// filenames never collide. On any failure nothing is left on disk.
func (s *Stage) Stage(sessionID, filename string, content io.Reader) (*File, error) {
	id := uuid.New().String()
	sessionDir := filepath.Join(s.dir, slugify(sessionID))
	path := filepath.Join(sessionDir, id+"_"+sanitizeFilename(filename))
	f, err := s.create(sessionDir, path)
	if err != nil {
		return nil, err
	}

	src := content
	if s.maxSize > 0 {
		// one extra byte tells us the limit was exceeded
		src = io.LimitReader(content, s.maxSize+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case errors.Is(copyErr, ErrTooLarge):
		// the source enforced its own limit
		s.removeQuietly(path)
		return nil, fmt.Errorf("%w: %s: %v", ErrTooLarge, filename, copyErr)
	case copyErr != nil:
		s.removeQuietly(path)
		return nil, fmt.Errorf("%w: writing staged file: %v", ErrStorage, copyErr)
	case closeErr != nil:
		s.removeQuietly(path)
		return nil, fmt.Errorf("%w: closing staged file: %v", ErrStorage, closeErr)
	case s.maxSize > 0 && n > s.maxSize:
		s.removeQuietly(path)
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, filename, s.maxSize)
	}

	staged := &File{
		ID:        id,
		SessionID: sessionID,
		Path:      path,
		Name:      filename,
		Format:    catalog.FormatFromFilename(filename),
		Size:      n,
		CreatedAt: s.now(),
	}
	s.logger.Debug("staged file",
		"id", staged.ID,
		"session", sessionID,
		"name", filename,
		"size", n,
	)
	return staged, nil
}

// create makes the session directory and opens path exclusively. A Sweep
// can remove the empty directory between the two steps, so a missing
// directory gets one more attempt.
func (s *Stage) create(sessionDir, path string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		if err := os.MkdirAll(sessionDir, 0700); err != nil {
			return nil, fmt.Errorf("%w: creating session directory: %v", ErrStorage, err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			return f, nil
		}
		if attempt == 0 && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return nil, fmt.Errorf("%w: creating staged file: %v", ErrStorage, err)
	}
}

// Discard deletes a staged file. Deleting a file that is already gone
// succeeds. Other failures are logged and returned wrapped in ErrStorage;
// callers treat them as non-fatal.
func (s *Stage) Discard(f *File) error {
	if f == nil {
		return nil
	}
	if err := s.Remove(f.Path); err != nil {
		return err
	}
	// drop the session directory once it is empty; failure just means
	// another file is still staged there
	_ = os.Remove(filepath.Dir(f.Path))
	return nil
}

// Remove deletes a single path with the same semantics as Discard.
func (s *Stage) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	s.logger.Warn("failed to remove staged file", "path", path, "error", err)
	return fmt.Errorf("%w: removing %s: %v", ErrStorage, path, err)
}

// Sweep removes staged files last modified more than olderThan ago, along
// with empty session directories that are just as stale. It returns the number of files removed.
// Used to reclaim files orphaned by a restart.
func (s *Stage) Sweep(olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	removed := 0
	emptied := make(map[string]bool)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := s.Remove(path); err == nil {
				removed++
				emptied[filepath.Dir(path)] = true
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: sweeping staging directory: %v", ErrStorage, err)
	}

	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(s.dir, e.Name())
			if !emptied[dir] {
				// a fresh directory may be about to receive an upload
				info, err := e.Info()
				if err != nil || !info.ModTime().Before(cutoff) {
					continue
				}
			}
			_ = os.Remove(dir)
		}
	}

	if removed > 0 {
		s.logger.Info("swept stale staged files", "count", removed)
	}
	return removed, nil
}

func (s *Stage) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to clean up partial file", "path", path, "error", err)
	}
}

// sanitizeFilename keeps only the base name and replaces characters that are
// unsafe in paths.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	return out
}

// slugify converts a session identifier to a directory name.
// Example: !room:matrix.org/@alice:matrix.org -> room_matrix.org_alice_matrix.org
func slugify(id string) string {
	result := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_':
			result = append(result, c)
		case c == ':' || c == '/' || c == '|':
			result = append(result, '_')
		}
	}
	s := strings.Trim(string(result), ".")
	if s == "" {
		return "default"
	}
	return s
}
