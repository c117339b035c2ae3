// ABOUTME: Tests for the conversion invoker
// ABOUTME: Covers unsupported pairs, missing files, backend errors, timeouts, and the concurrency bound

package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convertbot/internal/catalog"
	"github.com/2389/convertbot/internal/stage"
)

// fakeBackend implements Backend for testing
type fakeBackend struct {
	mu       sync.Mutex
	calls    []catalog.Capability
	output   []byte
	err      error
	block    bool // wait for ctx cancellation
	delay    time.Duration
	inFlight int32
	maxSeen  int32
}

func (f *fakeBackend) Convert(ctx context.Context, capability catalog.Capability, inputPath string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, capability)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newStagedFile(t *testing.T, name string) *stage.File {
	t.Helper()
	s, err := stage.New(filepath.Join(t.TempDir(), "staging"), 0, nil)
	require.NoError(t, err)
	f, err := s.Stage("session", name, strings.NewReader("input"))
	require.NoError(t, err)
	return f
}

func newTestInvoker(t *testing.T, backend Backend, opts Options) *Invoker {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(t.TempDir(), "results")
	}
	inv, err := NewInvoker(catalog.Default(), backend, opts, nil)
	require.NoError(t, err)
	return inv
}

func TestInvoke_Success(t *testing.T) {
	backend := &fakeBackend{output: []byte("%PDF-1.7")}
	inv := newTestInvoker(t, backend, Options{})
	staged := newStagedFile(t, "report.docx")

	out := inv.Invoke(context.Background(), staged, "pdf")
	require.True(t, out.Succeeded(), "outcome: %+v", out)
	assert.Equal(t, ReasonNone, out.Reason)
	assert.NoError(t, out.Err)

	data, err := os.ReadFile(out.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, ".pdf", filepath.Ext(out.ResultPath))

	require.Equal(t, 1, backend.callCount())
	assert.Equal(t, "/convert/docx/to/pdf", backend.calls[0].Path)

	// The staged input is left for the caller to discard
	_, err = os.Stat(staged.Path)
	assert.NoError(t, err)
}

func TestInvoke_UnsupportedSkipsBackend(t *testing.T) {
	backend := &fakeBackend{output: []byte("x")}
	inv := newTestInvoker(t, backend, Options{})
	staged := newStagedFile(t, "report.docx")

	out := inv.Invoke(context.Background(), staged, "pptx")
	assert.False(t, out.Succeeded())
	assert.Equal(t, ReasonUnsupported, out.Reason)
	assert.True(t, errors.Is(out.Err, ErrUnsupported))
	assert.Zero(t, backend.callCount())
}

func TestInvoke_MissingFileFailsClosed(t *testing.T) {
	backend := &fakeBackend{output: []byte("x")}
	inv := newTestInvoker(t, backend, Options{})
	staged := newStagedFile(t, "report.docx")
	require.NoError(t, os.Remove(staged.Path))

	out := inv.Invoke(context.Background(), staged, "pdf")
	assert.Equal(t, ReasonNotFound, out.Reason)
	assert.True(t, errors.Is(out.Err, ErrNotFound))
	assert.Zero(t, backend.callCount())

	out = inv.Invoke(context.Background(), nil, "pdf")
	assert.Equal(t, ReasonNotFound, out.Reason)
}

func TestInvoke_BackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("402 payment required")}
	inv := newTestInvoker(t, backend, Options{})
	staged := newStagedFile(t, "report.docx")

	out := inv.Invoke(context.Background(), staged, "pdf")
	assert.Equal(t, ReasonBackend, out.Reason)
	assert.True(t, errors.Is(out.Err, ErrBackend))
	assert.Contains(t, out.Err.Error(), "402 payment required")
	assert.Empty(t, out.ResultPath)
}

func TestInvoke_Timeout(t *testing.T) {
	backend := &fakeBackend{block: true}
	inv := newTestInvoker(t, backend, Options{Timeout: 20 * time.Millisecond})
	staged := newStagedFile(t, "report.docx")

	start := time.Now()
	out := inv.Invoke(context.Background(), staged, "pdf")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ReasonBackend, out.Reason)
	assert.True(t, errors.Is(out.Err, ErrBackend))
}

func TestInvoke_SlowBackendIgnoringContextStillTimesOut(t *testing.T) {
	backend := &fakeBackend{delay: 50 * time.Millisecond, output: []byte("late")}
	inv := newTestInvoker(t, backend, Options{Timeout: 10 * time.Millisecond})
	staged := newStagedFile(t, "report.docx")

	out := inv.Invoke(context.Background(), staged, "pdf")
	assert.Equal(t, ReasonBackend, out.Reason)
}

func TestInvoke_ConcurrencyBound(t *testing.T) {
	backend := &fakeBackend{delay: 20 * time.Millisecond, output: []byte("x")}
	inv := newTestInvoker(t, backend, Options{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		staged := newStagedFile(t, "report.docx")
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := inv.Invoke(context.Background(), staged, "pdf")
			assert.True(t, out.Succeeded())
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, backend.callCount())
	assert.LessOrEqual(t, atomic.LoadInt32(&backend.maxSeen), int32(2))
}

func TestNewInvoker_Validation(t *testing.T) {
	_, err := NewInvoker(nil, &fakeBackend{}, Options{OutputDir: t.TempDir()}, nil)
	assert.Error(t, err)
	_, err = NewInvoker(catalog.Default(), nil, Options{OutputDir: t.TempDir()}, nil)
	assert.Error(t, err)
	_, err = NewInvoker(catalog.Default(), &fakeBackend{}, Options{}, nil)
	assert.Error(t, err)
}

func TestFailure_WrapsSentinel(t *testing.T) {
	out := Failure(ReasonStorage, nil)
	assert.True(t, errors.Is(out.Err, ErrStorage))
	assert.False(t, out.Succeeded())
	assert.Equal(t, "storage_error", ReasonStorage.String())
	assert.True(t, Success("/tmp/x.pdf").Succeeded())
}
