// ABOUTME: ConversionInvoker runs a catalog capability against a staged file
// ABOUTME: Bounds backend calls by timeout and concurrency and normalizes failures into Outcome

package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/2389/convertbot/internal/catalog"
	"github.com/2389/convertbot/internal/stage"
)

// Backend performs one conversion remotely and returns the converted bytes.
type Backend interface {
	Convert(ctx context.Context, capability catalog.Capability, inputPath string) ([]byte, error)
}

// Options tunes an Invoker.
type Options struct {
	// OutputDir receives result artifacts. Required.
	OutputDir string
	// Timeout bounds each backend call. Zero means no timeout.
	Timeout time.Duration
	// MaxConcurrent bounds simultaneous backend calls. Zero means unlimited.
	MaxConcurrent int64
}

// Invoker resolves capabilities and calls the backend.
type Invoker struct {
	catalog *catalog.Catalog
	backend Backend
	opts    Options
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewInvoker creates an invoker over an immutable catalog.
func NewInvoker(cat *catalog.Catalog, backend Backend, opts Options, logger *slog.Logger) (*Invoker, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0700); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	inv := &Invoker{
		catalog: cat,
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "invoker"),
	}
	if opts.MaxConcurrent > 0 {
		inv.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return inv, nil
}

// Invoke converts staged to target. It never deletes the staged input.
func (inv *Invoker) Invoke(ctx context.Context, staged *stage.File, target catalog.Format) Outcome {
	if staged == nil {
		return Failure(ReasonNotFound, nil)
	}

	capability, ok := inv.catalog.Lookup(staged.Format, target)
	if !ok {
		return Failure(ReasonUnsupported, fmt.Errorf("%s -> %s", staged.Format, target))
	}

	if _, err := os.Stat(staged.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure(ReasonNotFound, fmt.Errorf("staged file %s is gone", staged.ID))
		}
		return Failure(ReasonStorage, err)
	}

	if inv.sem != nil {
		if err := inv.sem.Acquire(ctx, 1); err != nil {
			return Failure(ReasonBackend, fmt.Errorf("waiting for a backend slot: %w", err))
		}
		defer inv.sem.Release(1)
	}

	callCtx := ctx
	if inv.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := inv.backend.Convert(callCtx, capability, staged.Path)
	if err == nil && callCtx.Err() != nil {
		// a backend that ignores its context still counts as timed out
		err = callCtx.Err()
	}
	if err != nil {
		inv.logger.Warn("backend conversion failed",
			"staged_id", staged.ID,
			"capability", capability.ID,
			"elapsed", time.Since(start),
			"error", err,
		)
		return Failure(ReasonBackend, err)
	}

	resultPath := filepath.Join(inv.opts.OutputDir, fmt.Sprintf("%s.%s", staged.ID, target))
	if err := os.WriteFile(resultPath, data, 0600); err != nil {
		_ = os.Remove(resultPath)
		return Failure(ReasonStorage, err)
	}

	inv.logger.Info("conversion succeeded",
		"staged_id", staged.ID,
		"capability", capability.ID,
		"bytes", len(data),
		"elapsed", time.Since(start),
	)
	return Success(resultPath)
}
