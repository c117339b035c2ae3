// ABOUTME: Mock HistoryStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory HistoryStore implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	conversions map[string]*Conversion // keyed by conversion ID

	// RecordErr, when set, is returned by RecordConversion.
	RecordErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversions: make(map[string]*Conversion),
	}
}

// RecordConversion stores a copy of the attempt.
func (m *MockStore) RecordConversion(ctx context.Context, c *Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}
	if c.Status != StatusSucceeded && c.Status != StatusFailed {
		return errors.New("invalid conversion status")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	cp := *c
	m.conversions[cp.ID] = &cp
	return nil
}

// ListConversions returns the session's attempts, newest first.
func (m *MockStore) ListConversions(ctx context.Context, sessionID string, limit int) ([]*Conversion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Conversion{}
	for _, c := range m.conversions {
		if c.SessionID == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit = normalizeLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConversionStats counts attempts; an empty sessionID counts all sessions.
func (m *MockStore) ConversionStats(ctx context.Context, sessionID string) (*ConversionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats ConversionStats
	for _, c := range m.conversions {
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		stats.Total++
		if c.Status == StatusSucceeded {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return &stats, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
