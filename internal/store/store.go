// ABOUTME: Store interface and data types for the conversion history ledger
// ABOUTME: Defines the Conversion record and the HistoryStore interface for persistence

package store

import (
	"context"
	"time"
)

// ConversionStatus constants for recorded attempts
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Conversion records one conversion attempt. Only metadata is kept; file
// contents never reach the database.
type Conversion struct {
	ID           string
	SessionID    string
	Filename     string
	SourceFormat string
	TargetFormat string
	Status       string // "succeeded" or "failed"
	Reason       string // failure category, empty on success
	Bytes        int64  // size of the uploaded file
	Duration     time.Duration
	CreatedAt    time.Time
}

// ConversionStats summarizes recorded attempts.
type ConversionStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// HistoryStore defines the interface for conversion history persistence
type HistoryStore interface {
	RecordConversion(ctx context.Context, c *Conversion) error
	ListConversions(ctx context.Context, sessionID string, limit int) ([]*Conversion, error)
	ConversionStats(ctx context.Context, sessionID string) (*ConversionStats, error)

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies default (10) and cap (100) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 100:
		return 100
	default:
		return limit
	}
}
