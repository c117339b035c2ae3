// ABOUTME: Per-user conversation state for the conversion flow
// ABOUTME: Tracks awaiting-file, the single pending staged file, and in-flight conversions

package session

import (
	"errors"
	"fmt"

	"github.com/2389/convertbot/internal/stage"
)

// ErrInvalidTransition is returned when an operation does not fit the
// session's current phase.
var ErrInvalidTransition = errors.New("invalid session transition")

// Phase is the externally visible state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingFile
	PhaseAwaitingFormatChoice
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingFile:
		return "awaiting_file"
	case PhaseAwaitingFormatChoice:
		return "awaiting_format_choice"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is one session's conversation state. The zero value is an idle
// session. State is not safe for concurrent use; Store serializes access.
//
// Invariant: pending is non-nil only while a format choice is outstanding,
// and awaitingFile is false whenever pending is set.
type State struct {
	awaitingFile bool
	pending      *stage.File
	converting   bool
}

// MarkAwaitingFile puts the session into the awaiting-file phase. A file that
// was still waiting for a format choice is cleared and returned so the caller
// can discard it.
func (s *State) MarkAwaitingFile() (displaced *stage.File) {
	displaced = s.pending
	s.pending = nil
	s.awaitingFile = true
	return displaced
}

// AttachPending records f as the file awaiting a format choice. It fails
// when the session is not awaiting a file or already has a pending file;
// the existing pending file is left untouched.
func (s *State) AttachPending(f *stage.File) error {
	if f == nil {
		return fmt.Errorf("%w: no file to attach", ErrInvalidTransition)
	}
	if s.pending != nil {
		return fmt.Errorf("%w: a file is already awaiting a format choice", ErrInvalidTransition)
	}
	if !s.awaitingFile {
		return fmt.Errorf("%w: session is not awaiting a file", ErrInvalidTransition)
	}
	s.pending = f
	s.awaitingFile = false
	return nil
}

// ClearPending drops the pending file and returns it (nil if none).
func (s *State) ClearPending() *stage.File {
	f := s.pending
	s.pending = nil
	return f
}

// Reset returns the session to idle and hands back any pending file.
func (s *State) Reset() *stage.File {
	s.awaitingFile = false
	return s.ClearPending()
}

// IsAwaitingFile reports whether the next upload is expected.
func (s State) IsAwaitingFile() bool { return s.awaitingFile }

// Pending returns the file awaiting a format choice, or nil.
func (s State) Pending() *stage.File { return s.pending }

// Phase derives the phase from the state fields.
func (s State) Phase() Phase {
	switch {
	case s.pending != nil:
		return PhaseAwaitingFormatChoice
	case s.awaitingFile:
		return PhaseAwaitingFile
	default:
		return PhaseIdle
	}
}

// BeginConversion marks a conversion as in flight for this session.
func (s *State) BeginConversion() error {
	if s.converting {
		return fmt.Errorf("%w: a conversion is already in progress", ErrInvalidTransition)
	}
	s.converting = true
	return nil
}

// EndConversion clears the in-flight marker.
func (s *State) EndConversion() { s.converting = false }

// Converting reports whether a conversion is in flight.
func (s State) Converting() bool { return s.converting }
