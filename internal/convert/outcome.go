// ABOUTME: Conversion outcome type returned by the invoker
// ABOUTME: Either a result artifact path or a categorized failure with the cause for logging

package convert

import (
	"errors"
	"fmt"
)

// Failure categories.
var (
	ErrUnsupported = errors.New("unsupported conversion")
	ErrNotFound    = errors.New("staged file not found")
	ErrBackend     = errors.New("conversion backend failed")
	ErrStorage     = errors.New("conversion result storage failed")
)

// Reason categorizes a failed conversion.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnsupported
	ReasonNotFound
	ReasonBackend
	ReasonStorage
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnsupported:
		return "unsupported"
	case ReasonNotFound:
		return "not_found"
	case ReasonBackend:
		return "backend_error"
	case ReasonStorage:
		return "storage_error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// sentinel returns the error category matching r.
func (r Reason) sentinel() error {
	switch r {
	case ReasonUnsupported:
		return ErrUnsupported
	case ReasonNotFound:
		return ErrNotFound
	case ReasonBackend:
		return ErrBackend
	case ReasonStorage:
		return ErrStorage
	default:
		return nil
	}
}

// Outcome is the result of one conversion attempt. A successful outcome has a
// ResultPath and no Reason; a failed one has a Reason and an Err.
type Outcome struct {
	ResultPath string
	Reason     Reason
	Err        error // wraps the Reason's sentinel; detail is for logs only
}

// Success builds a successful outcome.
func Success(resultPath string) Outcome {
	return Outcome{ResultPath: resultPath}
}

// Failure builds a failed outcome. cause may be nil.
func Failure(reason Reason, cause error) Outcome {
	err := reason.sentinel()
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}
	return Outcome{Reason: reason, Err: err}
}

// Succeeded reports whether the conversion produced a result.
func (o Outcome) Succeeded() bool {
	return o.Reason == ReasonNone && o.ResultPath != ""
}
