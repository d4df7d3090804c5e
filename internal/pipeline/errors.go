package pipeline

import "errors"

var (
	// ErrNotReady is returned when a plain save finds an incomplete draft.
	ErrNotReady = errors.New("draft is not ready")
	// ErrMissingLocation is returned when no coordinates can be resolved.
	ErrMissingLocation = errors.New("missing location")
)

// ErrorKind classifies how a save attempt ended. The zero value means the
// listing was saved.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidationFailure ErrorKind = "validation_failure"
	KindUpstreamFailure   ErrorKind = "upstream_failure"
	KindDuplicateFound    ErrorKind = "duplicate_found"
	KindConcurrencyNoOp   ErrorKind = "concurrency_noop"
)

// Outcome is the label used for metrics and logs.
func (k ErrorKind) Outcome() string {
	if k == KindNone {
		return "saved"
	}
	return string(k)
}
