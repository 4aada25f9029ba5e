package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrorKind classifies failures by how they propagate through the pipeline.
type ErrorKind string

const (
	// KindConnection: store or tracking service unreachable. Fatal for the stage.
	KindConnection ErrorKind = "connection"
	// KindSchema: expected columns or view missing. Fatal, carries a remediation hint.
	KindSchema ErrorKind = "schema"
	// KindTraining: a single model failed to fit or evaluate. Skipped by the selector.
	KindTraining ErrorKind = "training"
	// KindArtifact: model persistence failed after a successful fit. Metrics are kept.
	KindArtifact ErrorKind = "artifact"
	// KindResolution: no experiment, run or loadable model at serving time. Triggers fallback.
	KindResolution ErrorKind = "resolution"
	// KindPrediction: malformed input or shape mismatch at inference.
	KindPrediction ErrorKind = "prediction"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind) + " error"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithHint attaches a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf returns the kind of the first classified error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	// ErrNoViableModel is returned by the selector when every configuration failed.
	ErrNoViableModel = eris.New("no viable model: every model configuration failed")
	// ErrNoModel is returned by the resolver when neither tracking nor the local cache yields a model.
	ErrNoModel = eris.New("no model available")
)
