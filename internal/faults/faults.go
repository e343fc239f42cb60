// Package faults defines the error taxonomy shared by the inference engine.
// Errors carry a Kind; ConfigInconsistency and LoadError abort a run while
// every other kind only abandons the case it occurred in.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how far it propagates.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindLoad
	KindShape
	KindInference
	KindWrite
	KindInput
)

var (
	// ErrConfigInconsistency: an ensemble member cannot be resolved
	ErrConfigInconsistency = errors.New("config inconsistency")
	// ErrLoad: checkpoint weights do not match the architecture
	ErrLoad = errors.New("load error")
	// ErrShapeMismatch: cropped prediction and crop window disagree
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInference: non-finite or malformed model output
	ErrInference = errors.New("inference error")
	// ErrWrite: output destination not writable
	ErrWrite = errors.New("write error")
	// ErrInput: case data could not be read or prepared
	ErrInput = errors.New("input error")
)

var sentinels = map[Kind]error{
	KindConfig:    ErrConfigInconsistency,
	KindLoad:      ErrLoad,
	KindShape:     ErrShapeMismatch,
	KindInference: ErrInference,
	KindWrite:     ErrWrite,
	KindInput:     ErrInput,
}

func (k Kind) String() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "unknown"
}

// Error is a classified error. Patient and Model are filled in as the error
// travels up through the case loop.
type Error struct {
	Kind    Kind
	Op      string
	Patient string
	Model   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " [" + e.Op + "]"
	}
	if e.Patient != "" {
		msg += " patient=" + e.Patient
	}
	if e.Model != "" {
		msg += " model=" + e.Model
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New wraps err with a kind and operation name
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole run. Unclassified errors
// are treated as fatal.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindShape, KindInference, KindWrite, KindInput:
		return false
	}
	return true
}

// WithCase annotates err with patient and model identifiers, wrapping
// unclassified errors as kind.
func WithCase(err error, kind Kind, patient, model string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		out := *fe
		if out.Patient == "" {
			out.Patient = patient
		}
		if out.Model == "" {
			out.Model = model
		}
		return &out
	}
	return &Error{Kind: kind, Patient: patient, Model: model, Err: err}
}
