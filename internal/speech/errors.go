package speech

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the stage of an operation an EngineError was raised in.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseResolve    Phase = "resolve"
	PhaseSynthesize Phase = "synthesize"
	PhaseRecognize  Phase = "recognize"
)

// ErrorClass is the stable taxonomy engine-specific failures are mapped into.
type ErrorClass string

const (
	ClassInitialization       ErrorClass = "initialization"
	ClassUnsupportedLanguage  ErrorClass = "unsupported_language"
	ClassMissingLanguageData  ErrorClass = "missing_language_data"
	ClassEngineInternal       ErrorClass = "engine_internal"
	ClassUnsupportedOperation ErrorClass = "unsupported_operation"
)

// EngineError is a typed failure surfaced by the manager. Code carries the
// engine-specific numeric code when the engine reported one.
type EngineError struct {
	Class   ErrorClass
	Code    *int
	Message string
	Phase   Phase
	Err     error
}

// Class sentinels for errors.Is.
var (
	ErrInitialization       = &EngineError{Class: ClassInitialization}
	ErrUnsupportedLanguage  = &EngineError{Class: ClassUnsupportedLanguage}
	ErrMissingLanguageData  = &EngineError{Class: ClassMissingLanguageData}
	ErrEngineInternal       = &EngineError{Class: ClassEngineInternal}
	ErrUnsupportedOperation = &EngineError{Class: ClassUnsupportedOperation}
)

var (
	// ErrCancelled is returned when a session ends because the caller (or a
	// superseding request) cancelled it. It is a terminal signal, not a failure.
	ErrCancelled = errors.New("speech: cancelled by caller")
	// ErrStopTimeout accompanies ErrCancelled when the engine did not
	// acknowledge stop in time and the session was force-cancelled.
	ErrStopTimeout = errors.New("speech: stop acknowledgment timed out")
	// ErrStreamConsumed is yielded when a transcript stream is ranged over twice.
	ErrStreamConsumed = errors.New("speech: transcript stream already consumed")
)

func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString("speech")
	if e.Phase != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Phase))
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ReplaceAll(string(e.Class), "_", " "))
	}
	if e.Code != nil {
		fmt.Fprintf(&b, " (code %d)", *e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches on class, so errors.Is(err, ErrUnsupportedLanguage) holds for any
// EngineError of that class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Class == e.Class && (t.Phase == "" || t.Phase == e.Phase)
}

// Code returns a pointer to v for the optional EngineError.Code field.
func Code(v int) *int { return &v }

// InternalError builds an EngineInternal error with an optional engine code.
func InternalError(phase Phase, code *int, message string) *EngineError {
	return &EngineError{Class: ClassEngineInternal, Phase: phase, Code: code, Message: message}
}

// InitError wraps an initialization failure.
func InitError(err error) *EngineError {
	return &EngineError{Class: ClassInitialization, Phase: PhaseInit, Message: "engine initialization failed", Err: err}
}

// AsEngineError returns err as an EngineError, wrapping foreign errors as
// EngineInternal in the given phase.
func AsEngineError(phase Phase, err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Class: ClassEngineInternal, Phase: phase, Err: err}
}
