package speech

import (
	"context"
	"io"
)

// Engine is a single speech backend instance. Engines are not assumed to be
// reentrant; the manager serializes every call that starts or changes work.
type Engine interface {
	Name() string
	// Start begins initialization and calls ready exactly once with the outcome.
	Start(ready func(error))
	Voices() []Voice
	Languages() []Locale
	// Stop halts in-flight work. It must be safe to call at any time.
	Stop() error
	Shutdown() error
}

// UtteranceListener receives the lifecycle of one synthesis request.
// Engines may invoke it from any goroutine.
type UtteranceListener interface {
	OnStart(utteranceID string)
	OnDone(utteranceID string)
	OnStop(utteranceID string, interrupted bool)
	OnError(utteranceID string, code *int)
}

// Synthesizer is an Engine that can speak.
type Synthesizer interface {
	Engine
	LanguageAvailability(Locale) Availability
	SetLanguage(Locale) error
	Language() Locale
	Voice() Voice
	SetVoice(Voice) error
	SetPitch(float64) error
	SetRate(float64) error
	// Speak drops any queued utterance and starts synthesizing text.
	Speak(utteranceID, text string, l UtteranceListener) error
}

type RecognitionEventType string

const (
	RecognitionPartial RecognitionEventType = "partial"
	RecognitionFinal   RecognitionEventType = "final"
	RecognitionError   RecognitionEventType = "error"
)

type RecognitionEvent struct {
	Type       RecognitionEventType
	Text       string
	Confidence float64
	Code       *int
	Detail     string
}

// Recognizer is an Engine that can transcribe audio.
type Recognizer interface {
	Engine
	// Recognize streams audio to the engine. The returned channel is closed
	// when recognition ends, including after Stop.
	Recognize(ctx context.Context, utteranceID string, audio io.Reader, sampleRate int, locale Locale) (<-chan RecognitionEvent, error)
}
