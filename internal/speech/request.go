package speech

import "io"

type Kind string

const (
	KindSpeak  Kind = "speak"
	KindListen Kind = "listen"
)

// Request is a single speak or listen operation. The queue copies a request on
// enqueue; callers must not mutate Audio afterwards.
type Request struct {
	ID   string
	Kind Kind
	// Text is the utterance for KindSpeak.
	Text string
	// Audio is the PCM16LE mono input for KindListen.
	Audio      io.Reader
	SampleRate int
	// Locale is optional; the zero value selects the configured default.
	Locale Locale
	// Pitch and Rate are multipliers; zero selects the configured value.
	Pitch float64
	Rate  float64
}

// Transcript is a partial or final recognition result. Partial transcripts may
// be revised by later ones.
type Transcript struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}
