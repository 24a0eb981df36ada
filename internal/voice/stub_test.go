package voice

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/speechkit/internal/speech"
)

type stubUtterance struct {
	id       string
	text     string
	pitch    float64
	rate     float64
	voice    string
	language string
}

// stubSynth is a scriptable synthesizer. Texts starting with "hold" play until
// stopped; everything else finishes right away.
type stubSynth struct {
	mu              sync.Mutex
	voices          []speech.Voice
	voice           speech.Voice
	language        speech.Locale
	pitch           float64
	rate            float64
	availability    map[string]speech.Availability
	failSetLanguage map[string]bool
	failSetVoice    bool

	initErr    error
	noReady    bool
	startCalls int

	ackDelay   time.Duration
	ignoreStop bool
	errorCode  *int

	listener  speech.UtteranceListener
	currentID string
	spoken    []stubUtterance
	stops     int
	started   chan string
}

func newStubSynth() *stubSynth {
	en := speech.MustParseLocale("en-US")
	voices := []speech.Voice{
		{Name: "en-us-network", Locale: en, NetworkRequired: true, Quality: speech.QualityVeryHigh},
		{Name: "en-us-local", Locale: en, Quality: speech.QualityHigh},
		{Name: "de-de-local", Locale: speech.MustParseLocale("de-DE"), Quality: speech.QualityNormal},
	}
	return &stubSynth{
		voices:          voices,
		voice:           voices[0],
		language:        en,
		availability:    make(map[string]speech.Availability),
		failSetLanguage: make(map[string]bool),
		started:         make(chan string, 16),
	}
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Start(ready func(error)) {
	s.mu.Lock()
	s.startCalls++
	noReady, err := s.noReady, s.initErr
	s.mu.Unlock()
	if noReady {
		return
	}
	go ready(err)
}

func (s *stubSynth) Voices() []speech.Voice { return s.voices }

func (s *stubSynth) Languages() []speech.Locale {
	return []speech.Locale{speech.MustParseLocale("en-US"), speech.MustParseLocale("de-DE")}
}

func (s *stubSynth) LanguageAvailability(l speech.Locale) speech.Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.availability[l.String()]; ok {
		return a
	}
	return speech.LangCountryAvailable
}

func (s *stubSynth) SetLanguage(l speech.Locale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetLanguage[l.String()] {
		return errors.New("stub: set language refused")
	}
	s.language = l
	return nil
}

func (s *stubSynth) Language() speech.Locale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *stubSynth) Voice() speech.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *stubSynth) SetVoice(v speech.Voice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetVoice {
		return errors.New("stub: set voice refused")
	}
	s.voice = v
	return nil
}

func (s *stubSynth) SetPitch(p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitch = p
	return nil
}

func (s *stubSynth) SetRate(r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = r
	return nil
}

func (s *stubSynth) Speak(id, text string, l speech.UtteranceListener) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, stubUtterance{
		id:       id,
		text:     text,
		pitch:    s.pitch,
		rate:     s.rate,
		voice:    s.voice.Name,
		language: s.language.String(),
	})
	s.listener, s.currentID = l, id
	code := s.errorCode
	s.mu.Unlock()

	s.started <- text
	go func() {
		l.OnStart(id)
		switch {
		case code != nil:
			l.OnError(id, code)
		case strings.HasPrefix(text, "hold"):
		default:
			l.OnDone(id)
		}
	}()
	return nil
}

func (s *stubSynth) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.ignoreStop || s.listener == nil {
		return nil
	}
	l, id := s.listener, s.currentID
	s.listener = nil
	ack := func() { l.OnStop(id, true) }
	if s.ackDelay > 0 {
		time.AfterFunc(s.ackDelay, ack)
	} else {
		go ack()
	}
	return nil
}

func (s *stubSynth) Shutdown() error { return nil }

func (s *stubSynth) utterances() []stubUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stubUtterance, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func (s *stubSynth) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
