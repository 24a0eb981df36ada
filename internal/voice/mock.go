package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/speechkit/internal/speech"
)

// MockCatalog is the YAML voice catalog a MockEngine serves.
type MockCatalog struct {
	Voices []speech.Voice `yaml:"voices"`
	// MissingData lists languages that report missing language data.
	MissingData []string `yaml:"missing_data"`
}

// DefaultMockCatalog mirrors a typical platform engine: an offline and a
// network variant per locale.
func DefaultMockCatalog() MockCatalog {
	return MockCatalog{Voices: []speech.Voice{
		{Name: "en-us-x-iol-network", Locale: speech.MustParseLocale("en-US"), NetworkRequired: true, Quality: speech.QualityVeryHigh},
		{Name: "en-us-x-iol-local", Locale: speech.MustParseLocale("en-US"), Quality: speech.QualityHigh},
		{Name: "en-gb-x-rjs-local", Locale: speech.MustParseLocale("en-GB"), Quality: speech.QualityHigh},
		{Name: "de-de-x-deb-network", Locale: speech.MustParseLocale("de-DE"), NetworkRequired: true, Quality: speech.QualityVeryHigh},
		{Name: "de-de-x-deb-local", Locale: speech.MustParseLocale("de-DE"), Quality: speech.QualityNormal},
		{Name: "fr-fr-x-frc-local", Locale: speech.MustParseLocale("fr-FR"), Quality: speech.QualityNormal},
		{Name: "it-it-x-itb-local", Locale: speech.MustParseLocale("it-IT"), Quality: speech.QualityNormal},
	}}
}

// LoadMockCatalog reads a catalog from a YAML file.
func LoadMockCatalog(path string) (MockCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return MockCatalog{}, fmt.Errorf("read mock voices: %w", err)
	}
	var c MockCatalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return MockCatalog{}, fmt.Errorf("parse mock voices %s: %w", path, err)
	}
	if len(c.Voices) == 0 {
		return MockCatalog{}, fmt.Errorf("mock voices %s: no voices defined", path)
	}
	return c, nil
}

type MockConfig struct {
	Catalog MockCatalog
	// WordDuration is the simulated playback time per word.
	WordDuration time.Duration
	// InitDelay postpones the ready signal.
	InitDelay time.Duration
	// InitErr makes initialization fail.
	InitErr error
	// ChunkBytes is how much audio produces one partial transcript.
	ChunkBytes int
}

// MockUtterance is one synthesis request as the mock engine received it.
type MockUtterance struct {
	ID     string
	Text   string
	Locale speech.Locale
	Voice  string
	Pitch  float64
	Rate   float64
}

// MockEngine is a local engine used when no real backend is configured. It
// "speaks" by waiting per word and transcribes any non-empty audio to a fixed
// phrase.
type MockEngine struct {
	cfg MockConfig

	mu         sync.Mutex
	language   speech.Locale
	voice      speech.Voice
	pitch      float64
	rate       float64
	current    *mockPlayback
	recognizes map[string]context.CancelFunc
	spoken     []MockUtterance
	shutdown   bool
}

type mockChunk struct {
	n   int
	err error
}

type mockPlayback struct {
	id       string
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMockEngine(cfg MockConfig) *MockEngine {
	if len(cfg.Catalog.Voices) == 0 {
		cfg.Catalog = DefaultMockCatalog()
	}
	if cfg.WordDuration <= 0 {
		cfg.WordDuration = 40 * time.Millisecond
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 16000
	}
	first := cfg.Catalog.Voices[0]
	return &MockEngine{
		cfg:        cfg,
		language:   first.Locale,
		voice:      first,
		pitch:      DefaultPitch,
		rate:       DefaultRate,
		recognizes: make(map[string]context.CancelFunc),
	}
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Start(ready func(error)) {
	go func() {
		if e.cfg.InitDelay > 0 {
			time.Sleep(e.cfg.InitDelay)
		}
		ready(e.cfg.InitErr)
	}()
}

func (e *MockEngine) Voices() []speech.Voice {
	out := make([]speech.Voice, len(e.cfg.Catalog.Voices))
	copy(out, e.cfg.Catalog.Voices)
	return out
}

func (e *MockEngine) Languages() []speech.Locale {
	seen := make(map[string]bool)
	var out []speech.Locale
	for _, v := range e.cfg.Catalog.Voices {
		if key := v.Locale.String(); !seen[key] {
			seen[key] = true
			out = append(out, v.Locale)
		}
	}
	return out
}

func (e *MockEngine) LanguageAvailability(l speech.Locale) speech.Availability {
	for _, lang := range e.cfg.Catalog.MissingData {
		if m, err := speech.ParseLocale(lang); err == nil && m.ISO3Language() == l.ISO3Language() {
			return speech.LangMissingData
		}
	}
	best := speech.LangNotSupported
	for _, v := range e.cfg.Catalog.Voices {
		if v.Locale.SameLanguageAndCountry(l) {
			return speech.LangCountryAvailable
		}
		if v.Locale.ISO3Language() == l.ISO3Language() {
			best = speech.LangAvailable
		}
	}
	return best
}

func (e *MockEngine) SetLanguage(l speech.Locale) error {
	if a := e.LanguageAvailability(l); !a.Available() {
		return a.Err(l)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = l
	if !e.voice.Locale.SameLanguageAndCountry(l) {
		for _, v := range e.cfg.Catalog.Voices {
			if v.Locale.SameLanguageAndCountry(l) {
				e.voice = v
				break
			}
		}
	}
	return nil
}

func (e *MockEngine) Language() speech.Locale {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

func (e *MockEngine) Voice() speech.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voice
}

func (e *MockEngine) SetVoice(v speech.Voice) error {
	for _, known := range e.cfg.Catalog.Voices {
		if known.Name == v.Name {
			e.mu.Lock()
			e.voice = known
			e.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("mock: unknown voice %q", v.Name)
}

func (e *MockEngine) SetPitch(p float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pitch = p
	return nil
}

func (e *MockEngine) SetRate(r float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = r
	return nil
}

func (e *MockEngine) Speak(utteranceID, text string, l speech.UtteranceListener) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return errors.New("mock: engine shut down")
	}
	if e.current != nil {
		e.current.halt()
	}
	p := &mockPlayback{id: utteranceID, stop: make(chan struct{})}
	e.current = p
	e.spoken = append(e.spoken, MockUtterance{
		ID:     utteranceID,
		Text:   text,
		Locale: e.language,
		Voice:  e.voice.Name,
		Pitch:  e.pitch,
		Rate:   e.rate,
	})
	d := time.Duration(float64(len(strings.Fields(text))) * float64(e.cfg.WordDuration) / e.rate)
	e.mu.Unlock()

	go func() {
		l.OnStart(utteranceID)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			l.OnDone(utteranceID)
		case <-p.stop:
			l.OnStop(utteranceID, true)
		}
		e.mu.Lock()
		if e.current == p {
			e.current = nil
		}
		e.mu.Unlock()
	}()
	return nil
}

// Spoken returns every utterance the engine received, oldest first.
func (e *MockEngine) Spoken() []MockUtterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MockUtterance, len(e.spoken))
	copy(out, e.spoken)
	return out
}

func (e *MockEngine) Recognize(ctx context.Context, utteranceID string, audio io.Reader, _ int, _ speech.Locale) (<-chan speech.RecognitionEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		cancel()
		return nil, errors.New("mock: engine shut down")
	}
	e.recognizes[utteranceID] = cancel
	e.mu.Unlock()

	chunks := make(chan mockChunk)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, e.cfg.ChunkBytes)
			n, err := io.ReadFull(audio, buf)
			select {
			case chunks <- mockChunk{n: n, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	events := make(chan speech.RecognitionEvent, 64)
	go func() {
		defer close(events)
		defer func() {
			e.mu.Lock()
			delete(e.recognizes, utteranceID)
			e.mu.Unlock()
			cancel()
		}()

		total := 0
		for {
			var c mockChunk
			var ok bool
			select {
			case c, ok = <-chunks:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
			total += c.n
			if c.n > 0 {
				select {
				case events <- speech.RecognitionEvent{Type: speech.RecognitionPartial, Text: "...", Confidence: 0.5}:
				case <-ctx.Done():
					return
				}
			}
			if c.err == nil {
				continue
			}
			if !errors.Is(c.err, io.EOF) && !errors.Is(c.err, io.ErrUnexpectedEOF) {
				events <- speech.RecognitionEvent{Type: speech.RecognitionError, Detail: c.err.Error()}
				return
			}
			break
		}
		if total == 0 {
			return
		}
		select {
		case events <- speech.RecognitionEvent{Type: speech.RecognitionFinal, Text: "simulated voice input", Confidence: 0.7}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

func (e *MockEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.halt()
	}
	for _, cancel := range e.recognizes {
		cancel()
	}
	return nil
}

func (e *MockEngine) Shutdown() error {
	if err := e.Stop(); err != nil {
		return err
	}
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	return nil
}

func (p *mockPlayback) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}
