package voice

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/speechkit/internal/speech"
)

func TestParseEspeakVoices(t *testing.T) {
	out := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-us           --/M      English_(America)  gmw/en-US
 2  en-gb           --/M      English_(Great_Britain) gmw/en
 5  !!             --/M      broken             x/y
`
	voices := parseEspeakVoices(strings.NewReader(out))
	if len(voices) != 3 {
		t.Fatalf("len(voices) = %d, want 3: %+v", len(voices), voices)
	}
	if voices[1].Name != "en-us" || voices[1].Locale.String() != "en-US" {
		t.Fatalf("voices[1] = %+v, want en-us/en-US", voices[1])
	}
	if voices[1].NetworkRequired {
		t.Fatalf("espeak voices must not require network")
	}
}

func TestEspeakArgs(t *testing.T) {
	got := strings.Join(espeakArgs("en-us", 1.2, 2.0, "hi there"), " ")
	want := "-v en-us -p 60 -s 350 -- hi there"
	if got != want {
		t.Fatalf("espeakArgs() = %q, want %q", got, want)
	}
	got = strings.Join(espeakArgs("de", 10, 0.1, "x"), " ")
	if got != "-v de -p 99 -s 80 -- x" {
		t.Fatalf("espeakArgs() clamps = %q", got)
	}
}

func TestLoadMockCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	data := `voices:
  - name: pt-br-local
    locale: pt_BR
    network_required: false
    quality: 400
  - name: pt-br-network
    locale: pt-BR
    network_required: true
    quality: 500
missing_data: [ja]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := LoadMockCatalog(path)
	if err != nil {
		t.Fatalf("LoadMockCatalog() error = %v", err)
	}
	if len(c.Voices) != 2 || c.Voices[0].Locale.String() != "pt-BR" || !c.Voices[1].NetworkRequired {
		t.Fatalf("catalog = %+v", c)
	}

	e := NewMockEngine(MockConfig{Catalog: c})
	if a := e.LanguageAvailability(speech.MustParseLocale("ja-JP")); a != speech.LangMissingData {
		t.Fatalf("LanguageAvailability(ja-JP) = %d, want missing data", a)
	}
	if a := e.LanguageAvailability(speech.MustParseLocale("pt-PT")); a != speech.LangAvailable {
		t.Fatalf("LanguageAvailability(pt-PT) = %d, want language-only availability", a)
	}
	if a := e.LanguageAvailability(speech.MustParseLocale("ko-KR")); a != speech.LangNotSupported {
		t.Fatalf("LanguageAvailability(ko-KR) = %d, want not supported", a)
	}

	if _, err := LoadMockCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadMockCatalog() on missing file should fail")
	}
}

type failingRecognizer struct {
	name     string
	startErr error
	recErr   error
	calls    int
}

func (f *failingRecognizer) Name() string               { return f.name }
func (f *failingRecognizer) Start(ready func(error))    { ready(f.startErr) }
func (f *failingRecognizer) Voices() []speech.Voice     { return nil }
func (f *failingRecognizer) Languages() []speech.Locale { return nil }
func (f *failingRecognizer) Stop() error                { return nil }
func (f *failingRecognizer) Shutdown() error            { return nil }
func (f *failingRecognizer) Recognize(context.Context, string, io.Reader, int, speech.Locale) (<-chan speech.RecognitionEvent, error) {
	f.calls++
	if f.recErr != nil {
		return nil, f.recErr
	}
	ch := make(chan speech.RecognitionEvent)
	close(ch)
	return ch, nil
}

func TestFailoverRecognizerSticksToFallback(t *testing.T) {
	primary := &failingRecognizer{name: "kaldi", recErr: errors.New("dial refused")}
	fallback := &failingRecognizer{name: "mock"}
	r := NewFailoverRecognizer(primary, fallback, nil)

	for i := 0; i < 2; i++ {
		if _, err := r.Recognize(context.Background(), "u", nil, 0, speech.Locale{}); err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
	}
	if !r.FallbackActive() {
		t.Fatalf("FallbackActive() = false after primary failure")
	}
	if primary.calls != 1 || fallback.calls != 2 {
		t.Fatalf("calls primary=%d fallback=%d, want 1/2", primary.calls, fallback.calls)
	}

	fallback.recErr = errors.New("fallback down")
	primary.recErr = nil
	if _, err := r.Recognize(context.Background(), "u", nil, 0, speech.Locale{}); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if r.FallbackActive() {
		t.Fatalf("FallbackActive() = true after primary recovered")
	}

	primary.recErr = errors.New("still down")
	if _, err := r.Recognize(context.Background(), "u", nil, 0, speech.Locale{}); err == nil {
		t.Fatalf("Recognize() should fail when both engines fail")
	}
}

func TestFailoverRecognizerStart(t *testing.T) {
	r := NewFailoverRecognizer(&failingRecognizer{name: "kaldi", startErr: errors.New("offline")}, &failingRecognizer{name: "mock"}, nil)
	done := make(chan error, 1)
	r.Start(func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v, want fallback to succeed", err)
	}
	if !r.FallbackActive() {
		t.Fatalf("FallbackActive() = false after primary failed to start")
	}
}

func TestPairJoinsEngines(t *testing.T) {
	tts := newStubSynth()
	stt := NewMockEngine(MockConfig{})
	p := NewPair(tts, stt)

	if p.Name() != "stub+mock" {
		t.Fatalf("Name() = %q", p.Name())
	}
	done := make(chan error, 1)
	p.Start(func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start() never reported")
	}

	langs := map[string]bool{}
	for _, l := range p.Languages() {
		if langs[l.String()] {
			t.Fatalf("duplicate language %s", l)
		}
		langs[l.String()] = true
	}
	if !langs["en-US"] || !langs["fr-FR"] {
		t.Fatalf("Languages() = %v, want union of both engines", langs)
	}
	if len(p.Voices()) != len(tts.voices) {
		t.Fatalf("Voices() should come from the synthesizer")
	}
}
