package voice

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/ent0n29/speechkit/internal/speech"
)

const (
	espeakDefaultPitch = 50
	espeakDefaultWPM   = 175
)

type EspeakConfig struct {
	Binary string
	Logger *slog.Logger
}

// EspeakEngine speaks through the espeak-ng command line. Each utterance is a
// child process; Stop kills it.
type EspeakEngine struct {
	cfg  EspeakConfig
	path string

	mu       sync.Mutex
	voices   []speech.Voice
	language speech.Locale
	voice    speech.Voice
	pitch    float64
	rate     float64
	current  *espeakProcess
}

type espeakProcess struct {
	id      string
	cmd     *exec.Cmd
	stopped bool
}

func NewEspeakEngine(cfg EspeakConfig) *EspeakEngine {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "espeak-ng"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &EspeakEngine{cfg: cfg, pitch: DefaultPitch, rate: DefaultRate}
}

func (e *EspeakEngine) Name() string { return "espeak" }

// Start resolves the binary and loads its voice list.
func (e *EspeakEngine) Start(ready func(error)) {
	go func() {
		path, err := exec.LookPath(e.cfg.Binary)
		if err != nil {
			ready(fmt.Errorf("espeak binary %q: %w", e.cfg.Binary, err))
			return
		}
		out, err := exec.Command(path, "--voices").Output()
		if err != nil {
			ready(fmt.Errorf("list espeak voices: %w", err))
			return
		}
		voices := parseEspeakVoices(bytes.NewReader(out))
		if len(voices) == 0 {
			ready(errors.New("espeak reported no voices"))
			return
		}
		e.mu.Lock()
		e.path = path
		e.voices = voices
		e.voice = voices[0]
		e.language = voices[0].Locale
		for _, v := range voices {
			if v.Locale.String() == "en-US" {
				e.voice, e.language = v, v.Locale
				break
			}
		}
		e.mu.Unlock()
		ready(nil)
	}()
}

// parseEspeakVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
func parseEspeakVoices(r io.Reader) []speech.Voice {
	var voices []speech.Voice
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		l, err := speech.ParseLocale(fields[1])
		if err != nil || l.IsZero() {
			continue
		}
		voices = append(voices, speech.Voice{
			Name:    fields[1],
			Locale:  l,
			Quality: speech.QualityNormal,
		})
	}
	return voices
}

func (e *EspeakEngine) Voices() []speech.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]speech.Voice, len(e.voices))
	copy(out, e.voices)
	return out
}

func (e *EspeakEngine) Languages() []speech.Locale {
	seen := make(map[string]bool)
	var out []speech.Locale
	for _, v := range e.Voices() {
		if key := v.Locale.String(); !seen[key] {
			seen[key] = true
			out = append(out, v.Locale)
		}
	}
	return out
}

func (e *EspeakEngine) LanguageAvailability(l speech.Locale) speech.Availability {
	best := speech.LangNotSupported
	for _, v := range e.Voices() {
		if v.Locale.SameLanguageAndCountry(l) {
			return speech.LangCountryAvailable
		}
		if v.Locale.ISO3Language() == l.ISO3Language() {
			best = speech.LangAvailable
		}
	}
	return best
}

func (e *EspeakEngine) SetLanguage(l speech.Locale) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var fallback *speech.Voice
	for i, v := range e.voices {
		if v.Locale.SameLanguageAndCountry(l) {
			e.language, e.voice = l, v
			return nil
		}
		if fallback == nil && v.Locale.ISO3Language() == l.ISO3Language() {
			fallback = &e.voices[i]
		}
	}
	if fallback == nil {
		return fmt.Errorf("espeak: no voice for %s", l)
	}
	e.language, e.voice = l, *fallback
	return nil
}

func (e *EspeakEngine) Language() speech.Locale {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

func (e *EspeakEngine) Voice() speech.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voice
}

func (e *EspeakEngine) SetVoice(v speech.Voice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, known := range e.voices {
		if known.Name == v.Name {
			e.voice = known
			return nil
		}
	}
	return fmt.Errorf("espeak: unknown voice %q", v.Name)
}

func (e *EspeakEngine) SetPitch(p float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pitch = p
	return nil
}

func (e *EspeakEngine) SetRate(r float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = r
	return nil
}

// espeakArgs maps pitch and rate multipliers onto espeak's 0-99 pitch and
// words-per-minute scales.
func espeakArgs(voice string, pitch, rate float64, text string) []string {
	p := int(math.Round(espeakDefaultPitch * pitch))
	p = min(max(p, 0), 99)
	wpm := int(math.Round(espeakDefaultWPM * rate))
	wpm = min(max(wpm, 80), 450)
	return []string{
		"-v", voice,
		"-p", strconv.Itoa(p),
		"-s", strconv.Itoa(wpm),
		"--", text,
	}
}

func (e *EspeakEngine) Speak(utteranceID, text string, l speech.UtteranceListener) error {
	e.mu.Lock()
	if e.path == "" {
		e.mu.Unlock()
		return errors.New("espeak: engine not started")
	}
	if e.current != nil {
		e.current.stopped = true
		_ = e.current.cmd.Process.Kill()
	}
	cmd := exec.Command(e.path, espeakArgs(e.voice.Name, e.pitch, e.rate, text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("start espeak: %w", err)
	}
	proc := &espeakProcess{id: utteranceID, cmd: cmd}
	e.current = proc
	e.mu.Unlock()

	l.OnStart(utteranceID)
	go func() {
		err := cmd.Wait()
		e.mu.Lock()
		stopped := proc.stopped
		if e.current == proc {
			e.current = nil
		}
		e.mu.Unlock()

		switch {
		case stopped:
			l.OnStop(utteranceID, true)
		case err != nil:
			var exitErr *exec.ExitError
			var code *int
			if errors.As(err, &exitErr) {
				code = speech.Code(exitErr.ExitCode())
			}
			e.cfg.Logger.Error("espeak failed", "utterance_id", utteranceID, "error", err, "stderr", strings.TrimSpace(stderr.String()))
			l.OnError(utteranceID, code)
		default:
			l.OnDone(utteranceID)
		}
	}()
	return nil
}

// Stop kills the running utterance, if any, without waiting for it to exit.
func (e *EspeakEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	e.current.stopped = true
	if err := e.current.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill espeak: %w", err)
	}
	return nil
}

func (e *EspeakEngine) Shutdown() error { return e.Stop() }
