package voice

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ent0n29/speechkit/internal/speech"
)

// Pair joins a synthesizer and a recognizer into one engine so a single
// manager serializes speaking and listening.
type Pair struct {
	TTS speech.Synthesizer
	STT speech.Recognizer
}

func NewPair(tts speech.Synthesizer, stt speech.Recognizer) *Pair {
	return &Pair{TTS: tts, STT: stt}
}

func (p *Pair) Name() string { return p.TTS.Name() + "+" + p.STT.Name() }

// Start initializes both engines concurrently; ready gets the joined error.
func (p *Pair) Start(ready func(error)) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range []speech.Engine{p.TTS, p.STT} {
		wg.Add(1)
		e.Start(func(err error) {
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			wg.Done()
		})
	}
	go func() {
		wg.Wait()
		ready(errors.Join(errs...))
	}()
}

func (p *Pair) Voices() []speech.Voice { return p.TTS.Voices() }

func (p *Pair) Languages() []speech.Locale {
	seen := make(map[string]bool)
	var out []speech.Locale
	for _, langs := range [][]speech.Locale{p.TTS.Languages(), p.STT.Languages()} {
		for _, l := range langs {
			if key := l.String(); !seen[key] {
				seen[key] = true
				out = append(out, l)
			}
		}
	}
	return out
}

func (p *Pair) Stop() error {
	return errors.Join(p.TTS.Stop(), p.STT.Stop())
}

func (p *Pair) Shutdown() error {
	return errors.Join(p.TTS.Shutdown(), p.STT.Shutdown())
}

func (p *Pair) LanguageAvailability(l speech.Locale) speech.Availability {
	return p.TTS.LanguageAvailability(l)
}
func (p *Pair) SetLanguage(l speech.Locale) error { return p.TTS.SetLanguage(l) }
func (p *Pair) Language() speech.Locale           { return p.TTS.Language() }
func (p *Pair) Voice() speech.Voice               { return p.TTS.Voice() }
func (p *Pair) SetVoice(v speech.Voice) error     { return p.TTS.SetVoice(v) }
func (p *Pair) SetPitch(v float64) error          { return p.TTS.SetPitch(v) }
func (p *Pair) SetRate(v float64) error           { return p.TTS.SetRate(v) }

func (p *Pair) Speak(utteranceID, text string, l speech.UtteranceListener) error {
	return p.TTS.Speak(utteranceID, text, l)
}

func (p *Pair) Recognize(ctx context.Context, utteranceID string, audio io.Reader, sampleRate int, locale speech.Locale) (<-chan speech.RecognitionEvent, error) {
	return p.STT.Recognize(ctx, utteranceID, audio, sampleRate, locale)
}
