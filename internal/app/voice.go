package app

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/ent0n29/speechkit/internal/config"
	"github.com/ent0n29/speechkit/internal/speech"
	"github.com/ent0n29/speechkit/internal/voice"
)

type engineSetup struct {
	engine      speech.Engine
	synthesizer string
	recognizer  string
	detail      string
}

// synthOnly hides the recognizer side of an engine that implements both.
type synthOnly struct {
	speech.Synthesizer
}

func resolveEngine(cfg config.Config, logger *slog.Logger) (engineSetup, error) {
	mock := func() (*voice.MockEngine, error) {
		mcfg := voice.MockConfig{}
		if cfg.MockVoicesFile != "" {
			catalog, err := voice.LoadMockCatalog(cfg.MockVoicesFile)
			if err != nil {
				return nil, err
			}
			mcfg.Catalog = catalog
		}
		return voice.NewMockEngine(mcfg), nil
	}

	var (
		tts      speech.Synthesizer
		mockTTS  *voice.MockEngine
		ttsName  string
		ttsNotes string
	)
	switch cfg.Engine {
	case "espeak":
		tts, ttsName = voice.NewEspeakEngine(voice.EspeakConfig{Binary: cfg.EspeakBinary, Logger: logger}), "espeak"
	case "mock":
		m, err := mock()
		if err != nil {
			return engineSetup{}, err
		}
		tts, mockTTS, ttsName = m, m, "mock"
	case "auto":
		if _, err := exec.LookPath(cfg.EspeakBinary); err == nil {
			tts, ttsName = voice.NewEspeakEngine(voice.EspeakConfig{Binary: cfg.EspeakBinary, Logger: logger}), "espeak"
			break
		}
		m, err := mock()
		if err != nil {
			return engineSetup{}, err
		}
		tts, mockTTS, ttsName = m, m, "mock"
		ttsNotes = fmt.Sprintf(" (%s not found)", cfg.EspeakBinary)
	default:
		return engineSetup{}, fmt.Errorf("invalid SPEECH_ENGINE: %q (expected auto|mock|espeak)", cfg.Engine)
	}

	kaldi := func() *voice.KaldiRecognizer {
		return voice.NewKaldiRecognizer(voice.KaldiConfig{
			URL:        cfg.KaldiWSURL,
			SampleRate: cfg.KaldiSampleRate,
			Logger:     logger,
		})
	}
	// A mock synthesizer already recognizes; other synthesizers get a
	// separate mock recognizer.
	mockSTT := func() speech.Recognizer {
		if mockTTS != nil {
			return nil
		}
		return voice.NewMockEngine(voice.MockConfig{})
	}

	setup := engineSetup{synthesizer: ttsName}
	switch cfg.Recognizer {
	case "none":
		setup.engine = synthOnly{tts}
		setup.recognizer = "none"
	case "mock":
		setup.engine = withRecognizer(tts, mockSTT())
		setup.recognizer = "mock"
	case "kaldi":
		setup.engine = voice.NewPair(tts, kaldi())
		setup.recognizer = "kaldi"
	case "auto":
		if cfg.KaldiWSURL == "" {
			setup.engine = withRecognizer(tts, mockSTT())
			setup.recognizer = "mock"
			break
		}
		fallback := speech.Recognizer(voice.NewMockEngine(voice.MockConfig{}))
		setup.engine = voice.NewPair(tts, voice.NewFailoverRecognizer(kaldi(), fallback, logger))
		setup.recognizer = "kaldi (automatic mock fallback)"
	default:
		return engineSetup{}, fmt.Errorf("invalid SPEECH_RECOGNIZER: %q (expected auto|mock|kaldi|none)", cfg.Recognizer)
	}
	setup.detail = fmt.Sprintf("%s%s + %s", setup.synthesizer, ttsNotes, setup.recognizer)
	return setup, nil
}

func withRecognizer(tts speech.Synthesizer, stt speech.Recognizer) speech.Engine {
	if stt == nil {
		return tts
	}
	return voice.NewPair(tts, stt)
}
