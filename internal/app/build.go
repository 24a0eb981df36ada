package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/speechkit/internal/config"
	"github.com/ent0n29/speechkit/internal/history"
	"github.com/ent0n29/speechkit/internal/httpapi"
	"github.com/ent0n29/speechkit/internal/observability"
	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
	"github.com/ent0n29/speechkit/internal/voice"
)

type EngineInfo struct {
	Synthesizer string
	Recognizer  string
	Detail      string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Manager  *voice.Manager
	History  history.Store
	Recorder *history.Recorder
	Metrics  *observability.Metrics
	Engine   EngineInfo

	// Cleanup should be called on shutdown to stop the engine and flush history.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	defaultLocale, err := speech.ParseLocale(cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("SPEECH_DEFAULT_LOCALE: %w", err)
	}
	if defaultLocale.IsZero() {
		defaultLocale = speech.SystemLocale()
	}
	listenPolicy := session.PolicyQueue
	if cfg.ListenPolicy == "flush" {
		listenPolicy = session.PolicyFlush
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	setup, err := resolveEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	runCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	store, err := history.NewStore(runCtx, cfg.DatabaseURL, cfg.HistoryRetention)
	if err != nil {
		stopRecorder()
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	recorder := history.NewRecorder(store, logger.With("component", "history"), 0)
	go recorder.Run(runCtx)

	manager := voice.NewManager(setup.engine, voice.Config{
		DefaultLocale:  defaultLocale,
		PreferOffline:  cfg.PreferOffline,
		StrictLanguage: cfg.StrictLanguage,
		SanitizeText:   cfg.SanitizeText,
		Pitch:          cfg.VoicePitch,
		Rate:           cfg.VoiceRate,
		ListenPolicy:   listenPolicy,
		StopTimeout:    cfg.StopTimeout,
		InitTimeout:    cfg.InitTimeout,
		Logger:         logger,
		Metrics:        metrics,
		OnTerminal:     recorder.Observe,
	})

	api := httpapi.New(cfg, manager, store, metrics, httpapi.WithLogger(logger.With("component", "httpapi")))

	cleanup := func() error {
		var errs []error
		if err := manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		stopRecorder()
		recorder.Wait()
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Manager:  manager,
		History:  store,
		Recorder: recorder,
		Metrics:  metrics,
		Engine: EngineInfo{
			Synthesizer: setup.synthesizer,
			Recognizer:  setup.recognizer,
			Detail:      setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
