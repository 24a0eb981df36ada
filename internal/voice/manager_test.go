package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
)

type terminalLog struct {
	mu       sync.Mutex
	sessions []session.Session
}

func (l *terminalLog) add(s session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
}

func (l *terminalLog) byText(text string) (session.Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sessions {
		if s.Request.Text == text {
			return s, true
		}
	}
	return session.Session{}, false
}

func newTestManager(t *testing.T, engine speech.Engine, cfg Config) (*Manager, *terminalLog) {
	t.Helper()
	log := &terminalLog{}
	if cfg.DefaultLocale.IsZero() {
		cfg.DefaultLocale = speech.MustParseLocale("en-US")
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	cfg.OnTerminal = log.add
	m := NewManager(engine, cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, log
}

func speakAsync(m *Manager, ctx context.Context, text string) <-chan error {
	out := make(chan error, 1)
	go func() { out <- m.Speak(ctx, speech.Request{Text: text}) }()
	return out
}

func awaitSpoken(t *testing.T, stub *stubSynth, want string) {
	t.Helper()
	select {
	case got := <-stub.started:
		if got != want {
			t.Fatalf("engine started %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("engine never started %q", want)
	}
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("operation did not finish")
		return nil
	}
}

func TestSpeakOnlyLatestOfBurstBecomesActive(t *testing.T) {
	stub := newStubSynth()
	stub.ackDelay = 300 * time.Millisecond
	m, log := newTestManager(t, stub, Config{})
	ctx := context.Background()

	first := speakAsync(m, ctx, "hold first")
	awaitSpoken(t, stub, "hold first")

	second := speakAsync(m, ctx, "hold second")
	waitUntil(t, func() bool { return m.queue.PendingCount() == 1 })
	third := speakAsync(m, ctx, "hold third")
	if err := awaitErr(t, second); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("second Speak() error = %v, want ErrCancelled", err)
	}
	last := speakAsync(m, ctx, "last")
	if err := awaitErr(t, third); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("third Speak() error = %v, want ErrCancelled", err)
	}

	if err := awaitErr(t, first); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("first Speak() error = %v, want ErrCancelled", err)
	}
	awaitSpoken(t, stub, "last")
	if err := awaitErr(t, last); err != nil {
		t.Fatalf("last Speak() error = %v", err)
	}

	for _, text := range []string{"hold second", "hold third"} {
		s, ok := log.byText(text)
		if !ok {
			t.Fatalf("no terminal record for %q", text)
		}
		if s.State != session.StateCancelled || !s.ActivatedAt.IsZero() {
			t.Fatalf("%q ended %s (activated %v), want cancelled without activation", text, s.State, s.ActivatedAt)
		}
		var ee *speech.EngineError
		if errors.As(s.Err, &ee) {
			t.Fatalf("%q carries engine error %v", text, ee)
		}
	}
	if got := len(stub.utterances()); got != 2 {
		t.Fatalf("engine received %d utterances, want 2", got)
	}
}

func TestStopWithoutActiveSessionIsNoop(t *testing.T) {
	stub := newStubSynth()
	m, _ := newTestManager(t, stub, Config{})
	if _, err := m.AvailableVoices(context.Background()); err != nil {
		t.Fatalf("AvailableVoices() error = %v", err)
	}

	m.Stop()
	m.Stop()
	if got := stub.stopCount(); got != 0 {
		t.Fatalf("engine Stop called %d times, want 0", got)
	}
	if _, ok := m.Active(); ok {
		t.Fatalf("Active() reported a session")
	}
	if err := m.Speak(context.Background(), speech.Request{Text: "still works"}); err != nil {
		t.Fatalf("Speak() after Stop error = %v", err)
	}
}

func TestStopCancelsActiveSpeak(t *testing.T) {
	stub := newStubSynth()
	m, log := newTestManager(t, stub, Config{})

	res := speakAsync(m, context.Background(), "hold me")
	awaitSpoken(t, stub, "hold me")
	m.Stop()
	if err := awaitErr(t, res); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("Speak() error = %v, want ErrCancelled", err)
	}
	if s, _ := log.byText("hold me"); s.State != session.StateCancelled {
		t.Fatalf("state = %s, want cancelled", s.State)
	}
}

func TestInitializationFailureIsTerminal(t *testing.T) {
	stub := newStubSynth()
	stub.initErr = errors.New("no tts service")
	m, _ := newTestManager(t, stub, Config{})
	ctx := context.Background()

	checks := map[string]func() error{
		"Speak": func() error { return m.Speak(ctx, speech.Request{Text: "hi"}) },
		"AvailableVoices": func() error {
			_, err := m.AvailableVoices(ctx)
			return err
		},
		"AvailableLanguages": func() error {
			_, err := m.AvailableLanguages(ctx)
			return err
		},
		"Voice": func() error {
			_, err := m.Voice(ctx)
			return err
		},
		"SetVoice": func() error { return m.SetVoice(ctx, speech.Voice{Name: "en-us-local"}) },
		"Listen": func() error {
			for _, err := range m.Listen(ctx, speech.Request{Audio: bytes.NewReader([]byte{1})}) {
				return err
			}
			return nil
		},
	}
	for name, call := range checks {
		for i := 0; i < 2; i++ {
			began := time.Now()
			err := call()
			if !errors.Is(err, speech.ErrInitialization) {
				t.Fatalf("%s() error = %v, want ErrInitialization", name, err)
			}
			if elapsed := time.Since(began); elapsed > time.Second {
				t.Fatalf("%s() blocked for %v", name, elapsed)
			}
		}
	}
	if ready, err := m.Ready(); ready || err == nil {
		t.Fatalf("Ready() = %v, %v; want false with error", ready, err)
	}
	if stub.startCalls != 1 {
		t.Fatalf("engine Start called %d times, want 1", stub.startCalls)
	}
}

func TestInitializationTimeout(t *testing.T) {
	stub := newStubSynth()
	stub.noReady = true
	m, _ := newTestManager(t, stub, Config{InitTimeout: 30 * time.Millisecond})

	err := m.Speak(context.Background(), speech.Request{Text: "hi"})
	if !errors.Is(err, speech.ErrInitialization) {
		t.Fatalf("Speak() error = %v, want ErrInitialization", err)
	}
}

func TestWaitingForReadinessHonoursContext(t *testing.T) {
	stub := newStubSynth()
	stub.noReady = true
	m, _ := newTestManager(t, stub, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.AvailableVoices(ctx); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("AvailableVoices() error = %v, want ErrCancelled", err)
	}
}

func TestCancelSpeakWithoutStopAcknowledgment(t *testing.T) {
	stub := newStubSynth()
	stub.ignoreStop = true
	m, log := newTestManager(t, stub, Config{StopTimeout: 40 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	res := speakAsync(m, ctx, "hold forever")
	awaitSpoken(t, stub, "hold forever")
	cancel()

	err := awaitErr(t, res)
	if !errors.Is(err, speech.ErrCancelled) || !errors.Is(err, speech.ErrStopTimeout) {
		t.Fatalf("Speak() error = %v, want ErrCancelled with ErrStopTimeout", err)
	}
	var ee *speech.EngineError
	if errors.As(err, &ee) {
		t.Fatalf("Speak() returned engine error %v for a cancellation", ee)
	}
	if stub.stopCount() != 1 {
		t.Fatalf("engine Stop called %d times, want 1", stub.stopCount())
	}
	if s, _ := log.byText("hold forever"); !s.Forced() {
		t.Fatalf("session not recorded as forced: %+v", s)
	}
}

func TestSpeakUsesDefaultLocaleOfflineVoiceAndPitch(t *testing.T) {
	stub := newStubSynth()
	m, log := newTestManager(t, stub, Config{PreferOffline: true})

	err := m.Speak(context.Background(), speech.Request{Text: "hello", Pitch: 1.2})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	got := stub.utterances()
	if len(got) != 1 {
		t.Fatalf("engine received %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.text != "hello" || u.pitch != 1.2 || u.rate != DefaultRate {
		t.Fatalf("utterance = %+v, want hello at pitch 1.2", u)
	}
	if u.voice != "en-us-local" || u.language != "en-US" {
		t.Fatalf("utterance voice = %s/%s, want en-us-local/en-US", u.voice, u.language)
	}

	s, ok := log.byText("hello")
	if !ok {
		t.Fatalf("no terminal record")
	}
	if s.State != session.StateCompleted || s.ActivatedAt.IsZero() || s.ActivatedAt.Before(s.CreatedAt) {
		t.Fatalf("session = %+v, want pending -> active -> completed", s)
	}
}

func TestSpeakUsesConfiguredPitch(t *testing.T) {
	stub := newStubSynth()
	m, _ := newTestManager(t, stub, Config{Pitch: 0.8})
	if err := m.SetPitch(1.5); err != nil {
		t.Fatalf("SetPitch() error = %v", err)
	}
	if err := m.SetPitch(0); err == nil {
		t.Fatalf("SetPitch(0) should fail")
	}
	if err := m.Speak(context.Background(), speech.Request{Text: "pitched"}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := stub.utterances()[0].pitch; got != 1.5 {
		t.Fatalf("pitch = %v, want 1.5", got)
	}
}

func TestSpeakRejectsOutOfRangeProsody(t *testing.T) {
	stub := newStubSynth()
	m, _ := newTestManager(t, stub, Config{})
	for _, req := range []speech.Request{
		{Text: "too high", Pitch: 10},
		{Text: "too fast", Rate: 50},
		{Text: "negative", Pitch: -1},
	} {
		if err := m.Speak(context.Background(), req); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Speak(pitch=%v rate=%v) error = %v, want ErrOutOfRange", req.Pitch, req.Rate, err)
		}
	}
	if n := len(stub.utterances()); n != 0 {
		t.Fatalf("engine got %d utterances, want 0", n)
	}
	if err := m.Speak(context.Background(), speech.Request{Text: "edge", Pitch: 4, Rate: 4}); err != nil {
		t.Fatalf("Speak(pitch=4 rate=4) error = %v", err)
	}
}

func TestSpeakUnavailableLanguageFailsWithoutFlushing(t *testing.T) {
	stub := newStubSynth()
	stub.availability["sw-KE"] = speech.LangNotSupported
	m, _ := newTestManager(t, stub, Config{})

	active := speakAsync(m, context.Background(), "hold active")
	awaitSpoken(t, stub, "hold active")

	err := m.Speak(context.Background(), speech.Request{Text: "habari", Locale: speech.MustParseLocale("sw-KE")})
	var ee *speech.EngineError
	if !errors.As(err, &ee) || ee.Class != speech.ClassUnsupportedLanguage || ee.Phase != speech.PhaseResolve {
		t.Fatalf("Speak() error = %v, want unsupported language in resolve", err)
	}
	if ee.Code == nil || *ee.Code != int(speech.LangNotSupported) {
		t.Fatalf("Code = %v, want %d", ee.Code, speech.LangNotSupported)
	}
	if s, ok := m.Active(); !ok || s.Request.Text != "hold active" {
		t.Fatalf("active session was disturbed: %+v, %v", s, ok)
	}
	m.Stop()
	if err := awaitErr(t, active); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("active Speak() error = %v, want ErrCancelled", err)
	}
}

func TestSpeakSetLanguageFailureFallsBack(t *testing.T) {
	stub := newStubSynth()
	stub.failSetLanguage["de-DE"] = true
	m, _ := newTestManager(t, stub, Config{PreferOffline: true})

	err := m.Speak(context.Background(), speech.Request{Text: "hallo", Locale: speech.MustParseLocale("de-DE")})
	if err != nil {
		t.Fatalf("Speak() error = %v, want fallback without error", err)
	}
	if u := stub.utterances()[0]; u.language != "en-US" {
		t.Fatalf("language = %s, want fallback en-US", u.language)
	}

	strict, _ := newTestManager(t, stub, Config{StrictLanguage: true})
	err = strict.Speak(context.Background(), speech.Request{Text: "hallo", Locale: speech.MustParseLocale("de-DE")})
	if !errors.Is(err, speech.ErrUnsupportedLanguage) {
		t.Fatalf("strict Speak() error = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestSpeakEngineErrorCarriesCode(t *testing.T) {
	stub := newStubSynth()
	stub.errorCode = speech.Code(-8)
	m, log := newTestManager(t, stub, Config{})

	err := m.Speak(context.Background(), speech.Request{Text: "broken"})
	var ee *speech.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Speak() error = %v, want *EngineError", err)
	}
	if ee.Class != speech.ClassEngineInternal || ee.Phase != speech.PhaseSynthesize || ee.Code == nil || *ee.Code != -8 {
		t.Fatalf("EngineError = %+v, want engine internal synthesize code -8", ee)
	}
	if s, _ := log.byText("broken"); s.State != session.StateFailed {
		t.Fatalf("state = %s, want failed", s.State)
	}
}

func TestSetVoiceFailureIsOnlyLogged(t *testing.T) {
	stub := newStubSynth()
	m, _ := newTestManager(t, stub, Config{})
	ctx := context.Background()

	if err := m.SetVoice(ctx, stub.voices[2]); err != nil {
		t.Fatalf("SetVoice() error = %v", err)
	}
	v, err := m.Voice(ctx)
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if v.Name != "de-de-local" {
		t.Fatalf("Voice() = %q, want de-de-local", v.Name)
	}

	stub.mu.Lock()
	stub.failSetVoice = true
	stub.mu.Unlock()
	if err := m.SetVoice(ctx, stub.voices[0]); err != nil {
		t.Fatalf("SetVoice() with engine refusal error = %v, want nil", err)
	}
	if v, _ := m.Voice(ctx); v.Name != "de-de-local" {
		t.Fatalf("Voice() = %q after refused change, want de-de-local", v.Name)
	}
}

func TestSanitizeText(t *testing.T) {
	stub := newStubSynth()
	m, _ := newTestManager(t, stub, Config{SanitizeText: true})
	if err := m.Speak(context.Background(), speech.Request{Text: "**Hello** [world](https://x.y)"}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := stub.utterances()[0].text; got != "Hello world" {
		t.Fatalf("spoken text = %q, want %q", got, "Hello world")
	}
}

func TestListenStreamsTranscripts(t *testing.T) {
	engine := NewMockEngine(MockConfig{ChunkBytes: 100})
	m, _ := newTestManager(t, engine, Config{})

	stream := m.Listen(context.Background(), speech.Request{Audio: bytes.NewReader(make([]byte, 250)), SampleRate: 16000})
	var partials int
	var final speech.Transcript
	for tr, err := range stream {
		if err != nil {
			t.Fatalf("Listen() error = %v", err)
		}
		if tr.Final {
			final = tr
		} else {
			partials++
		}
	}
	if partials != 3 {
		t.Fatalf("partials = %d, want 3", partials)
	}
	if final.Text != "simulated voice input" {
		t.Fatalf("final = %+v, want simulated voice input", final)
	}

	for _, err := range stream {
		if !errors.Is(err, speech.ErrStreamConsumed) {
			t.Fatalf("second range error = %v, want ErrStreamConsumed", err)
		}
	}
}

func TestListenBreakCancelsSession(t *testing.T) {
	engine := NewMockEngine(MockConfig{ChunkBytes: 10})
	m, log := newTestManager(t, engine, Config{})

	req := speech.Request{ID: "early-exit", Audio: bytes.NewReader(make([]byte, 10_000))}
	for _, err := range m.Listen(context.Background(), req) {
		if err != nil {
			t.Fatalf("Listen() error = %v", err)
		}
		break
	}
	waitUntil(t, func() bool {
		_, active := m.Active()
		return !active
	})
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.sessions) != 1 || log.sessions[0].State != session.StateCancelled {
		t.Fatalf("sessions = %+v, want one cancelled listen", log.sessions)
	}
}

func TestSpeakFlushesActiveListen(t *testing.T) {
	engine := NewMockEngine(MockConfig{ChunkBytes: 1, WordDuration: time.Millisecond})
	m, _ := newTestManager(t, engine, Config{})

	pr, pw := io.Pipe()
	defer pw.Close()
	errs := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		var last error
		first := true
		for _, err := range m.Listen(context.Background(), speech.Request{Audio: pr}) {
			if first {
				close(started)
				first = false
			}
			last = err
		}
		errs <- last
	}()
	if _, err := pw.Write([]byte{1}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	<-started

	if err := m.Speak(context.Background(), speech.Request{Text: "interrupt"}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if err := awaitErr(t, errs); !errors.Is(err, speech.ErrCancelled) {
		t.Fatalf("Listen() final error = %v, want ErrCancelled", err)
	}
}

func TestListenWithoutRecognizer(t *testing.T) {
	m, _ := newTestManager(t, newStubSynth(), Config{})
	for _, err := range m.Listen(context.Background(), speech.Request{Audio: bytes.NewReader([]byte{1})}) {
		if !errors.Is(err, speech.ErrUnsupportedOperation) {
			t.Fatalf("Listen() error = %v, want ErrUnsupportedOperation", err)
		}
	}
}

func TestCloseDisablesManager(t *testing.T) {
	m, _ := newTestManager(t, newStubSynth(), Config{})
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Speak(context.Background(), speech.Request{Text: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Speak() after Close error = %v, want ErrClosed", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
