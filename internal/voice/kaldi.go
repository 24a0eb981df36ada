package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/speechkit/internal/reliability"
	"github.com/ent0n29/speechkit/internal/speech"
)

type KaldiConfig struct {
	// URL of a Kaldi/Vosk websocket server, e.g. ws://localhost:2700.
	URL        string
	SampleRate int
	Locale     speech.Locale
	// ChunkBytes is the audio frame size sent per websocket message.
	ChunkBytes   int
	DialAttempts int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	Logger       *slog.Logger
}

// KaldiRecognizer streams PCM16LE audio to a Kaldi/Vosk server. Each
// recognition uses its own connection: a config message, binary audio frames
// and an eof marker, answered by partial and final result messages.
type KaldiRecognizer struct {
	cfg    KaldiConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	active map[string]*kaldiStream
	closed bool
	// stops counts Stop calls so a recognition still dialing can notice one.
	stops uint64
}

type kaldiStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	stopped   chan struct{}
}

type kaldiResult struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
	Result  []struct {
		Conf float64 `json:"conf"`
		Word string  `json:"word"`
	} `json:"result"`
}

func NewKaldiRecognizer(cfg KaldiConfig) *KaldiRecognizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkBytes <= 0 {
		// 0.25s of 16-bit mono audio.
		cfg.ChunkBytes = cfg.SampleRate / 2
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	if cfg.Locale.IsZero() {
		cfg.Locale = speech.MustParseLocale("en-US")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &KaldiRecognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		active: make(map[string]*kaldiStream),
	}
}

func (r *KaldiRecognizer) Name() string { return "kaldi" }

// Start probes the server once so an unreachable server fails initialization.
func (r *KaldiRecognizer) Start(ready func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := r.dial(ctx)
		if err != nil {
			ready(err)
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		ready(nil)
	}()
}

func (r *KaldiRecognizer) dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(r.cfg.URL) == "" {
		return nil, errors.New("kaldi: server url is required")
	}
	var conn *websocket.Conn
	err := reliability.Retry(ctx, r.cfg.DialAttempts, r.cfg.BackoffBase, r.cfg.BackoffCap, func(attempt int) (bool, error) {
		c, resp, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
		if err != nil {
			r.cfg.Logger.Warn("kaldi dial failed", "url", r.cfg.URL, "attempt", attempt+1, "error", err)
			return resp == nil || reliability.IsRetryableHTTPStatus(resp.StatusCode), err
		}
		conn = c
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial kaldi websocket: %w", err)
	}
	return conn, nil
}

func (r *KaldiRecognizer) Recognize(ctx context.Context, utteranceID string, audio io.Reader, sampleRate int, _ speech.Locale) (<-chan speech.RecognitionEvent, error) {
	if sampleRate <= 0 {
		sampleRate = r.cfg.SampleRate
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("kaldi: recognizer shut down")
	}
	stops := r.stops
	r.mu.Unlock()

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &kaldiStream{conn: conn, stopped: make(chan struct{})}
	events := make(chan speech.RecognitionEvent, 64)

	r.mu.Lock()
	if r.stops != stops || r.closed {
		r.mu.Unlock()
		s.stop()
		close(events)
		return events, nil
	}
	r.active[utteranceID] = s
	r.mu.Unlock()

	if err := s.writeJSON(map[string]any{"config": map[string]any{"sample_rate": sampleRate}}); err != nil {
		r.mu.Lock()
		delete(r.active, utteranceID)
		r.mu.Unlock()
		s.stop()
		return nil, fmt.Errorf("send kaldi config: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.stopped:
		}
	}()
	go r.writeLoop(s, audio)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, utteranceID)
			r.mu.Unlock()
			s.stop()
			close(events)
		}()
		r.readLoop(s, events)
	}()
	return events, nil
}

func (r *KaldiRecognizer) writeLoop(s *kaldiStream, audio io.Reader) {
	buf := make([]byte, r.cfg.ChunkBytes)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := s.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.cfg.Logger.Warn("kaldi audio read failed", "error", err)
			}
			break
		}
		select {
		case <-s.stopped:
			return
		default:
		}
	}
	_ = s.write(websocket.TextMessage, []byte(`{"eof" : 1}`))
}

func (r *KaldiRecognizer) readLoop(s *kaldiStream, events chan<- speech.RecognitionEvent) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopped:
			default:
				r.closeEvent(s, err, events)
			}
			return
		}
		var res kaldiResult
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		switch {
		case res.Partial != nil:
			if strings.TrimSpace(*res.Partial) == "" {
				continue
			}
			if !s.emit(events, speech.RecognitionEvent{Type: speech.RecognitionPartial, Text: *res.Partial}) {
				return
			}
		case res.Text != nil:
			if strings.TrimSpace(*res.Text) == "" {
				continue
			}
			if !s.emit(events, speech.RecognitionEvent{Type: speech.RecognitionFinal, Text: *res.Text, Confidence: res.confidence()}) {
				return
			}
		}
	}
}

// closeEvent turns an unexpected connection end into an error event. The
// close code travels as the event code so callers can tell a restarting
// server from a rejected stream.
func (r *KaldiRecognizer) closeEvent(s *kaldiStream, err error, events chan<- speech.RecognitionEvent) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		s.emit(events, speech.RecognitionEvent{Type: speech.RecognitionError, Detail: err.Error()})
		return
	}
	if ce.Code == websocket.CloseNormalClosure {
		return
	}
	if reliability.IsRetryableCloseCode(ce.Code) {
		r.cfg.Logger.Warn("kaldi server dropped stream", "code", ce.Code, "text", ce.Text)
	} else {
		r.cfg.Logger.Error("kaldi server rejected stream", "code", ce.Code, "text", ce.Text)
	}
	s.emit(events, speech.RecognitionEvent{Type: speech.RecognitionError, Code: speech.Code(ce.Code), Detail: err.Error()})
}

func (res kaldiResult) confidence() float64 {
	if len(res.Result) == 0 {
		return 0
	}
	sum := 0.0
	for _, w := range res.Result {
		sum += w.Conf
	}
	return sum / float64(len(res.Result))
}

func (r *KaldiRecognizer) Voices() []speech.Voice { return nil }

func (r *KaldiRecognizer) Languages() []speech.Locale { return []speech.Locale{r.cfg.Locale} }

// Stop closes every open recognition; their event channels close shortly after.
func (r *KaldiRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	for _, s := range r.active {
		s.stop()
	}
	return nil
}

func (r *KaldiRecognizer) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Stop()
}

func (s *kaldiStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *kaldiStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// emit delivers ev unless the stream is stopped first. A consumer that went
// away must not wedge the read loop.
func (s *kaldiStream) emit(events chan<- speech.RecognitionEvent, ev speech.RecognitionEvent) bool {
	select {
	case events <- ev:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *kaldiStream) stop() {
	s.closeOnce.Do(func() {
		close(s.stopped)
		_ = s.conn.Close()
	})
}
