package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/speechkit/internal/observability"
	"github.com/ent0n29/speechkit/internal/protocol"
	"github.com/ent0n29/speechkit/internal/speech"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 2 << 20
)

var errClientGone = errors.New("listen client disconnected")

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn      *websocket.Conn
	metrics   *observability.Metrics
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	if t, ok := protocol.TypeOf(msg); ok {
		c.metrics.ObserveWSMessage("outbound", string(t))
	}
	return nil
}

// close sends a normal close frame and tears the connection down, which also
// unblocks the read loop.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// handleListenWS runs one recognition per connection. The client opens with
// listen_start, streams audio as binary frames or audio_chunk messages, and
// ends with listen_end. client_control stop cancels the session.
func (s *Server) handleListenWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws := &wsConn{conn: conn, metrics: s.metrics}
	defer ws.close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	start, err := s.readListenStart(ws)
	if err != nil {
		return
	}
	locale, err := speech.ParseLocale(start.Locale)
	if err != nil {
		_ = ws.send(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "invalid_locale",
			Detail: err.Error(),
		})
		return
	}
	id := strings.TrimSpace(start.RequestID)
	if id == "" {
		id = uuid.NewString()
	}
	sampleRate := start.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	pr, pw := io.Pipe()
	listenCtx, cancelListen := context.WithCancel(r.Context())
	defer cancelListen()

	g, gctx := errgroup.WithContext(listenCtx)
	chunks := make(chan []byte, 64)
	g.Go(func() error {
		defer ws.close()
		defer cancelListen()
		defer pr.Close()
		s.pumpTranscripts(gctx, ws, speech.Request{
			ID:         id,
			Kind:       speech.KindListen,
			Audio:      pr,
			SampleRate: sampleRate,
			Locale:     locale,
		})
		return nil
	})
	g.Go(func() error {
		feedPipe(gctx, chunks, pw)
		return nil
	})
	g.Go(func() error {
		s.readAudio(gctx, ws, id, chunks, cancelListen)
		return nil
	})
	_ = g.Wait()
}

func (s *Server) readListenStart(ws *wsConn) (protocol.ListenStart, error) {
	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return protocol.ListenStart{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err == nil {
			if start, ok := parsed.(protocol.ListenStart); ok {
				s.metrics.ObserveWSMessage("inbound", string(start.Type))
				return start, nil
			}
			err = errors.New("expected listen_start")
		}
		_ = ws.send(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "invalid_client_message",
			Detail: err.Error(),
		})
	}
}

func (s *Server) pumpTranscripts(ctx context.Context, ws *wsConn, req speech.Request) {
	_ = ws.send(protocol.SessionStarted{
		Type:      protocol.TypeSessionStarted,
		SessionID: req.ID,
		Locale:    req.Locale.String(),
	})

	state := "completed"
	for t, err := range s.manager.Listen(ctx, req) {
		if err != nil {
			state = "failed"
			if errors.Is(err, speech.ErrCancelled) {
				state = "cancelled"
				break
			}
			_, resp := speechErrorResponse(err)
			_ = ws.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: req.ID,
				Code:      resp.Code,
				Class:     resp.Class,
				Retryable: errors.Is(err, speech.ErrEngineInternal),
				Detail:    err.Error(),
			})
			break
		}
		msgType := protocol.TypeTranscriptPartial
		if t.Final {
			msgType = protocol.TypeTranscriptFinal
		}
		if err := ws.send(protocol.Transcript{
			Type:       msgType,
			SessionID:  req.ID,
			Text:       t.Text,
			Confidence: t.Confidence,
			TSMs:       time.Now().UnixMilli(),
		}); err != nil {
			state = "cancelled"
			break
		}
	}
	if ctx.Err() != nil && state == "completed" {
		state = "cancelled"
	}

	_ = ws.send(protocol.SessionEnded{
		Type:      protocol.TypeSessionEnded,
		SessionID: req.ID,
		State:     state,
	})
}

// feedPipe copies client audio into the recognizer's reader. The pipe ends
// with EOF once chunks is closed, or with an error when ctx is done first.
func feedPipe(ctx context.Context, chunks <-chan []byte, pw *io.PipeWriter) {
	for {
		select {
		case pcm, ok := <-chunks:
			if !ok {
				_ = pw.Close()
				return
			}
			if _, err := pw.Write(pcm); err != nil {
				return
			}
		case <-ctx.Done():
			_ = pw.CloseWithError(errClientGone)
			return
		}
	}
}

// readAudio forwards client audio until listen_end, a stop request or the
// connection going away.
func (s *Server) readAudio(ctx context.Context, ws *wsConn, sessionID string, chunks chan<- []byte, cancel context.CancelFunc) {
	ended := false
	endAudio := func() {
		if !ended {
			ended = true
			close(chunks)
		}
	}
	push := func(pcm []byte) {
		if ended {
			return
		}
		select {
		case chunks <- pcm:
		case <-ctx.Done():
		}
	}

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			// The pump closes the connection once the session ended; a read
			// error before listen_end means the client left.
			if !ended {
				cancel()
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			s.metrics.ObserveWSMessage("inbound", "binary_audio")
			push(data)
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = ws.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		switch msg := parsed.(type) {
		case protocol.AudioChunk:
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				_ = ws.send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "invalid_audio",
					Detail:    err.Error(),
				})
				continue
			}
			push(pcm)
		case protocol.ListenEnd:
			endAudio()
		case protocol.ClientControl:
			cancel()
		case protocol.ListenStart:
			_ = ws.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "already_listening",
				Detail:    "one listen session per connection",
			})
		}
	}
}
