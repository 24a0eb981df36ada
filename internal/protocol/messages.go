package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeListenStart   MessageType = "listen_start"
	TypeAudioChunk    MessageType = "audio_chunk"
	TypeListenEnd     MessageType = "listen_end"
	TypeClientControl MessageType = "client_control"

	TypeSessionStarted    MessageType = "session_started"
	TypeTranscriptPartial MessageType = "transcript_partial"
	TypeTranscriptFinal   MessageType = "transcript_final"
	TypeSessionEnded      MessageType = "session_ended"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionStop = "stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ListenStart opens a recognition session. Audio follows as audio_chunk
// messages or binary frames of PCM16LE mono.
type ListenStart struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"request_id,omitempty"`
	Locale     string      `json:"locale,omitempty"`
	SampleRate int         `json:"sample_rate"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

type ListenEnd struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type SessionStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Locale    string      `json:"locale,omitempty"`
}

type Transcript struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence,omitempty"`
	TSMs       int64       `json:"ts_ms"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Class     string      `json:"class,omitempty"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeListenStart:
		var msg ListenStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SampleRate < 0 {
			return nil, errors.New("invalid listen_start")
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeListenEnd:
		return ListenEnd{Type: TypeListenEnd}, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionStop {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of a parsed or outbound message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ListenStart:
		return m.Type, true
	case AudioChunk:
		return m.Type, true
	case ListenEnd:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case SessionStarted:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case SessionEnded:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
