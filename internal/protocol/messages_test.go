package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageListenStart(t *testing.T) {
	raw := []byte(`{"type":"listen_start","request_id":"r1","locale":"de-DE","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	start, ok := msg.(ListenStart)
	if !ok {
		t.Fatalf("message type = %T, want ListenStart", msg)
	}
	if start.RequestID != "r1" || start.Locale != "de-DE" || start.SampleRate != 16000 {
		t.Fatalf("unexpected listen start: %+v", start)
	}
}

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","seq":1,"pcm16_base64":"AQID"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	chunk, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if chunk.Seq != 1 || chunk.PCM16Base64 != "AQID" {
		t.Fatalf("unexpected audio chunk: %+v", chunk)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"audio_chunk","seq":2}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error for empty audio")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"stop","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionStop || control.TSMs != 456 {
		t.Fatalf("unexpected client control: %+v", control)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"pause"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error for unknown action")
	}
}

func TestTypeOf(t *testing.T) {
	got, ok := TypeOf(Transcript{Type: TypeTranscriptFinal})
	if !ok || got != TypeTranscriptFinal {
		t.Fatalf("TypeOf() = %q, %v, want %q, true", got, ok, TypeTranscriptFinal)
	}
	if _, ok := TypeOf("text"); ok {
		t.Fatalf("TypeOf(string) ok = true, want false")
	}
}
