package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/speechkit/internal/audio"
	"github.com/ent0n29/speechkit/internal/protocol"
)

type listenOptions struct {
	locale   string
	stream   bool
	chunkMS  int
	realtime float64
}

type transcriptEvent struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      *struct {
		Code  string `json:"code"`
		Class string `json:"class"`
		Msg   string `json:"error"`
	} `json:"error,omitempty"`
}

func newListenCommand(opts *rootOptions) *cobra.Command {
	lo := &listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen FILE.wav",
		Short: "Transcribe a WAV file",
		Long: `Transcribe a WAV file ("-" reads stdin). By default the file is uploaded
in one request; --stream sends it over the websocket in paced chunks the way
a microphone would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lo.chunkMS < 10 || lo.chunkMS > 2000 {
				return fmt.Errorf("chunk-ms must be in [10,2000]")
			}
			if lo.realtime <= 0 {
				return fmt.Errorf("realtime must be > 0")
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if lo.stream {
				return streamListen(ctx, c, lo, data, out, opts.outputJSON)
			}
			return uploadListen(ctx, c, lo, data, out, opts.outputJSON)
		},
	}
	cmd.Flags().StringVarP(&lo.locale, "locale", "l", "", "recognition locale")
	cmd.Flags().BoolVar(&lo.stream, "stream", false, "stream over the websocket instead of uploading")
	cmd.Flags().IntVar(&lo.chunkMS, "chunk-ms", 100, "audio chunk size in milliseconds when streaming")
	cmd.Flags().Float64Var(&lo.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func uploadListen(ctx context.Context, c *client, lo *listenOptions, wav []byte, out io.Writer, asJSON bool) error {
	q := url.Values{}
	if lo.locale != "" {
		q.Set("locale", lo.locale)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(wav))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "audio/wav")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}

	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		if asJSON {
			fprintf(out, "%s\n", sc.Bytes())
			continue
		}
		var ev transcriptEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("decode transcript: %w", err)
		}
		if ev.Error != nil {
			return fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Msg)
		}
		printTranscript(out, ev.Text, ev.Final)
	}
	return sc.Err()
}

func printTranscript(out io.Writer, text string, final bool) {
	if final {
		fprintf(out, "%s\n", text)
		return
	}
	fprintf(out, "... %s\n", text)
}

func streamListen(ctx context.Context, c *client, lo *listenOptions, wav []byte, out io.Writer, asJSON bool) error {
	pcm, format, err := audio.DecodeWAVPCM16LE(bytes.NewReader(wav))
	if err != nil {
		return err
	}
	wsURL, err := c.wsURL("/v1/listen/ws")
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.ListenStart{
		Type:       protocol.TypeListenStart,
		Locale:     lo.locale,
		SampleRate: format.SampleRate,
	}); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() { readErr <- readListenEvents(conn, out, asJSON) }()

	for _, chunk := range pcmChunks(pcm, format.SampleRate, lo.chunkMS) {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStop})
			return <-readErr
		case err := <-readErr:
			return err
		case <-time.After(chunkDuration(len(chunk), format.SampleRate, lo.realtime)):
		}
	}
	if err := conn.WriteJSON(protocol.ListenEnd{Type: protocol.TypeListenEnd}); err != nil {
		return err
	}
	select {
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readListenEvents(conn *websocket.Conn, out io.Writer, asJSON bool) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		if asJSON {
			fprintf(out, "%s\n", data)
		}
		var msg struct {
			protocol.Transcript
			State  string `json:"state"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeTranscriptPartial, protocol.TypeTranscriptFinal:
			if !asJSON {
				printTranscript(out, msg.Text, msg.Type == protocol.TypeTranscriptFinal)
			}
		case protocol.TypeErrorEvent:
			return fmt.Errorf("%s: %s", msg.Code, msg.Detail)
		case protocol.TypeSessionEnded:
			if msg.State != "completed" {
				return fmt.Errorf("listen session %s", msg.State)
			}
			return nil
		}
	}
}

// pcmChunks splits PCM16LE mono audio into chunkMS slices on sample boundaries.
func pcmChunks(pcm []byte, sampleRate, chunkMS int) [][]byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	size := sampleRate * 2 * chunkMS / 1000
	size -= size % 2
	if size < 2 {
		size = 2
	}
	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		end -= (end - off) % 2
		if end <= off {
			break
		}
		out = append(out, pcm[off:end])
	}
	return out
}

func chunkDuration(n, sampleRate int, realtime float64) time.Duration {
	d := time.Duration(float64(time.Duration(n)*time.Second/time.Duration(sampleRate*2)) / realtime)
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	return d
}
