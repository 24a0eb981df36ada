package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	addr       string
	timeout    time.Duration
	outputJSON bool
	verbose    bool
}

// NewRootCommand builds the speechctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "speechctl",
		Short: "Command line client for the speechkit service",
		Long: `speechctl drives a running speechkit service over HTTP.

Examples:
  # Speak with the default voice
  speechctl speak "hello there"

  # Transcribe a WAV file, streaming audio over the websocket
  speechctl listen --stream recording.wav

  # Fire 20 overlapping speak requests and report outcomes
  speechctl bench -n 20 -p 4
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	defaultAddr := os.Getenv("SPEECHCTL_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "speechkit base URL (env SPEECHCTL_ADDR)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall request timeout")
	cmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "output as JSON (for piping)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newSpeakCommand(opts),
		newStopCommand(opts),
		newVoicesCommand(opts),
		newLanguagesCommand(opts),
		newVoiceCommand(opts),
		newListenCommand(opts),
		newSessionsCommand(opts),
		newBenchCommand(opts),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *rootOptions) client() (*client, error) {
	return newClient(o.addr, &http.Client{})
}

func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.outputJSON || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
