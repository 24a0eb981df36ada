package commands

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

type speakBody struct {
	ID     string  `json:"id,omitempty"`
	Text   string  `json:"text"`
	Locale string  `json:"locale,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
}

type speakResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func newSpeakCommand(opts *rootOptions) *cobra.Command {
	var body speakBody
	cmd := &cobra.Command{
		Use:   "speak TEXT...",
		Short: "Speak text and wait until it finished",
		Long: `Speak text through the service's engine. The command returns once the
utterance completed; a newer speak request from any client cancels it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			body.Text = strings.Join(args, " ")
			var res speakResult
			if err := c.doJSON(ctx, http.MethodPost, "/v1/speak", body, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fprintf(w, "%s %s\n", res.SessionID, res.State)
			})
		},
	}
	cmd.Flags().StringVar(&body.ID, "id", "", "request id (default: generated by the service)")
	cmd.Flags().StringVarP(&body.Locale, "locale", "l", "", "locale, e.g. en-US (default: service default)")
	cmd.Flags().Float64Var(&body.Pitch, "pitch", 0, "pitch multiplier (default: service setting)")
	cmd.Flags().Float64Var(&body.Rate, "rate", 0, "speech rate multiplier (default: service setting)")
	return cmd
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel the active speak or listen session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var res struct {
				Stopped   bool   `json:"stopped"`
				SessionID string `json:"session_id,omitempty"`
				Kind      string `json:"kind,omitempty"`
			}
			if err := c.doJSON(ctx, http.MethodPost, "/v1/stop", nil, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				if !res.Stopped {
					fprintf(w, "nothing active\n")
					return
				}
				fprintf(w, "stopped %s %s\n", res.Kind, res.SessionID)
			})
		},
	}
}
