package commands

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/speechkit/internal/speech"
)

type voiceSettings struct {
	Voice speech.Voice `json:"voice"`
	Pitch float64      `json:"pitch"`
	Rate  float64      `json:"rate"`
}

func newVoicesCommand(opts *rootOptions) *cobra.Command {
	var locale string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the engine's voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			path := "/v1/voices"
			if locale != "" {
				path += "?locale=" + url.QueryEscape(locale)
			}
			var res struct {
				Current speech.Voice   `json:"current"`
				Voices  []speech.Voice `json:"voices"`
			}
			if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fprintf(tw, "\tNAME\tLOCALE\tNETWORK\tQUALITY\n")
				for _, v := range res.Voices {
					mark := ""
					if v.Name == res.Current.Name {
						mark = "*"
					}
					fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", mark, v.Name, v.Locale, v.NetworkRequired, v.Quality)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&locale, "locale", "l", "", "only voices for this locale")
	return cmd
}

func newLanguagesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages the engine supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var res struct {
				Languages []string `json:"languages"`
			}
			if err := c.doJSON(ctx, http.MethodGet, "/v1/languages", nil, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				for _, l := range res.Languages {
					fprintf(w, "%s\n", l)
				}
			})
		},
	}
}

func newVoiceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Show or change the voice configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return voiceRequest(cmd, opts, http.MethodGet, "/v1/voice", nil)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set NAME",
			Short: "Select a voice by name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return voiceRequest(cmd, opts, http.MethodPut, "/v1/voice", map[string]string{"name": args[0]})
			},
		},
		&cobra.Command{
			Use:   "pitch VALUE",
			Short: "Set the default pitch multiplier (0 < p <= 4)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return err
				}
				return voiceRequest(cmd, opts, http.MethodPut, "/v1/voice/pitch", map[string]float64{"pitch": p})
			},
		},
		&cobra.Command{
			Use:   "rate VALUE",
			Short: "Set the default speech rate multiplier (0 < r <= 4)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return err
				}
				return voiceRequest(cmd, opts, http.MethodPut, "/v1/voice/rate", map[string]float64{"rate": r})
			},
		},
	)
	return cmd
}

func voiceRequest(cmd *cobra.Command, opts *rootOptions, method, path string, body any) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	var res voiceSettings
	if err := c.doJSON(ctx, method, path, body, &res); err != nil {
		return err
	}
	return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
		fprintf(w, "voice %s (%s)  pitch %.2f  rate %.2f\n", res.Voice.Name, res.Voice.Locale, res.Pitch, res.Rate)
	})
}
