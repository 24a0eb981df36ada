package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/speechkit/internal/history"
)

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recently finished sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			q := url.Values{}
			if kind != "" {
				q.Set("kind", kind)
			}
			q.Set("limit", fmt.Sprint(limit))
			var res struct {
				Sessions []history.Record `json:"sessions"`
			}
			if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions?"+q.Encode(), nil, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fprintf(tw, "ID\tKIND\tSTATE\tENDED\tERROR\n")
				for _, r := range res.Sessions {
					state := r.State
					if r.Forced {
						state += " (forced)"
					}
					fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, state, r.EndedAt.Local().Format(time.TimeOnly), r.Error)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "speak or listen (default: both)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}
