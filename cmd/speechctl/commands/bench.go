package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	requests    int
	concurrency int
	text        string
	locale      string
	interval    time.Duration
}

type benchSample struct {
	outcome string
	latency time.Duration
}

type benchSummary struct {
	Requests  int            `json:"requests"`
	Outcomes  map[string]int `json:"outcomes"`
	P50MS     float64        `json:"p50_ms"`
	P95MS     float64        `json:"p95_ms"`
	MaxMS     float64        `json:"max_ms"`
	ElapsedMS float64        `json:"elapsed_ms"`
}

func newBenchCommand(opts *rootOptions) *cobra.Command {
	bo := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay speak requests and report latency and outcomes",
		Long: `Send speak requests with bounded concurrency. Overlapping requests cancel
each other, so with -p > 1 most of them are expected to end cancelled; the
summary shows how the service resolved each one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bo.requests <= 0 {
				return fmt.Errorf("n must be > 0")
			}
			if bo.concurrency <= 0 {
				return fmt.Errorf("p must be > 0")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			summary, err := runBench(ctx, c, bo)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
				printBenchSummary(w, summary)
			})
		},
	}
	cmd.Flags().IntVarP(&bo.requests, "requests", "n", 10, "number of speak requests")
	cmd.Flags().IntVarP(&bo.concurrency, "parallel", "p", 1, "maximum requests in flight")
	cmd.Flags().StringVar(&bo.text, "text", "The quick brown fox jumps over the lazy dog.", "text to speak")
	cmd.Flags().StringVarP(&bo.locale, "locale", "l", "", "locale for every request")
	cmd.Flags().DurationVar(&bo.interval, "interval", 0, "delay between request starts")
	return cmd
}

func runBench(ctx context.Context, c *client, bo *benchOptions) (benchSummary, error) {
	var (
		mu      sync.Mutex
		samples []benchSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bo.concurrency)

	started := time.Now()
	for i := 0; i < bo.requests; i++ {
		if i > 0 && bo.interval > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(bo.interval):
			}
		}
		if gctx.Err() != nil {
			break
		}
		id := fmt.Sprintf("bench-%d-%d", started.UnixMilli(), i)
		g.Go(func() error {
			t0 := time.Now()
			err := c.doJSON(gctx, http.MethodPost, "/v1/speak", speakBody{ID: id, Text: bo.text, Locale: bo.locale}, nil)
			outcome, fatal := classifyBenchError(err)
			mu.Lock()
			samples = append(samples, benchSample{outcome: outcome, latency: time.Since(t0)})
			mu.Unlock()
			return fatal
		})
	}
	if err := g.Wait(); err != nil {
		return benchSummary{}, err
	}
	return summarize(samples, time.Since(started)), nil
}

// classifyBenchError maps a speak answer to an outcome. Transport failures
// abort the run; service-side outcomes are counted.
func classifyBenchError(err error) (string, error) {
	if err == nil {
		return "completed", nil
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Code, nil
	}
	return "transport_error", err
}

func summarize(samples []benchSample, elapsed time.Duration) benchSummary {
	s := benchSummary{
		Requests:  len(samples),
		Outcomes:  make(map[string]int),
		ElapsedMS: float64(elapsed.Milliseconds()),
	}
	if len(samples) == 0 {
		return s
	}
	ms := make([]float64, 0, len(samples))
	for _, sample := range samples {
		s.Outcomes[sample.outcome]++
		ms = append(ms, float64(sample.latency.Microseconds())/1000)
	}
	slices.Sort(ms)
	s.P50MS = quantile(ms, 0.50)
	s.P95MS = quantile(ms, 0.95)
	s.MaxMS = ms[len(ms)-1]
	return s
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func printBenchSummary(w io.Writer, s benchSummary) {
	fprintf(w, "requests %d in %.0fms\n", s.Requests, s.ElapsedMS)
	keys := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fprintf(w, "  %-22s %d\n", k, s.Outcomes[k])
	}
	fprintf(w, "latency p50 %.1fms  p95 %.1fms  max %.1fms\n", s.P50MS, s.P95MS, s.MaxMS)
}
