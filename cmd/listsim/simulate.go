package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelpascari/listsim/pkg/inspector"
	"github.com/pavelpascari/listsim/pkg/listing"
	"github.com/pavelpascari/listsim/pkg/query"
	"github.com/pavelpascari/listsim/pkg/records"
)

const sessionKey = "users"

type simulateOptions struct {
	PageSize int
	Timeout  time.Duration
	Wide     bool
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted listing session and print the request inspector",
		Long: `Runs a fixed sequence of listing requests against the configured
dataset: a first page, a page that is preempted by a newer request under the
same key, a repeated query served from cache, a filtered and sorted query,
invalid criteria and a request abandoned by a timeout. The inspector records
of the session are printed as a table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.Config

			store, err := cfg.Store(root.Fs)
			if err != nil {
				return err
			}

			logger := cfg.NewLogger(cmd.ErrOrStderr())
			ins := inspector.New(
				inspector.WithCapacity(cfg.InspectorCapacity),
				inspector.WithLogger(logger),
			)
			reporter := inspector.NewLoggingReporter(ins, logger,
				inspector.WithLogLevel(slog.LevelDebug),
				inspector.WithLogFields(map[string]interface{}{"component": "simulate"}),
			)

			orchestrator := listing.NewOrchestrator(store, append(cfg.OrchestratorOptions(),
				listing.WithReporter(reporter),
				listing.WithLogger(logger),
			)...)

			s := &session{
				client:   listing.NewClient(orchestrator),
				store:    store,
				out:      cmd.OutOrStdout(),
				pageSize: opts.PageSize,
				timeout:  opts.Timeout,
			}
			if err := s.run(cmd.Context()); err != nil {
				return err
			}

			renderRecords(cmd.OutOrStdout(), ins.Records(), opts.Wide)
			renderStats(cmd.OutOrStdout(), ins.Stats())
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.PageSize, "page-size", 10, "page size used by the session")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 100*time.Millisecond, "deadline of the abandoned request")
	cmd.Flags().BoolVar(&opts.Wide, "wide", false, "show full request ids and timestamps")

	return cmd
}

type session struct {
	mu       sync.Mutex
	client   *listing.Client
	store    *records.Store
	out      io.Writer
	pageSize int
	timeout  time.Duration
}

func (s *session) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	first := s.page(1)

	s.step("first page", first)(s.client.Fetch(ctx, sessionKey, first))

	// The second page is still loading when the third is requested under the
	// same key, so it is preempted.
	preempted := make(chan struct{})
	go func() {
		defer close(preempted)
		s.step("preempted page", s.page(2))(s.client.Fetch(ctx, sessionKey, s.page(2)))
	}()
	s.waitActive(ctx, preempted)
	s.step("newer page", s.page(3))(s.client.Fetch(ctx, sessionKey, s.page(3)))
	<-preempted

	s.step("repeated first page", first)(s.client.Fetch(ctx, sessionKey, first))

	filtered := s.page(1)
	filtered.Sort = &query.Sort{Field: records.FieldName, Order: query.OrderDesc}
	if all := s.store.All(); len(all) > 0 {
		filtered.Filters = &query.Filters{Country: []string{all[0].CountryCode}}
	}
	s.step("filtered and sorted", filtered)(s.client.Fetch(ctx, sessionKey, filtered))

	invalid := query.Criteria{Pagination: query.Pagination{CurrentPage: 0, PageSize: s.pageSize}}
	s.step("invalid criteria", invalid)(s.client.Fetch(ctx, sessionKey, invalid))

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.step("abandoned by timeout", first)(s.client.Fetch(timeoutCtx, "users-timeout", first))

	return nil
}

func (s *session) page(n int) query.Criteria {
	return query.Criteria{Pagination: query.Pagination{CurrentPage: n, PageSize: s.pageSize}}
}

// waitActive blocks until a request is in flight under the session key or
// done is closed.
func (s *session) waitActive(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for !s.client.Active(sessionKey) {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// step returns a function printing the outcome of one session request.
func (s *session) step(name string, c query.Criteria) func(*listing.PageResponse, error) {
	return func(resp *listing.PageResponse, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		label := fmt.Sprintf("%-22s page=%d size=%d", name, c.Pagination.CurrentPage, c.Pagination.PageSize)

		switch {
		case err != nil:
			apiErr := listing.MapError(err)
			fmt.Fprintf(s.out, "%s -> %s: %s\n", label, apiErr.Code, apiErr.Message)
		case !resp.Success:
			fmt.Fprintf(s.out, "%s -> %s: %s\n", label, resp.Error.Code, resp.Error.Message)
		default:
			fmt.Fprintf(s.out, "%s -> %d of %d records, page %d/%d\n", label,
				len(resp.Data), resp.Pagination.TotalElements,
				resp.Pagination.CurrentPage, resp.Pagination.TotalPages)
		}
	}
}
