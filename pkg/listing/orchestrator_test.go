package listing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pavelpascari/listsim/pkg/cancel"
	"github.com/pavelpascari/listsim/pkg/inspector"
	"github.com/pavelpascari/listsim/pkg/query"
	"github.com/pavelpascari/listsim/pkg/records"
)

func page(current, size int) query.Criteria {
	return query.Criteria{Pagination: query.Pagination{CurrentPage: current, PageSize: size}}
}

func userIDs(users []records.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func TestOrchestrator_FetchPage_Success(t *testing.T) {
	rep := &mockReporter{}
	rep.Test(t)
	rep.On("BeginRequest", "users").Return("req-1").Once()
	rep.On("ReportTerminal", "req-1", inspector.Success(false, 0)).Once()

	o, clk := newTestOrchestrator(t, numberedStore(t, 10), WithReporter(rep))

	resp, err := o.FetchPage(context.Background(), "users", page(2, 3))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, MessageSuccess, resp.Message)
	assert.Nil(t, resp.Error)
	assert.True(t, clk.Now().Equal(resp.Timestamp))
	assert.Equal(t, []string{"u04", "u05", "u06"}, userIDs(resp.Data))
	assert.Equal(t, &query.PageMeta{
		CurrentPage:   2,
		PageSize:      3,
		TotalElements: 10,
		TotalPages:    4,
		HasPrevious:   true,
		HasNext:       true,
	}, resp.Pagination)

	rep.AssertExpectations(t)
}

func TestOrchestrator_FetchPage_Pagination(t *testing.T) {
	o, _ := newTestOrchestrator(t, numberedStore(t, 10))

	tests := []struct {
		name        string
		criteria    query.Criteria
		wantIDs     []string
		hasPrevious bool
		hasNext     bool
	}{
		{"first_page", page(1, 3), []string{"u01", "u02", "u03"}, false, true},
		{"last_partial_page", page(4, 3), []string{"u10"}, true, false},
		{"past_the_end", page(9, 3), []string{}, true, false},
		{"single_page", page(1, 20), []string{"u01", "u02", "u03", "u04", "u05", "u06", "u07", "u08", "u09", "u10"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := o.FetchPage(context.Background(), "users", tt.criteria)
			require.NoError(t, err)
			require.NotNil(t, resp.Data)
			assert.Equal(t, tt.wantIDs, userIDs(resp.Data))
			assert.Equal(t, tt.hasPrevious, resp.Pagination.HasPrevious)
			assert.Equal(t, tt.hasNext, resp.Pagination.HasNext)
		})
	}
}

func TestOrchestrator_FetchPage_SortThenFilter(t *testing.T) {
	store, err := records.NewStore([]records.User{
		{ID: "1", Name: "Carl", CountryCode: "DE", Sex: "male"},
		{ID: "2", Name: "ann", CountryCode: "FR", Sex: "female"},
		{ID: "3", Name: "Bob", CountryCode: "DE", Sex: "male"},
		{ID: "4", Name: "Anna", CountryCode: "DE", Sex: "female"},
	})
	require.NoError(t, err)
	o, _ := newTestOrchestrator(t, store)

	resp, err := o.FetchPage(context.Background(), "users", query.Criteria{
		Filters:    &query.Filters{Country: []string{"DE"}},
		Sort:       &query.Sort{Field: "name", Order: query.OrderDesc},
		Pagination: query.Pagination{CurrentPage: 1, PageSize: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, userIDs(resp.Data))
	assert.Equal(t, 3, resp.Pagination.TotalElements)
}

func TestOrchestrator_FetchPage_CacheHit(t *testing.T) {
	rep := newCountingReporter()
	waiter := newScriptedWaiter(0)
	o, clk := newTestOrchestrator(t, numberedStore(t, 10), WithReporter(rep), WithWaiter(waiter))
	ctx := context.Background()

	first, err := o.FetchPage(ctx, "users", query.Criteria{
		Filters:    &query.Filters{Country: []string{"US", "DE"}},
		Pagination: query.Pagination{CurrentPage: 1, PageSize: 5},
	})
	require.NoError(t, err)

	clk.Add(2 * time.Second)

	// Same meaning, different spelling.
	second, err := o.FetchPage(ctx, "users", query.Criteria{
		Filters:    &query.Filters{Country: []string{"DE", "US", "DE"}},
		Pagination: query.Pagination{CurrentPage: 1, PageSize: 5},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Timestamp, second.Timestamp, "cached response is served as stored")
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Pagination, second.Pagination)
	assert.Len(t, waiter.Durations(), 1, "cache hit skips the latency")

	n, err := o.Cache().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	terminals := rep.snapshot()
	assert.Equal(t, []inspector.Outcome{inspector.Success(false, 0)}, terminals["req-1"])
	assert.Equal(t, []inspector.Outcome{inspector.Success(true, 0)}, terminals["req-2"])
}

func TestOrchestrator_FetchPage_CacheExpiry(t *testing.T) {
	rep := newCountingReporter()
	o, clk := newTestOrchestrator(t, numberedStore(t, 4), WithReporter(rep))
	ctx := context.Background()

	_, err := o.FetchPage(ctx, "users", page(1, 2))
	require.NoError(t, err)

	t.Run("fresh_at_window_edge", func(t *testing.T) {
		clk.Add(DefaultFreshnessWindow)
		_, err := o.FetchPage(ctx, "users", page(1, 2))
		require.NoError(t, err)
		assert.True(t, rep.snapshot()["req-2"][0].CacheHit)
	})

	t.Run("stale_after_window", func(t *testing.T) {
		clk.Add(time.Millisecond)
		resp, err := o.FetchPage(ctx, "users", page(1, 2))
		require.NoError(t, err)
		assert.False(t, rep.snapshot()["req-3"][0].CacheHit)
		assert.True(t, clk.Now().Equal(resp.Timestamp))
	})

	t.Run("refreshed_entry_is_served", func(t *testing.T) {
		clk.Add(time.Second)
		_, err := o.FetchPage(ctx, "users", page(1, 2))
		require.NoError(t, err)
		assert.True(t, rep.snapshot()["req-4"][0].CacheHit)
	})
}

func TestOrchestrator_FetchPage_CustomFreshnessWindow(t *testing.T) {
	rep := newCountingReporter()
	o, clk := newTestOrchestrator(t, numberedStore(t, 4),
		WithReporter(rep),
		WithFreshnessWindow(time.Second),
	)
	ctx := context.Background()

	_, err := o.FetchPage(ctx, "users", page(1, 2))
	require.NoError(t, err)
	clk.Add(2 * time.Second)
	_, err = o.FetchPage(ctx, "users", page(1, 2))
	require.NoError(t, err)

	assert.False(t, rep.snapshot()["req-2"][0].CacheHit)
	assert.Equal(t, time.Second, o.Cache().TTL())
}

func TestOrchestrator_FetchPage_SimulatedFailure(t *testing.T) {
	rep := &mockReporter{}
	rep.Test(t)
	rep.On("BeginRequest", "users").Return("req-1").Once()
	rep.On("ReportTerminal", "req-1", inspector.Failed(MessageDatabaseTimeout)).Once()

	waiter := newScriptedWaiter(0)
	o, clk := newTestOrchestrator(t, numberedStore(t, 10),
		WithReporter(rep),
		WithRandom(alwaysFailure),
		WithWaiter(waiter),
	)

	resp, err := o.FetchPage(context.Background(), "users", page(1, 3))
	require.NoError(t, err, "simulated failures are response values")

	assert.False(t, resp.Success)
	assert.Equal(t, MessageFailure, resp.Message)
	assert.Nil(t, resp.Data)
	assert.Nil(t, resp.Pagination)
	assert.Equal(t, &APIError{Message: MessageDatabaseTimeout, Code: CodeInternalServerError}, resp.Error)
	assert.True(t, clk.Now().Equal(resp.Timestamp))
	assert.Empty(t, waiter.Durations())

	n, err := o.Cache().Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "failures are never cached")

	rep.AssertExpectations(t)
}

func TestOrchestrator_FetchPage_FailureBypassesCache(t *testing.T) {
	rate := &switchSource{}
	o, _ := newTestOrchestrator(t, numberedStore(t, 4), WithRandom(rate))
	ctx := context.Background()

	_, err := o.FetchPage(ctx, "users", page(1, 2))
	require.NoError(t, err)

	rate.fail = true
	resp, err := o.FetchPage(ctx, "users", page(1, 2))
	require.NoError(t, err)
	assert.False(t, resp.Success, "failure is simulated before the cache lookup")
}

type switchSource struct {
	fail bool
}

func (s *switchSource) Float64() float64 {
	if s.fail {
		return 0
	}
	return 0.99
}

func (s *switchSource) Int64N(int64) int64 { return 0 }

func TestOrchestrator_FetchPage_InvalidCriteria(t *testing.T) {
	rep := &mockReporter{}
	rep.Test(t)
	rep.On("BeginRequest", "users").Return("req-1").Once()
	rep.On("ReportTerminal", "req-1", mock.MatchedBy(func(o inspector.Outcome) bool {
		return o.Status == inspector.StatusError && o.ErrorMessage != ""
	})).Once()

	o, _ := newTestOrchestrator(t, numberedStore(t, 4), WithReporter(rep))

	resp, err := o.FetchPage(context.Background(), "users", page(1, 0))
	assert.Nil(t, resp)

	var invalid *InvalidCriteriaError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, CodeInvalidCriteria, invalid.Code())
	assert.Equal(t, "min", invalid.Fields["pagination.pageSize"])
	assert.False(t, IsCancelled(err))

	rep.AssertExpectations(t)
}

func TestOrchestrator_FetchPage_AlreadyCancelled(t *testing.T) {
	rep := &mockReporter{}
	rep.Test(t)
	rep.On("BeginRequest", "users").Return("req-1").Once()
	rep.On("ReportTerminal", "req-1", inspector.Aborted(0)).Once()

	waiter := newScriptedWaiter(0)
	o, _ := newTestOrchestrator(t, numberedStore(t, 4), WithReporter(rep), WithWaiter(waiter))

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	resp, err := o.FetchPage(ctx, "users", page(1, 0))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, waiter.Durations())

	rep.AssertExpectations(t)
}

func TestOrchestrator_FetchPage_CancelledDuringLatency(t *testing.T) {
	rep := &mockReporter{}
	rep.Test(t)
	rep.On("BeginRequest", "users").Return("req-1").Once()
	rep.On("ReportTerminal", "req-1", inspector.Aborted(300*time.Millisecond)).Once()

	waiter := newScriptedWaiter(1)
	o, clk := newTestOrchestrator(t, numberedStore(t, 4), WithReporter(rep), WithWaiter(waiter))

	ctx, cancelFn := context.WithCancelCause(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := o.FetchPage(ctx, "users", page(1, 2))
		errCh <- err
	}()

	<-waiter.entered
	clk.Add(300 * time.Millisecond)
	stopped := errors.New("user navigated away")
	cancelFn(stopped)

	err := <-errCh
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, stopped)

	n, err := o.Cache().Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rep.AssertExpectations(t)
}

func TestOrchestrator_Latency(t *testing.T) {
	tests := []struct {
		name string
		frac float64
		want time.Duration
	}{
		{"lower_bound", 0, DefaultMinLatency},
		{"upper_bound_inclusive", 1, DefaultMaxLatency},
		{"midpoint", 0.5, 700 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waiter := newScriptedWaiter(0)
			o, _ := newTestOrchestrator(t, numberedStore(t, 1),
				WithRandom(fixedSource{float: 0.99, frac: tt.frac}),
				WithWaiter(waiter),
			)

			_, err := o.FetchPage(context.Background(), "users", page(1, 1))
			require.NoError(t, err)
			assert.Equal(t, []time.Duration{tt.want}, waiter.Durations())
		})
	}

	t.Run("inverted_bounds_collapse_to_min", func(t *testing.T) {
		waiter := newScriptedWaiter(0)
		o, _ := newTestOrchestrator(t, numberedStore(t, 1),
			WithRandom(fixedSource{float: 0.99, frac: 1}),
			WithWaiter(waiter),
			WithLatency(500*time.Millisecond, 100*time.Millisecond),
		)

		_, err := o.FetchPage(context.Background(), "users", page(1, 1))
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{500 * time.Millisecond}, waiter.Durations())
	})

	t.Run("negative_bounds_clamp_to_zero", func(t *testing.T) {
		waiter := newScriptedWaiter(0)
		o, _ := newTestOrchestrator(t, numberedStore(t, 1),
			WithRandom(fixedSource{float: 0.99, frac: 1}),
			WithWaiter(waiter),
			WithLatency(-time.Second, -time.Millisecond),
		)

		_, err := o.FetchPage(context.Background(), "users", page(1, 1))
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{0}, waiter.Durations())
	})
}

func TestOrchestrator_FetchPage_ExtremePagination(t *testing.T) {
	t.Run("page_far_past_the_end", func(t *testing.T) {
		rep := &mockReporter{}
		rep.Test(t)
		rep.On("BeginRequest", "users").Return("req-1").Once()
		rep.On("ReportTerminal", "req-1", inspector.Success(false, 0)).Once()

		o, _ := newTestOrchestrator(t, numberedStore(t, 10), WithReporter(rep))

		resp, err := o.FetchPage(context.Background(), "users", page(math.MaxInt/2+1, 4))
		require.NoError(t, err)
		require.NotNil(t, resp.Data)
		assert.Empty(t, resp.Data)
		assert.Equal(t, 3, resp.Pagination.TotalPages)
		assert.True(t, resp.Pagination.HasPrevious)
		assert.False(t, resp.Pagination.HasNext)

		rep.AssertExpectations(t)
	})

	t.Run("oversized_page_is_rejected", func(t *testing.T) {
		rep := &mockReporter{}
		rep.Test(t)
		rep.On("BeginRequest", "users").Return("req-1").Once()
		rep.On("ReportTerminal", "req-1", mock.MatchedBy(func(o inspector.Outcome) bool {
			return o.Status == inspector.StatusError
		})).Once()

		o, _ := newTestOrchestrator(t, numberedStore(t, 10), WithReporter(rep))

		var (
			resp *PageResponse
			err  error
		)
		require.NotPanics(t, func() {
			resp, err = o.FetchPage(context.Background(), "users", page(1, math.MaxInt))
		})
		assert.Nil(t, resp)

		var invalid *InvalidCriteriaError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "max", invalid.Fields["pagination.pageSize"])

		rep.AssertExpectations(t)
	})
}

func TestOrchestrator_FetchPage_ExactlyOneTerminalReport(t *testing.T) {
	rep := newCountingReporter()
	o := NewOrchestrator(numberedStore(t, 20),
		WithReporter(rep),
		WithRandom(fixedSource{float: 0.5}),
		WithLatency(0, 50*time.Microsecond),
		WithLogger(discardLogger()),
	)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancelFn := context.WithCancel(context.Background())
			go func() {
				time.Sleep(time.Duration(i%5) * 10 * time.Microsecond)
				cancelFn()
			}()
			_, _ = o.FetchPage(ctx, "users", page(1+i%3, 5))
		}(i)
	}
	wg.Wait()

	terminals := rep.snapshot()
	assert.Len(t, terminals, 50)
	for id, outcomes := range terminals {
		assert.Len(t, outcomes, 1, "request %s", id)
	}
}

func TestOrchestrator_FetchPage_NoWriteAfterPreemption(t *testing.T) {
	coord := cancel.NewCoordinator()
	waiter := newScriptedWaiter(1)
	o, _ := newTestOrchestrator(t, numberedStore(t, 6), WithWaiter(waiter))

	stale, _ := coord.Begin(context.Background(), "users")
	errCh := make(chan error, 1)
	go func() {
		_, err := o.FetchPage(stale.Context(), "users", page(1, 2))
		errCh <- err
	}()
	<-waiter.entered

	fresh, preempted := coord.Begin(context.Background(), "users")
	require.True(t, preempted)
	defer fresh.Done()

	err := <-errCh
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, cancel.ErrPreempted)

	n, err := o.Cache().Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "preempted request must not write")

	resp, err := o.FetchPage(fresh.Context(), "users", page(1, 2))
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestClockWaiter(t *testing.T) {
	t.Run("elapses", func(t *testing.T) {
		w := ClockWaiter{Clock: clock.New()}
		assert.NoError(t, w.Wait(context.Background(), time.Millisecond))
	})

	t.Run("cancelled", func(t *testing.T) {
		w := ClockWaiter{Clock: clock.NewMock()}
		ctx, cancelFn := context.WithCancelCause(context.Background())
		cancelFn(cancel.ErrPreempted)
		assert.ErrorIs(t, w.Wait(ctx, time.Hour), cancel.ErrPreempted)
	})
}
