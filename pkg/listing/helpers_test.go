package listing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pavelpascari/listsim/pkg/inspector"
	"github.com/pavelpascari/listsim/pkg/records"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// numberedStore returns n users with ids u01..uNN in order.
func numberedStore(t *testing.T, n int) *records.Store {
	t.Helper()

	countries := []string{"DE", "FR", "US"}
	sexes := []string{"female", "male"}

	users := make([]records.User, n)
	for i := range users {
		users[i] = records.User{
			ID:          fmt.Sprintf("u%02d", i+1),
			Name:        fmt.Sprintf("User %02d", i+1),
			CountryCode: countries[i%len(countries)],
			Sex:         sexes[i%len(sexes)],
		}
	}

	store, err := records.NewStore(users)
	require.NoError(t, err)
	return store
}

// fixedSource returns the same draw every time.
type fixedSource struct {
	float float64
	// frac selects the Int64N draw as a fraction of its range.
	frac float64
}

func (s fixedSource) Float64() float64 { return s.float }

func (s fixedSource) Int64N(n int64) int64 {
	return min(int64(float64(n)*s.frac), n-1)
}

var (
	noFailure     = fixedSource{float: 0.99}
	alwaysFailure = fixedSource{float: 0.01}
)

// scriptedWaiter records every wait. The first block calls wait until ctx is
// cancelled and signal entered; later calls return at once.
type scriptedWaiter struct {
	mu        sync.Mutex
	block     int
	calls     int
	durations []time.Duration
	entered   chan struct{}
}

func newScriptedWaiter(block int) *scriptedWaiter {
	return &scriptedWaiter{block: block, entered: make(chan struct{}, 8)}
}

func (w *scriptedWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.calls++
	n := w.calls
	w.durations = append(w.durations, d)
	w.mu.Unlock()

	if n <= w.block {
		w.entered <- struct{}{}
		<-ctx.Done()
		return context.Cause(ctx)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (w *scriptedWaiter) Durations() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.durations...)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) BeginRequest(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *mockReporter) ReportTerminal(id string, outcome inspector.Outcome) {
	m.Called(id, outcome)
}

// countingReporter counts terminal reports per request id.
type countingReporter struct {
	mu        sync.Mutex
	next      int
	terminals map[string][]inspector.Outcome
}

func newCountingReporter() *countingReporter {
	return &countingReporter{terminals: make(map[string][]inspector.Outcome)}
}

func (r *countingReporter) BeginRequest(string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := fmt.Sprintf("req-%d", r.next)
	r.terminals[id] = nil
	return id
}

func (r *countingReporter) ReportTerminal(id string, outcome inspector.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals[id] = append(r.terminals[id], outcome)
}

func (r *countingReporter) snapshot() map[string][]inspector.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]inspector.Outcome, len(r.terminals))
	for id, o := range r.terminals {
		out[id] = append([]inspector.Outcome(nil), o...)
	}
	return out
}

func newTestOrchestrator(t *testing.T, store *records.Store, opts ...Option) (*Orchestrator, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock()
	base := []Option{
		WithClock(clk),
		WithRandom(noFailure),
		WithWaiter(newScriptedWaiter(0)),
		WithLogger(discardLogger()),
	}
	return NewOrchestrator(store, append(base, opts...)...), clk
}
