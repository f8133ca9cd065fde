package listing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pavelpascari/listsim/pkg/cache"
	"github.com/pavelpascari/listsim/pkg/cancel"
	"github.com/pavelpascari/listsim/pkg/inspector"
	"github.com/pavelpascari/listsim/pkg/query"
	"github.com/pavelpascari/listsim/pkg/records"
)

// Orchestrator serves listing requests against a record store.
type Orchestrator struct {
	store       *records.Store
	failureRate float64
	minLatency  time.Duration
	maxLatency  time.Duration
	random      Source
	waiter      Waiter
	clock       clock.Clock
	cache       *cache.Cache[PageResponse]
	reporter    inspector.Reporter
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store *records.Store, opts ...Option) *Orchestrator {
	config := Config{
		FailureRate:     DefaultFailureRate,
		FreshnessWindow: DefaultFreshnessWindow,
		MinLatency:      DefaultMinLatency,
		MaxLatency:      DefaultMaxLatency,
		Random:          globalSource{},
		Clock:           clock.New(),
		Logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(&config)
	}

	if config.Waiter == nil {
		config.Waiter = ClockWaiter{Clock: config.Clock}
	}
	if config.Cache == nil {
		config.Cache = cache.New[PageResponse](
			cache.WithTTL(config.FreshnessWindow),
			cache.WithClock(config.Clock),
		)
	}
	if config.Reporter == nil {
		config.Reporter = inspector.New(
			inspector.WithClock(config.Clock),
			inspector.WithLogger(config.Logger),
		)
	}

	minLatency := max(config.MinLatency, 0)

	return &Orchestrator{
		store:       store,
		failureRate: config.FailureRate,
		minLatency:  minLatency,
		maxLatency:  max(config.MaxLatency, minLatency),
		random:      config.Random,
		waiter:      config.Waiter,
		clock:       config.Clock,
		cache:       config.Cache,
		reporter:    config.Reporter,
		logger:      config.Logger,
	}
}

// Cache returns the response cache.
func (o *Orchestrator) Cache() *cache.Cache[PageResponse] {
	return o.cache
}

// Reporter returns the lifecycle reporter.
func (o *Orchestrator) Reporter() inspector.Reporter {
	return o.reporter
}

// request tracks one FetchPage call. Exactly one terminal outcome is
// reported for it, whichever of the abort listener and the call itself
// gets there first.
type request struct {
	o       *Orchestrator
	id      string
	start   time.Time
	settled atomic.Bool
	aborted chan struct{}
}

func (r *request) elapsed() time.Duration {
	return r.o.clock.Since(r.start)
}

func (r *request) claim() bool {
	return r.settled.CompareAndSwap(false, true)
}

func (r *request) settle(outcome inspector.Outcome) bool {
	if !r.claim() {
		return false
	}
	r.o.reporter.ReportTerminal(r.id, outcome)
	return true
}

func (r *request) abort() {
	r.settle(inspector.Aborted(r.elapsed()))
}

// FetchPage returns one page of records matching criteria. key identifies
// the logical request stream for the reporter.
//
// Cancelling ctx abandons the request and FetchPage returns an error
// wrapping ErrCancelled and the cancellation cause. Invalid criteria yield an
// *InvalidCriteriaError. Simulated backend failures are not Go errors: they
// come back as a failed response.
func (o *Orchestrator) FetchPage(ctx context.Context, key string, criteria query.Criteria) (*PageResponse, error) {
	req := &request{
		o:       o,
		start:   o.clock.Now(),
		aborted: make(chan struct{}),
	}
	req.id = o.reporter.BeginRequest(key)

	stop := context.AfterFunc(ctx, func() {
		defer close(req.aborted)
		req.abort()
	})
	defer func() {
		if !stop() {
			<-req.aborted
		}
	}()

	if ctx.Err() != nil {
		req.abort()
		return nil, cancelled(ctx)
	}

	if err := criteria.Validate(); err != nil {
		invalid := NewInvalidCriteriaError(err)
		if !req.settle(inspector.Failed(invalid.Error())) {
			return nil, cancelled(ctx)
		}
		return nil, invalid
	}

	if o.random.Float64() < o.failureRate {
		o.logger.LogAttrs(ctx, slog.LevelDebug, "Simulated backend failure",
			slog.String("event", "simulated_failure"),
			slog.String("request_id", req.id))

		resp := NewFailure[[]records.User](APIError{
			Message: MessageDatabaseTimeout,
			Code:    CodeInternalServerError,
		}, o.clock.Now())
		if !req.settle(inspector.Failed(MessageDatabaseTimeout)) {
			return nil, cancelled(ctx)
		}
		return resp, nil
	}

	cacheKey, err := criteria.CacheKey()
	if err != nil {
		o.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to derive cache key",
			slog.String("event", "cache_key_failed"),
			slog.String("request_id", req.id),
			slog.String("error", err.Error()))
	}
	cacheable := err == nil

	if cacheable {
		cached, ok, err := o.cache.Get(ctx, cacheKey)
		if err != nil {
			o.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to read cache",
				slog.String("event", "cache_read_failed"),
				slog.String("request_id", req.id),
				slog.String("error", err.Error()))
		}
		if ok {
			if !req.settle(inspector.Success(true, req.elapsed())) {
				return nil, cancelled(ctx)
			}
			return &cached, nil
		}
	}

	if err := o.waiter.Wait(ctx, o.latency()); err != nil {
		if ctx.Err() != nil {
			req.abort()
			return nil, cancelled(ctx)
		}
		req.settle(inspector.Failed(err.Error()))
		return nil, fmt.Errorf("failed to simulate latency: %w", err)
	}

	if ctx.Err() != nil {
		req.abort()
		return nil, cancelled(ctx)
	}

	data, meta := query.Apply(o.store.All(), criteria)
	resp := NewSuccess(data, meta, o.clock.Now())

	err = cancel.Commit(ctx, func() error {
		if !req.claim() {
			return cancelled(ctx)
		}
		if cacheable {
			if err := o.cache.PutAt(context.WithoutCancel(ctx), cacheKey, *resp, resp.Timestamp); err != nil {
				o.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to write cache",
					slog.String("event", "cache_write_failed"),
					slog.String("request_id", req.id),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
	if err != nil {
		req.abort()
		return nil, cancelled(ctx)
	}

	o.reporter.ReportTerminal(req.id, inspector.Success(false, req.elapsed()))
	return resp, nil
}

// latency draws a duration uniformly from [minLatency, maxLatency].
func (o *Orchestrator) latency() time.Duration {
	span := int64(o.maxLatency - o.minLatency)
	if span < math.MaxInt64 {
		span++
	}
	return o.minLatency + time.Duration(o.random.Int64N(span))
}
