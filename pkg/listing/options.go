package listing

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pavelpascari/listsim/pkg/cache"
	"github.com/pavelpascari/listsim/pkg/inspector"
)

// Defaults.
const (
	DefaultFailureRate     = 0.10
	DefaultFreshnessWindow = cache.DefaultTTL
	DefaultMinLatency      = 200 * time.Millisecond
	DefaultMaxLatency      = 1200 * time.Millisecond
)

// Config holds orchestrator configuration.
type Config struct {
	FailureRate     float64
	FreshnessWindow time.Duration
	MinLatency      time.Duration
	MaxLatency      time.Duration
	Random          Source
	Waiter          Waiter
	Clock           clock.Clock
	Cache           *cache.Cache[PageResponse]
	Reporter        inspector.Reporter
	Logger          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithFailureRate sets the probability of a simulated internal error.
func WithFailureRate(p float64) Option {
	return func(c *Config) {
		c.FailureRate = p
	}
}

// WithFreshnessWindow sets how long cached responses are served. It only
// applies to the cache the orchestrator creates itself.
func WithFreshnessWindow(d time.Duration) Option {
	return func(c *Config) {
		c.FreshnessWindow = d
	}
}

// WithLatency sets the inclusive bounds of the simulated latency. A negative
// minimum is treated as zero and a maximum below the minimum collapses to it.
func WithLatency(minLatency, maxLatency time.Duration) Option {
	return func(c *Config) {
		c.MinLatency = minLatency
		c.MaxLatency = maxLatency
	}
}

// WithRandom sets the randomness source for failures and latency.
func WithRandom(src Source) Option {
	return func(c *Config) {
		c.Random = src
	}
}

// WithWaiter sets how the simulated latency is waited out.
func WithWaiter(w Waiter) Option {
	return func(c *Config) {
		c.Waiter = w
	}
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithCache sets the response cache.
func WithCache(rc *cache.Cache[PageResponse]) Option {
	return func(c *Config) {
		c.Cache = rc
	}
}

// WithReporter sets the lifecycle reporter.
func WithReporter(r inspector.Reporter) Option {
	return func(c *Config) {
		c.Reporter = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
