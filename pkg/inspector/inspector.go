// Package inspector records the lifecycle of listing requests so in-flight
// and settled requests can be observed.
package inspector

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a request.
type Status string

// Request statuses. Loading is the only non-terminal one.
const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusAborted Status = "aborted"
	StatusError   Status = "error"
)

// DefaultCapacity is the number of records an Inspector retains by default.
const DefaultCapacity = 200

// Outcome is the terminal result of a request.
type Outcome struct {
	Status       Status
	CacheHit     bool
	Duration     time.Duration
	ErrorMessage string
}

// Success builds a success outcome.
func Success(cacheHit bool, d time.Duration) Outcome {
	return Outcome{Status: StatusSuccess, CacheHit: cacheHit, Duration: d}
}

// Aborted builds an aborted outcome.
func Aborted(d time.Duration) Outcome {
	return Outcome{Status: StatusAborted, Duration: d}
}

// Failed builds an error outcome.
func Failed(message string) Outcome {
	return Outcome{Status: StatusError, ErrorMessage: message}
}

// Reporter receives request lifecycle transitions. BeginRequest is called
// once per request and returns its id; ReportTerminal is called once per id.
type Reporter interface {
	BeginRequest(key string) string
	ReportTerminal(id string, outcome Outcome)
}

// Record is one observed request.
type Record struct {
	RequestKey   string     `json:"requestKey"`
	RequestID    string     `json:"requestId"`
	Status       Status     `json:"status"`
	CacheHit     bool       `json:"cacheHit,omitempty"`
	DurationMs   int64      `json:"durationInMs,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	SettledAt    *time.Time `json:"settledAt,omitempty"`
}

// Terminal reports whether the record has settled.
func (r Record) Terminal() bool {
	return r.Status != StatusLoading
}

// Config holds inspector configuration.
type Config struct {
	Capacity    int
	Clock       clock.Clock
	IDGenerator func() string
	Logger      *slog.Logger
}

// Option configures an Inspector.
type Option func(*Config)

// WithCapacity bounds the number of retained records. The oldest settled
// records are dropped first; requests still loading are never dropped, so
// the bound may be exceeded while they are in flight.
func WithCapacity(n int) Option {
	return func(c *Config) {
		c.Capacity = n
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithIDGenerator replaces the uuid based request id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Config) {
		c.IDGenerator = gen
	}
}

// WithLogger sets the logger used for protocol violations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Inspector is an in-memory Reporter. Records are kept newest first.
type Inspector struct {
	config  Config
	mu      sync.RWMutex
	records []Record
	stats   Stats
}

// New creates an Inspector.
func New(opts ...Option) *Inspector {
	config := Config{
		Capacity:    DefaultCapacity,
		Clock:       clock.New(),
		IDGenerator: uuid.NewString,
		Logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &Inspector{
		config:  config,
		records: make([]Record, 0),
	}
}

// BeginRequest implements Reporter.
func (i *Inspector) BeginRequest(key string) string {
	id := i.config.IDGenerator()
	rec := Record{
		RequestKey: key,
		RequestID:  id,
		Status:     StatusLoading,
		StartedAt:  i.config.Clock.Now(),
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.records = slices.Insert(i.records, 0, rec)
	i.trim()
	i.stats.Started++

	return id
}

// ReportTerminal implements Reporter. Reports for unknown or already settled
// requests are dropped.
func (i *Inspector) ReportTerminal(id string, outcome Outcome) {
	i.mu.Lock()
	defer i.mu.Unlock()

	idx := slices.IndexFunc(i.records, func(r Record) bool { return r.RequestID == id })
	if idx < 0 {
		i.config.Logger.Warn("terminal report for unknown request",
			slog.String("event", "report_dropped"),
			slog.String("request_id", id),
			slog.String("status", string(outcome.Status)))
		return
	}

	rec := &i.records[idx]
	if rec.Terminal() {
		i.config.Logger.Warn("request already settled",
			slog.String("event", "report_dropped"),
			slog.String("request_id", id),
			slog.String("settled_status", string(rec.Status)),
			slog.String("status", string(outcome.Status)))
		return
	}

	rec.Status = outcome.Status
	rec.CacheHit = outcome.CacheHit
	rec.DurationMs = outcome.Duration.Milliseconds()
	rec.ErrorMessage = outcome.ErrorMessage
	settledAt := i.config.Clock.Now()
	rec.SettledAt = &settledAt

	i.stats.record(outcome)
	i.trim()
}

// trim drops the oldest settled records until the capacity is met.
// Callers hold mu.
func (i *Inspector) trim() {
	if i.config.Capacity <= 0 {
		return
	}

	for idx := len(i.records) - 1; idx >= 0 && len(i.records) > i.config.Capacity; idx-- {
		if i.records[idx].Terminal() {
			i.records = slices.Delete(i.records, idx, idx+1)
		}
	}
}

// Records returns a snapshot of all retained records, newest first.
func (i *Inspector) Records() []Record {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.records)
}

// Get returns the record for a request id.
func (i *Inspector) Get(id string) (Record, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for _, r := range i.records {
		if r.RequestID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Pending returns the number of requests still loading.
func (i *Inspector) Pending() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := 0
	for _, r := range i.records {
		if !r.Terminal() {
			n++
		}
	}
	return n
}

// Reset drops all records and statistics.
func (i *Inspector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = make([]Record, 0)
	i.stats = Stats{}
}
