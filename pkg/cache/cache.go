// Package cache provides a time-bounded response cache on top of a
// go-datastore backend.
//
// Entries are never evicted. Freshness is judged when an entry is read, from
// the creation time stored alongside it; a later Put for the same key
// overwrites the previous entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
)

// Defaults.
const (
	DefaultTTL       = 6 * time.Second
	DefaultNamespace = "pages"
)

// Config holds cache configuration.
type Config struct {
	TTL       time.Duration
	Namespace string
	Clock     clock.Clock
	Datastore datastore.Datastore
}

// Option configures a cache.
type Option func(*Config)

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithClock sets the clock used for entry ages.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithDatastore sets the backing datastore. It must be safe for concurrent use.
func WithDatastore(ds datastore.Datastore) Option {
	return func(c *Config) {
		c.Datastore = ds
	}
}

// WithNamespace sets the key prefix under which entries are stored.
func WithNamespace(ns string) Option {
	return func(c *Config) {
		c.Namespace = ns
	}
}

// Cache maps string keys to values of type V with a freshness window.
type Cache[V any] struct {
	ds     datastore.Datastore
	clock  clock.Clock
	ttl    time.Duration
	prefix datastore.Key
}

type entry[V any] struct {
	CreatedAt time.Time `json:"createdAt"`
	Value     V         `json:"value"`
}

// New creates a cache. Without WithDatastore it uses a mutex-guarded
// in-memory map datastore.
func New[V any](opts ...Option) *Cache[V] {
	config := Config{
		TTL:       DefaultTTL,
		Namespace: DefaultNamespace,
		Clock:     clock.New(),
	}

	for _, opt := range opts {
		opt(&config)
	}

	if config.Datastore == nil {
		config.Datastore = dssync.MutexWrap(datastore.NewMapDatastore())
	}

	return &Cache[V]{
		ds:     config.Datastore,
		clock:  config.Clock,
		ttl:    config.TTL,
		prefix: datastore.NewKey(config.Namespace),
	}
}

// TTL returns the freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key if it is still fresh.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	data, err := c.ds.Get(ctx, c.dsKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var e entry[V]
	if err := json.Unmarshal(data, &e); err != nil {
		return zero, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	if !c.fresh(e.CreatedAt) {
		return zero, false, nil
	}

	return e.Value, true, nil
}

// Put stores value under key, created now.
func (c *Cache[V]) Put(ctx context.Context, key string, value V) error {
	return c.PutAt(ctx, key, value, c.clock.Now())
}

// PutAt stores value under key with an explicit creation time.
func (c *Cache[V]) PutAt(ctx context.Context, key string, value V, createdAt time.Time) error {
	data, err := json.Marshal(entry[V]{CreatedAt: createdAt, Value: value})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.ds.Put(ctx, c.dsKey(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache[V]) Len(ctx context.Context) (int, error) {
	results, err := c.ds.Query(ctx, dsq.Query{Prefix: c.prefix.String(), KeysOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to query cache: %w", err)
	}

	entries, err := results.Rest()
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	return len(entries), nil
}

// fresh reports whether an entry created at createdAt is within the window.
// Entries dated in the future count as fresh.
func (c *Cache[V]) fresh(createdAt time.Time) bool {
	age := c.clock.Now().Sub(createdAt)
	if age < 0 {
		return true
	}
	return age <= c.ttl
}

func (c *Cache[V]) dsKey(key string) datastore.Key {
	sum := sha256.Sum256([]byte(key))
	return c.prefix.ChildString(hex.EncodeToString(sum[:]))
}
