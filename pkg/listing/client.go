package listing

import (
	"context"

	"github.com/pavelpascari/listsim/pkg/cancel"
	"github.com/pavelpascari/listsim/pkg/query"
)

// Handler is the transport-agnostic shape of a request handler.
type Handler[TRequest, TResponse any] interface {
	Handle(ctx context.Context, req TRequest) (TResponse, error)
}

// FetchRequest is a keyed listing request.
type FetchRequest struct {
	Key      string         `json:"key"`
	Criteria query.Criteria `json:"criteria"`
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	Coordinator *cancel.Coordinator
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithCoordinator shares a cancellation coordinator between clients.
func WithCoordinator(c *cancel.Coordinator) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Coordinator = c
	}
}

// Client issues keyed requests. A new request under a key cancels the one
// still in flight under the same key.
type Client struct {
	orchestrator *Orchestrator
	coordinator  *cancel.Coordinator
}

var _ Handler[FetchRequest, *PageResponse] = (*Client)(nil)

// NewClient creates a client backed by o.
func NewClient(o *Orchestrator, opts ...ClientOption) *Client {
	config := ClientConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Coordinator == nil {
		config.Coordinator = cancel.NewCoordinator()
	}

	return &Client{
		orchestrator: o,
		coordinator:  config.Coordinator,
	}
}

// Fetch requests a page under key, preempting any request still in flight
// under it. A preempted call returns an error for which IsCancelled is true.
func (c *Client) Fetch(ctx context.Context, key string, criteria query.Criteria) (*PageResponse, error) {
	op, _ := c.coordinator.Begin(ctx, key)
	defer op.Done()

	return c.orchestrator.FetchPage(op.Context(), key, criteria)
}

// Handle implements Handler.
func (c *Client) Handle(ctx context.Context, req FetchRequest) (*PageResponse, error) {
	return c.Fetch(ctx, req.Key, req.Criteria)
}

// Cancel cancels the request in flight under key and reports whether there
// was one.
func (c *Client) Cancel(key string) bool {
	return c.coordinator.Cancel(key)
}

// Active reports whether a request is in flight under key.
func (c *Client) Active(key string) bool {
	return c.coordinator.Active(key)
}
