package signoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime. It covers
// lifecycle operations only; the full composite interface (store.Store)
// is used by the engine, which sits above the subsystem packages.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runtime carries the configuration, logger and store shared by every
// signoff component. Build one with New, then hand it to engine.Build.
type Runtime struct {
	config Config
	logger *slog.Logger
	store  Storer
}

// New creates a Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	if rt.store == nil {
		return nil, ErrNoStore
	}
	return rt, nil
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Store returns the runtime's store.
func (rt *Runtime) Store() Storer { return rt.store }

// Config returns a copy of the runtime's configuration.
func (rt *Runtime) Config() Config { return rt.config }

// Close releases the store.
func (rt *Runtime) Close() error {
	return rt.store.Close()
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(rt *Runtime) error {
		if cfg.ApprovalTimeout <= 0 {
			return fmt.Errorf("signoff: approval timeout must be positive, got %s", cfg.ApprovalTimeout)
		}
		rt.config = cfg
		return nil
	}
}

// WithApprovalTimeout sets how long a run waits for a decision.
func WithApprovalTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		if d <= 0 {
			return fmt.Errorf("signoff: approval timeout must be positive, got %s", d)
		}
		rt.config.ApprovalTimeout = d
		return nil
	}
}

// WithConcurrency sets the number of resume workers.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) error {
		rt.config.Concurrency = n
		return nil
	}
}

// WithRetry sets the retry budget for transient store failures.
func WithRetry(rc RetryConfig) Option {
	return func(rt *Runtime) error {
		rt.config.Retry = rc
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; engine.Build requires a full store.Store.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}
