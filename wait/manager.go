package wait

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// DefaultTimeout is the wait deadline used when none is given.
const DefaultTimeout = 300 * time.Second

// ResolvedFunc is notified after this manager resolves a wait.
type ResolvedFunc func(ctx context.Context, rec *Record)

// Manager registers, resolves and expires waits.
//
// Register persists the record and arms an in-process timer; nothing
// blocks. Deliver and Expire race through Store.ResolveWait, so exactly
// one of them wins per key. Subscribers added with OnResolved learn about
// every resolution this manager performs and are how suspended runs get
// resumed. Sweep expires overdue records whose timers were lost, e.g.
// after a restart.
type Manager struct {
	store          Store
	logger         *slog.Logger
	defaultTimeout time.Duration
	pollInterval   time.Duration
	sweepLimit     int
	now            func() time.Time

	mu          sync.Mutex
	timers      map[string]*time.Timer
	listeners   map[string][]chan struct{}
	subscribers []ResolvedFunc
	stopped     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout sets the deadline used when Register gets zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPollInterval sets how often a blocked WaitFor re-reads its record
// in case another process resolved it.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithSweepLimit caps how many overdue records one Sweep expires.
func WithSweepLimit(n int) Option {
	return func(m *Manager) { m.sweepLimit = n }
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
		pollInterval:   time.Second,
		sweepLimit:     100,
		now:            func() time.Time { return time.Now().UTC() },
		timers:         make(map[string]*time.Timer),
		listeners:      make(map[string][]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnResolved adds a subscriber notified after every resolution performed
// by this manager. Subscribers run on the resolving goroutine and must
// not block.
func (m *Manager) OnResolved(fn ResolvedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Register persists an open wait for key owned by runID and arms its
// deadline. A zero timeout uses the default. Registering a key that
// already has an open wait fails with ErrWaitConflict.
func (m *Manager) Register(ctx context.Context, key string, timeout time.Duration, runID id.RunID) (*Record, error) {
	if key == "" {
		return nil, signoff.NewValidationError("key", "required")
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	now := m.now()
	rec := &Record{
		ID:           id.NewWaitID(),
		Key:          key,
		RunID:        runID,
		State:        StateOpen,
		Deadline:     now.Add(timeout),
		RegisteredAt: now,
	}
	if err := m.store.CreateWait(ctx, rec); err != nil {
		return nil, fmt.Errorf("wait: register %q: %w", key, err)
	}

	m.arm(key, timeout)

	m.logger.Debug("wait registered",
		slog.String("key", key),
		slog.String("run_id", runID.String()),
		slog.Time("deadline", rec.Deadline),
	)
	return rec, nil
}

// Get returns the record for key.
func (m *Manager) Get(ctx context.Context, key string) (*Record, error) {
	return m.store.GetWait(ctx, key)
}

// Deliver resolves the open wait for key with payload. It reports true
// only if this call woke the waiter; unknown, duplicate and late
// deliveries report false and change nothing.
func (m *Manager) Deliver(ctx context.Context, key string, payload json.RawMessage) (bool, error) {
	return m.resolve(ctx, key, OutcomeEvent, payload)
}

// Expire resolves the open wait for key as timed out. It reports false if
// the wait was already resolved.
func (m *Manager) Expire(ctx context.Context, key string) (bool, error) {
	return m.resolve(ctx, key, OutcomeTimedOut, nil)
}

func (m *Manager) resolve(ctx context.Context, key string, outcome Outcome, payload json.RawMessage) (bool, error) {
	ok, err := m.store.ResolveWait(ctx, key, Resolution{
		Outcome: outcome,
		Payload: payload,
		At:      m.now(),
	})
	if err != nil {
		return false, fmt.Errorf("wait: resolve %q: %w", key, err)
	}
	if !ok {
		m.logger.Debug("wait already resolved or unknown",
			slog.String("key", key),
			slog.String("outcome", string(outcome)),
		)
		return false, nil
	}

	m.disarm(key)
	m.wake(key)

	rec, err := m.store.GetWait(ctx, key)
	if err != nil {
		// The resolution is durable; subscribers will catch up through
		// recovery. Report success to the caller.
		m.logger.Warn("wait resolved but re-read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	m.logger.Info("wait resolved",
		slog.String("key", key),
		slog.String("outcome", string(outcome)),
		slog.String("run_id", rec.RunID.String()),
	)

	m.mu.Lock()
	subs := append([]ResolvedFunc(nil), m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ctx, rec)
	}
	return true, nil
}

// WaitFor registers a wait on key and blocks until it resolves or ctx is
// done. It listens before registering, so a delivery that lands between
// registration and blocking is never missed. When ctx ends first the
// record stays open and its deadline still applies.
func (m *Manager) WaitFor(ctx context.Context, key string, timeout time.Duration) (Result, error) {
	ch := m.listen(key)
	defer m.unlisten(key, ch)

	if _, err := m.Register(ctx, key, timeout, id.Nil); err != nil {
		return Result{}, err
	}
	return m.await(ctx, key, ch)
}

// Await blocks until the already registered wait for key resolves or ctx
// is done.
func (m *Manager) Await(ctx context.Context, key string) (Result, error) {
	ch := m.listen(key)
	defer m.unlisten(key, ch)
	return m.await(ctx, key, ch)
}

func (m *Manager) await(ctx context.Context, key string, ch <-chan struct{}) (Result, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := m.store.GetWait(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("wait: read %q: %w", key, err)
		}
		if !rec.Open() {
			return rec.Result(), nil
		}
		if !m.now().Before(rec.Deadline) {
			// The timer belongs to another process or was lost.
			if _, err := m.Expire(ctx, key); err != nil {
				return Result{}, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ch:
		case <-ticker.C:
		}
	}
}

// Sweep expires every open wait whose deadline has passed and returns how
// many this call resolved.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	due, err := m.store.ListDueWaits(ctx, m.now(), m.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("wait: list due: %w", err)
	}

	expired := 0
	var errs []error
	for _, rec := range due {
		ok, err := m.Expire(ctx, rec.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// Run sweeps overdue waits every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("wait sweep failed", slog.String("error", err.Error()))
			}
			if n > 0 {
				m.logger.Info("expired overdue waits", slog.Int("count", n))
			}
		}
	}
}

// Stop disarms every pending timer. Open records keep their deadlines
// and are expired by the next Sweep.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) arm(key string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}
	m.timers[key] = time.AfterFunc(d, func() {
		if _, err := m.Expire(context.Background(), key); err != nil {
			m.logger.Error("wait expiry failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (m *Manager) disarm(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) listen(key string) chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.listeners[key] = append(m.listeners[key], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unlisten(key string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.listeners[key]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(m.listeners, key)
	} else {
		m.listeners[key] = chans
	}
}

func (m *Manager) wake(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.listeners[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
