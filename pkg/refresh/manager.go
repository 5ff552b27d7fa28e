package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-authshield/pkg/otp"
)

var (
	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("refresh: manager is closed")
	// ErrAlreadyRunning indicates a timer is already active for the id.
	ErrAlreadyRunning = errors.New("refresh: timer already running")
	// ErrInvalidJob indicates Start was called without an id, generator or callback.
	ErrInvalidJob = errors.New("refresh: invalid job")
)

// Update is delivered to the callback on every refresh.
type Update struct {
	// ID identifies the timer (typically the enrolled account).
	ID string
	// Code is the code for the step containing At. Empty when Err is set.
	Code string
	// Remaining is the whole-second countdown until Code rolls over.
	Remaining time.Duration
	// At is the clock reading the code was generated for.
	At time.Time
	// Err is the generation error, if any.
	Err error
}

// Func receives refresh updates. It runs on the timer's goroutine and must
// not call Stop or Close for its own id.
type Func func(ctx context.Context, u Update)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
	ticks  *atomic.Int64
}

// Manager owns one independent timer per id. Each timer regenerates its code
// immediately on Start and then at every interval rollover until it is
// stopped, its context is cancelled, or the manager is closed.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	closed *atomic.Bool
	logger *slog.Logger
	clock  otp.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the clock used to schedule rollovers; primarily used for testing.
func WithClock(c otp.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		jobs:   map[string]*job{},
		closed: atomic.NewBool(false),
		logger: slog.Default(),
		clock:  otp.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = otp.SystemClock{}
	}
	return m
}

// Start launches the timer for id. Cancelling ctx stops it as Stop would.
func (m *Manager) Start(ctx context.Context, id string, gen *otp.Generator, fn Func) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidJob)
	}
	if gen == nil {
		return fmt.Errorf("%w: generator must not be nil", ErrInvalidJob)
	}
	if fn == nil {
		return fmt.Errorf("%w: callback must not be nil", ErrInvalidJob)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if _, ok := m.jobs[id]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, id)
	}

	jctx, cancel := context.WithCancel(ctx)
	j := &job{
		cancel: cancel,
		done:   make(chan struct{}),
		ticks:  atomic.NewInt64(0),
	}
	m.jobs[id] = j

	go m.run(jctx, id, gen, fn, j)

	m.logger.InfoContext(ctx, "refresh timer started", "id", id, "interval", gen.Interval())
	return nil
}

func (m *Manager) run(ctx context.Context, id string, gen *otp.Generator, fn Func, j *job) {
	defer close(j.done)
	defer func() {
		m.mu.Lock()
		if m.jobs[id] == j {
			delete(m.jobs, id)
		}
		m.mu.Unlock()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.DebugContext(ctx, "refresh timer stopped", "id", id, "because", ctx.Err())
			return
		case <-timer.C:
		}

		now := m.clock.Now()
		remaining := gen.Remaining(now)
		code, err := gen.GenerateTime(now)
		if err != nil {
			m.logger.ErrorContext(ctx, "refresh code generation failed", "id", id, "err", err)
		}
		j.ticks.Inc()

		m.deliver(ctx, fn, Update{
			ID:        id,
			Code:      code,
			Remaining: remaining,
			At:        now,
			Err:       err,
		})

		// Remaining is whole seconds; wake exactly on the boundary.
		wait := remaining - time.Duration(now.Nanosecond())
		if wait <= 0 {
			wait = gen.Interval()
		}
		timer.Reset(wait)
	}
}

func (m *Manager) deliver(ctx context.Context, fn Func, u Update) {
	defer func() {
		if rvr := recover(); rvr != nil {
			m.logger.ErrorContext(ctx, "panic occurred in refresh callback",
				"id", u.ID, "panic", rvr, "stack", string(debug.Stack()))
		}
	}()
	fn(ctx, u)
}

// Stop cancels the timer for id and waits for it to exit. Other timers are
// unaffected. It reports whether a timer was running.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	j.cancel()
	<-j.done
	m.logger.Info("refresh timer removed", "id", id)
	return true
}

// Running reports whether a timer is active for id.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.jobs[id]
	return ok
}

// IDs returns the ids of all active timers, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := lo.Keys(m.jobs)
	m.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Ticks returns how many refreshes the timer for id has performed.
func (m *Manager) Ticks(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return 0
	}
	return j.ticks.Load()
}

// Close stops every timer and waits for them to exit. Start fails with
// ErrClosed afterwards.
func (m *Manager) Close() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return
	}
	jobs := lo.Values(m.jobs)
	m.jobs = map[string]*job{}
	m.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	for _, j := range jobs {
		<-j.done
	}

	m.logger.Info("refresh manager closed", "timers", len(jobs))
}
