package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-authshield/pkg/otp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// nearRollover sits 50ms before the step 1 -> step 2 boundary, so timers
// driven by it wake every 50ms.
var nearRollover = fixedClock{t: time.Unix(59, 950_000_000)}

func newTestManager() *Manager {
	return NewManager(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(nearRollover),
	)
}

func newGenerator(t *testing.T, secret string) *otp.Generator {
	t.Helper()
	gen, err := otp.New(secret)
	if err != nil {
		t.Fatalf("otp.New error: %v", err)
	}
	return gen
}

type collector struct {
	mu      sync.Mutex
	updates []Update
	ch      chan Update
}

func newCollector() *collector {
	return &collector{ch: make(chan Update, 256)}
}

func (c *collector) fn(_ context.Context, u Update) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
	select {
	case c.ch <- u:
	default:
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func (c *collector) next(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartEmitsImmediately(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	c := newCollector()
	if err := m.Start(context.Background(), "alice", newGenerator(t, testSecret), c.fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	u := c.next(t)
	if u.Err != nil {
		t.Fatalf("unexpected update error: %v", u.Err)
	}
	if u.ID != "alice" {
		t.Errorf("ID = %q, want alice", u.ID)
	}
	if u.Code != "711CWS" {
		t.Errorf("Code = %q, want 711CWS", u.Code)
	}
	if u.Remaining != time.Second {
		t.Errorf("Remaining = %v, want 1s", u.Remaining)
	}
	if !u.At.Equal(nearRollover.t) {
		t.Errorf("At = %v, want %v", u.At, nearRollover.t)
	}
}

func TestTimerRepeatsAtRollover(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	c := newCollector()
	if err := m.Start(context.Background(), "alice", newGenerator(t, testSecret), c.fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitFor(t, func() bool { return m.Ticks("alice") >= 3 })

	// Redundant refreshes within the same step yield the same code.
	for i := 0; i < 3; i++ {
		if u := c.next(t); u.Code != "711CWS" {
			t.Errorf("update %d code = %q, want 711CWS", i, u.Code)
		}
	}
}

func TestStartErrors(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	gen := newGenerator(t, testSecret)
	fn := func(context.Context, Update) {}

	tests := []struct {
		name    string
		id      string
		gen     *otp.Generator
		fn      Func
		wantErr error
	}{
		{name: "empty id", id: "", gen: gen, fn: fn, wantErr: ErrInvalidJob},
		{name: "nil generator", id: "a", gen: nil, fn: fn, wantErr: ErrInvalidJob},
		{name: "nil callback", id: "a", gen: gen, fn: nil, wantErr: ErrInvalidJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Start(context.Background(), tt.id, tt.gen, tt.fn); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := m.Start(context.Background(), "dup", gen, fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := m.Start(context.Background(), "dup", gen, fn); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStopIsIsolated(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	a, b := newCollector(), newCollector()
	if err := m.Start(context.Background(), "a", newGenerator(t, testSecret), a.fn); err != nil {
		t.Fatalf("Start(a) error: %v", err)
	}
	if err := m.Start(context.Background(), "b", newGenerator(t, testSecret), b.fn); err != nil {
		t.Fatalf("Start(b) error: %v", err)
	}
	a.next(t)
	b.next(t)

	if ids := m.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("IDs() = %v, want [a b]", ids)
	}

	if !m.Stop("a") {
		t.Fatal("Stop(a) = false, want true")
	}
	if m.Running("a") {
		t.Error("a still running after Stop")
	}
	if !m.Running("b") {
		t.Error("b stopped by Stop(a)")
	}

	stoppedAt := a.count()
	before := b.count()
	waitFor(t, func() bool { return b.count() >= before+2 })

	if got := a.count(); got != stoppedAt {
		t.Errorf("a received %d updates after Stop", got-stoppedAt)
	}
	if m.Stop("a") {
		t.Error("second Stop(a) = true, want false")
	}
}

func TestStopUnknown(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if m.Stop("nobody") {
		t.Error("Stop of unknown id = true, want false")
	}
	if m.Ticks("nobody") != 0 {
		t.Error("Ticks of unknown id should be 0")
	}
}

func TestContextCancellationStopsTimer(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newCollector()
	if err := m.Start(ctx, "alice", newGenerator(t, testSecret), c.fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	c.next(t)

	cancel()
	waitFor(t, func() bool { return !m.Running("alice") })

	// The id is free again.
	if err := m.Start(context.Background(), "alice", newGenerator(t, testSecret), c.fn); err != nil {
		t.Errorf("restart after cancellation: %v", err)
	}
}

func TestGenerationErrorsKeepTimerAlive(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	c := newCollector()
	if err := m.Start(context.Background(), "broken", newGenerator(t, "not*base32"), c.fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	u := c.next(t)
	if !errors.Is(u.Err, otp.ErrInvalidSecret) {
		t.Errorf("expected ErrInvalidSecret, got %v", u.Err)
	}
	if u.Code != "" {
		t.Errorf("expected empty code on error, got %q", u.Code)
	}

	waitFor(t, func() bool { return m.Ticks("broken") >= 2 })
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	var calls sync.WaitGroup
	calls.Add(2)
	var once sync.Once
	n := 0
	var mu sync.Mutex
	fn := func(context.Context, Update) {
		mu.Lock()
		n++
		first := n <= 2
		mu.Unlock()
		if first {
			calls.Done()
		}
		once.Do(func() { panic("boom") })
	}

	if err := m.Start(context.Background(), "alice", newGenerator(t, testSecret), fn); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		calls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not survive a panicking callback")
	}
}

func TestClose(t *testing.T) {
	m := newTestManager()

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Start(context.Background(), id, newGenerator(t, testSecret), func(context.Context, Update) {}); err != nil {
			t.Fatalf("Start(%s) error: %v", id, err)
		}
	}

	m.Close()

	if ids := m.IDs(); len(ids) != 0 {
		t.Errorf("IDs() after Close = %v, want none", ids)
	}
	if err := m.Start(context.Background(), "d", newGenerator(t, testSecret), func(context.Context, Update) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Closing twice is harmless.
	m.Close()
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(WithLogger(nil), WithClock(nil))
	defer m.Close()

	if m.logger == nil || m.clock == nil {
		t.Fatal("expected default logger and clock")
	}
}
