package api

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeremyhahn/go-authshield/pkg/otp"
)

// ErrReplayedCode indicates the code was already accepted for the user within
// its validity window.
var ErrReplayedCode = errors.New("api: code already used")

// replayEntry records one accepted (username, code) pair.
type replayEntry struct {
	key       string
	expiresAt time.Time
}

// ReplayGuard remembers accepted codes until they can no longer verify, so
// each code is accepted at most once. It is an LRU bounded by maxSize; the
// oldest entry is evicted when full.
type ReplayGuard struct {
	mu          sync.Mutex
	maxSize     int
	ttl         time.Duration
	clock       otp.Clock
	items       map[string]*list.Element
	lruList     *list.List
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewReplayGuard creates a guard holding at most maxSize codes for ttl each.
// ttl should cover the verifier's whole acceptance window, e.g.
// (2*skew+1)*period for TOTP. A nil clock uses the system clock.
func NewReplayGuard(maxSize int, ttl time.Duration, clock otp.Clock) *ReplayGuard {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if clock == nil {
		clock = otp.SystemClock{}
	}

	g := &ReplayGuard{
		maxSize:     maxSize,
		ttl:         ttl,
		clock:       clock,
		items:       make(map[string]*list.Element),
		lruList:     list.New(),
		stopCleanup: make(chan struct{}),
	}

	go g.cleanupExpired()

	return g
}

// reserve records key unless an unexpired entry already exists.
func (g *ReplayGuard) reserve(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if elem, ok := g.items[key]; ok {
		entry := elem.Value.(*replayEntry)
		if now.Before(entry.expiresAt) {
			return false
		}
		g.removeElement(elem)
	}

	elem := g.lruList.PushFront(&replayEntry{key: key, expiresAt: now.Add(g.ttl)})
	g.items[key] = elem

	if g.lruList.Len() > g.maxSize {
		if oldest := g.lruList.Back(); oldest != nil {
			g.removeElement(oldest)
		}
	}
	return true
}

// release forgets key; used when the wrapped verifier rejected the code.
func (g *ReplayGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, ok := g.items[key]; ok {
		g.removeElement(elem)
	}
}

// Len returns the number of remembered codes, including expired entries not
// yet pruned.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lruList.Len()
}

// removeElement must be called with the lock held.
func (g *ReplayGuard) removeElement(elem *list.Element) {
	entry := elem.Value.(*replayEntry)
	delete(g.items, entry.key)
	g.lruList.Remove(elem)
}

func (g *ReplayGuard) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Prune()
		case <-g.stopCleanup:
			return
		}
	}
}

// Prune drops every expired entry.
func (g *ReplayGuard) Prune() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	var toRemove []*list.Element
	for elem := g.lruList.Front(); elem != nil; elem = elem.Next() {
		if !now.Before(elem.Value.(*replayEntry).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		g.removeElement(elem)
	}
}

// Close stops the cleanup goroutine.
func (g *ReplayGuard) Close() {
	g.cleanupOnce.Do(func() {
		close(g.stopCleanup)
	})
}

// Once wraps h so a (username, code) pair is accepted at most once while
// remembered by guard. The code is taken from the OTP field, or the Password
// field as a fallback, matching OTP.
func Once(h Handler, guard *ReplayGuard) Handler {
	return HandlerFunc(func(ctx context.Context, username, password, code string) error {
		value := code
		if value == "" {
			value = password
		}
		if value == "" {
			return h.Authenticate(ctx, username, password, code)
		}

		key := username + "\x00" + value
		if !guard.reserve(key) {
			return ErrReplayedCode
		}
		if err := h.Authenticate(ctx, username, password, code); err != nil {
			guard.release(key)
			return err
		}
		return nil
	})
}
