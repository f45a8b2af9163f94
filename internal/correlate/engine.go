// Package correlate matches inbound messages against outstanding
// wait-for-reply requests. Waiters are keyed by chat address, plus one
// reserved wildcard key meaning "whatever chat was last sent to".
package correlate

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WildcardKey is the reserved key for a waiter bound to the most recent
// send target rather than a fixed chat address.
const WildcardKey = "*"

// ErrAlreadyWaiting is returned when a wait is registered on a key that
// already has a live waiter. The first waiter is never silently replaced.
var ErrAlreadyWaiting = fmt.Errorf("a reply wait is already registered for this key")

// TimeoutError reports a wait whose deadline elapsed with no matching reply.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply within %s", e.Elapsed.Round(time.Millisecond))
}

// Outcome is the settlement of a waiter: reply text, or a timeout error.
type Outcome struct {
	Text string
	Err  error
}

type waiter struct {
	key       string
	chat      string
	createdAt time.Time
	timer     *time.Timer
	ch        chan Outcome
}

// Engine holds the outstanding waiters and the last-sent chat pointer.
// Every settlement path removes the waiter from the map under the lock
// before delivering the outcome, so a waiter settles exactly once no matter
// how a matching offer races its deadline.
type Engine struct {
	mu       sync.Mutex
	waiters  map[string]*waiter
	lastSent string
	logger   *zap.Logger
}

// NewEngine creates an empty correlation engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		waiters: make(map[string]*waiter),
		logger:  logger,
	}
}

// NoteSend records chat as the most recent send target. Wildcard waiters
// match only replies arriving from this chat.
func (e *Engine) NoteSend(chat string) {
	e.mu.Lock()
	e.lastSent = chat
	e.mu.Unlock()
}

// LastSent returns the most recent send target, or "" if nothing was sent.
func (e *Engine) LastSent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSent
}

// RegisterWait registers a waiter under key, targeting chat (ignored for
// the wildcard key), with the given timeout. The returned channel delivers
// exactly one Outcome: the matched reply text, or a TimeoutError.
// Fails with ErrAlreadyWaiting if key already has a live waiter.
func (e *Engine) RegisterWait(key, chat string, timeout time.Duration) (<-chan Outcome, error) {
	w := &waiter{
		key:       key,
		chat:      chat,
		createdAt: time.Now(),
		ch:        make(chan Outcome, 1),
	}

	e.mu.Lock()
	if _, exists := e.waiters[key]; exists {
		e.mu.Unlock()
		return nil, ErrAlreadyWaiting
	}
	e.waiters[key] = w
	w.timer = time.AfterFunc(timeout, func() { e.expire(key, w) })
	e.mu.Unlock()

	e.logger.Debug("wait registered",
		zap.String("key", key),
		zap.Duration("timeout", timeout),
	)
	return w.ch, nil
}

// Offer presents an inbound message to the engine. It matches a waiter
// keyed exactly to chat first, and falls back to the wildcard waiter when
// chat is the most recent send target. On a match the waiter is settled with text
// and Offer returns true. An unmatched offer returns false; that is not an
// error, the message simply stays in history.
func (e *Engine) Offer(chat, text string) bool {
	e.mu.Lock()
	w, ok := e.waiters[chat]
	if !ok && chat == e.lastSent {
		w, ok = e.waiters[WildcardKey]
	}
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.waiters, w.key)
	w.timer.Stop()
	e.mu.Unlock()

	w.ch <- Outcome{Text: text}
	e.logger.Debug("reply matched",
		zap.String("key", w.key),
		zap.String("chat", chat),
	)
	return true
}

// Cancel removes the waiter under key without settling it. Used when the
// caller abandons the wait (context cancellation, failed send).
func (e *Engine) Cancel(key string) {
	e.mu.Lock()
	w, ok := e.waiters[key]
	if ok {
		delete(e.waiters, key)
		w.timer.Stop()
	}
	e.mu.Unlock()
}

// Pending returns the number of live waiters.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

// expire settles a waiter with a timeout. The identity check guards against
// a stale timer firing after the key was cancelled and re-registered.
func (e *Engine) expire(key string, w *waiter) {
	e.mu.Lock()
	current, ok := e.waiters[key]
	if !ok || current != w {
		e.mu.Unlock()
		return
	}
	delete(e.waiters, key)
	e.mu.Unlock()

	elapsed := time.Since(w.createdAt)
	w.ch <- Outcome{Err: &TimeoutError{Elapsed: elapsed}}
	e.logger.Debug("wait timed out",
		zap.String("key", key),
		zap.Duration("elapsed", elapsed),
	)
}
