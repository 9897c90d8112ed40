package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// CancelWord aborts any dialogue when sent as a reply, case-insensitive.
const CancelWord = "cancel"

var (
	ErrTimeout    = errors.New("session: reply timed out")
	ErrCancelled  = errors.New("session: cancelled by user")
	ErrSuperseded = errors.New("session: superseded by a newer session")
)

// Key identifies one dialogue endpoint: a specific identity on a specific
// private chat. Replies are routed by this pair only, so sessions for
// different identities never see each other's messages.
type Key struct {
	UserID int64
	ChatID int64
}

// Engine routes inbound replies to suspended dialogue sessions. A session
// goroutine calls Await after sending its prompt; the bot update loop calls
// Dispatch for every non-command private message.
type Engine struct {
	mu      sync.Mutex
	waiters map[Key]chan string
}

func NewEngine() *Engine {
	return &Engine{waiters: map[Key]chan string{}}
}

// Dispatch hands text to the session waiting on key, if any. It reports
// whether a session consumed the message.
func (e *Engine) Dispatch(key Key, text string) bool {
	e.mu.Lock()
	ch, ok := e.waiters[key]
	if ok {
		delete(e.waiters, key)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	ch <- text
	return true
}

// Await suspends the calling session until the identity replies on its
// chat, the timeout passes, or the context ends. A second Await for the
// same key replaces the first, which then fails with ErrSuperseded — a
// fresh /register races only against the same identity's own replies.
// A reply equal to the cancel keyword yields ErrCancelled.
func (e *Engine) Await(ctx context.Context, key Key, timeout time.Duration) (string, error) {
	ch := make(chan string, 1)

	e.mu.Lock()
	if old, ok := e.waiters[key]; ok {
		close(old)
	}
	e.waiters[key] = ch
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case text, ok := <-ch:
		if !ok {
			return "", ErrSuperseded
		}
		text = strings.TrimSpace(text)
		if strings.EqualFold(text, CancelWord) {
			return "", ErrCancelled
		}
		return text, nil
	case <-timer.C:
		e.drop(key, ch)
		return "", ErrTimeout
	case <-ctx.Done():
		e.drop(key, ch)
		return "", ctx.Err()
	}
}

// drop unregisters ch unless it has already been superseded by a newer
// waiter for the same key.
func (e *Engine) drop(key Key, ch chan string) {
	e.mu.Lock()
	if cur, ok := e.waiters[key]; ok && cur == ch {
		delete(e.waiters, key)
	}
	e.mu.Unlock()
}
