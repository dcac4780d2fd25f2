// Package ratelimit throttles requests per (client, operation) pair.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy allows Limit requests per Window. A zero Limit means unlimited.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) unlimited() bool {
	return p.Limit <= 0 || p.Window <= 0
}

type key struct {
	client    string
	operation string
}

// clientLimiter holds one fixed window. The bucket has Limit tokens and a
// zero refill rate; it is replaced when the window rolls over.
type clientLimiter struct {
	limiter     *rate.Limiter
	windowStart time.Time
	attempts    int
	lastSeen    time.Time
}

type Limiter struct {
	mu       sync.Mutex
	policies map[string]Policy
	fallback Policy
	clients  map[key]*clientLimiter
	now      func() time.Time
	idleTTL  time.Duration
}

// New builds a limiter. Operations without an entry in policies use
// fallback.
func New(policies map[string]Policy, fallback Policy) *Limiter {
	p := make(map[string]Policy, len(policies))
	for op, policy := range policies {
		p[op] = policy
	}
	return &Limiter{
		policies: p,
		fallback: fallback,
		clients:  make(map[key]*clientLimiter),
		now:      time.Now,
		idleTTL:  10 * time.Minute,
	}
}

// SetClock replaces the time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Limiter) Policy(operation string) Policy {
	if p, ok := l.policies[operation]; ok {
		return p
	}
	return l.fallback
}

// Allow records an attempt and reports whether it fits the operation's
// policy. At most Limit attempts pass per Window, counted from the first
// attempt of the window; denied attempts are recorded too.
func (l *Limiter) Allow(client, operation string) (bool, Policy) {
	policy := l.Policy(operation)
	if policy.unlimited() {
		return true, policy
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{client: client, operation: operation}
	entry, exists := l.clients[k]
	if !exists || now.Sub(entry.windowStart) >= policy.Window {
		entry = &clientLimiter{
			limiter:     rate.NewLimiter(0, policy.Limit),
			windowStart: now,
		}
		l.clients[k] = entry
	}
	entry.lastSeen = now
	entry.attempts++

	return entry.limiter.AllowN(now, 1), policy
}

// Attempts reports how many attempts client made for operation in the
// current window, allowed or not.
func (l *Limiter) Attempts(client, operation string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[key{client: client, operation: operation}]
	if !ok || l.now().Sub(entry.windowStart) >= l.Policy(operation).Window {
		return 0
	}
	return entry.attempts
}

// Cleanup drops limiters that have been idle longer than the idle TTL and
// returns how many were removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, client := range l.clients {
		if now.Sub(client.lastSeen) > l.idleTTL {
			delete(l.clients, k)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
