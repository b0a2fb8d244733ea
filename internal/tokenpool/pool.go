// internal/tokenpool/pool.go
package tokenpool

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultWaitMargin = time.Second

type entry struct {
	token         string
	cooldownUntil time.Time
}

// Pool rotates API credentials round-robin and parks rate-limited ones until their cooldown expires.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	byToken map[string]*entry

	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	margin time.Duration
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces the wall clock. Tests use it to simulate time.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithTimer replaces time.After used while waiting for a cooldown to expire.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(p *Pool) { p.after = after }
}

// WithWaitMargin sets the extra delay added to the earliest cooldown when every credential is parked.
func WithWaitMargin(d time.Duration) Option {
	return func(p *Pool) { p.margin = d }
}

// New builds a pool. Blank tokens are dropped and duplicates collapsed, keeping first-seen order.
func New(tokens []string, opts ...Option) *Pool {
	p := &Pool{
		byToken: make(map[string]*entry, len(tokens)),
		now:     time.Now,
		after:   time.After,
		margin:  defaultWaitMargin,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := p.byToken[t]; dup {
			continue
		}
		e := &entry{token: t}
		p.entries = append(p.entries, e)
		p.byToken[t] = e
	}
	return p
}

// Len returns the number of distinct credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Available returns how many credentials are usable right now.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, e := range p.entries {
		if !e.cooldownUntil.After(now) {
			n++
		}
	}
	return n
}

// TryAcquire returns the next usable credential without waiting.
// When every credential is cooling down it returns false and the earliest cooldown expiry.
// An empty pool yields "" (anonymous access) and true.
func (p *Pool) TryAcquire() (string, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return "", time.Time{}, true
	}

	now := p.now()
	var earliest time.Time
	for i, e := range p.entries {
		if !e.cooldownUntil.After(now) {
			// rotate the chosen credential to the back
			copy(p.entries[i:], p.entries[i+1:])
			p.entries[len(p.entries)-1] = e
			return e.token, time.Time{}, true
		}
		if earliest.IsZero() || e.cooldownUntil.Before(earliest) {
			earliest = e.cooldownUntil
		}
	}
	return "", earliest, false
}

// Acquire returns the next usable credential, waiting for the earliest cooldown to expire
// when all of them are parked. The lock is never held while waiting.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token, earliest, ok := p.TryAcquire()
		if ok {
			return token, nil
		}
		wait := earliest.Sub(p.now()) + p.margin
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.after(wait):
		}
	}
}

// Penalize parks token until now+d. An existing later cooldown is kept.
func (p *Pool) Penalize(token string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byToken[token]
	if !ok {
		return
	}
	until := p.now().Add(d)
	if until.After(e.cooldownUntil) {
		e.cooldownUntil = until
	}
}

// Reset clears the cooldown of token after a successful call.
func (p *Pool) Reset(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byToken[token]; ok {
		e.cooldownUntil = time.Time{}
	}
}

// CooldownUntil reports when token becomes usable again. Zero means it is usable now.
func (p *Pool) CooldownUntil(token string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byToken[token]; ok {
		return e.cooldownUntil
	}
	return time.Time{}
}
