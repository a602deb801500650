// Package ratelimit throttles webhook traffic per client and caps the number
// of simultaneous calls per agent.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	// RPS and Burst configure the per-client token bucket; either <= 0
	// disables it.
	RPS   float64
	Burst int

	// MaxConcurrentCalls caps live media streams per agent; <= 0 disables it.
	MaxConcurrentCalls int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientLimiter
	agents  map[string]*callSlots
}

type clientLimiter struct {
	mu       sync.Mutex
	tb       tokenBucket
	lastSeen time.Time
}

type callSlots struct {
	sem chan struct{}
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
		agents:  make(map[string]*callSlots),
	}
}

// Enabled reports whether request throttling is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && l.cfg.RPS > 0 && l.cfg.Burst > 0
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AllowRequest takes one token from the client's bucket.
func (l *Limiter) AllowRequest(client string, now time.Time) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true}
	}
	if client == "" {
		client = "anonymous"
	}
	cl := l.client(client, now)
	ok, retryAfter := cl.allowToken(now, l.cfg.RPS, l.cfg.Burst)
	return Decision{Allowed: ok, RetryAfter: retryAfter}
}

// AcquireCall reserves a call slot for the agent. The permit must be
// released when the call ends.
func (l *Limiter) AcquireCall(agentID string) Decision {
	if l == nil || l.cfg.MaxConcurrentCalls <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	l.mu.Lock()
	slots, ok := l.agents[agentID]
	if !ok {
		slots = &callSlots{sem: make(chan struct{}, l.cfg.MaxConcurrentCalls)}
		l.agents[agentID] = slots
	}
	l.mu.Unlock()

	select {
	case slots.sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-slots.sem }}}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) client(key string, now time.Time) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// Still full: drop an arbitrary entry.
		if len(l.clients) >= l.cfg.MaxEntries {
			for k := range l.clients {
				delete(l.clients, k)
				break
			}
		}
	}

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{}
		l.clients[key] = cl
	}
	cl.lastSeen = now
	return cl
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.clients {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
			delete(l.clients, k)
		}
	}
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	capacity := float64(burst)
	if cl.tb.capacity == 0 {
		cl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(cl.tb.capacity, cl.tb.tokens+(elapsed*cl.tb.rps))
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - cl.tb.tokens
	retryAfter := int(math.Ceil(needed / cl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
