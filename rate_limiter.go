package wsengine

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter limits the number of complete inbound messages per connection
// with a token bucket. One RateLimiter is shared by every Conn built from the
// same Options.
type RateLimiter struct {
	clients map[*Conn]*rate.Limiter
	mu      sync.RWMutex
	// Number of message allowed per second
	mps rate.Limit
	// Number of bursts allowed
	burst int
	// Called when the peer exceeds the limit. The message is dropped either way.
	// Important: if you close the connection you must return a non-nil error.
	OnRateLimitHit func(conn *Conn) error
}

func NewRateLimiter(mps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[*Conn]*rate.Limiter),
		mps:     rate.Limit(mps),
		burst:   burst,
	}
}

func (rl *RateLimiter) getLimiter(c *Conn) *rate.Limiter {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.clients[c]
}

func (rl *RateLimiter) addClient(c *Conn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.clients[c] = rate.NewLimiter(rl.mps, rl.burst)
}

func (rl *RateLimiter) removeClient(c *Conn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, c)
}

// Len is the number of connections currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

func (rl *RateLimiter) allow(c *Conn) bool {
	l := rl.getLimiter(c)
	if l == nil {
		return true
	}

	return l.Allow()
}

func (rl *RateLimiter) hit(c *Conn) error {
	if rl.OnRateLimitHit == nil {
		return nil
	}
	return rl.OnRateLimitHit(c)
}
