package service

import (
	"sync"
	"time"
)

// UnknownCodeCache remembers the most recent code that matched no account,
// for at most ttl after it was seen. Reading does not clear it.
type UnknownCodeCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	code   string
	seenAt time.Time
}

func NewUnknownCodeCache(ttl time.Duration, now func() time.Time) *UnknownCodeCache {
	if now == nil {
		now = time.Now
	}
	return &UnknownCodeCache{ttl: ttl, now: now}
}

// Record replaces the stored code and restarts its expiry.
func (c *UnknownCodeCache) Record(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
	c.seenAt = c.now()
}

// Last returns the stored code, or "" once it has expired.
func (c *UnknownCodeCache) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code == "" || !c.now().Before(c.seenAt.Add(c.ttl)) {
		return ""
	}
	return c.code
}
