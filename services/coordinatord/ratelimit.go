package coordinatord

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// playerLimiter bounds guess submissions per player address.
type playerLimiter struct {
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration
	clockNow  func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newPlayerLimiter(cfg RateLimitConfig) *playerLimiter {
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &playerLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   visitorIdleTTL,
		clockNow:  time.Now,
		visitors:  make(map[string]*visitor),
	}
}

// Allow reports whether the player may submit another guess right now.
func (l *playerLimiter) Allow(player string) bool {
	return l.obtain(strings.ToLower(strings.TrimSpace(player))).Allow()
}

func (l *playerLimiter) obtain(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.visitors[id]
	if ok {
		entry.lastSeen = l.clockNow()
		return entry.limiter
	}
	entry = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst), lastSeen: l.clockNow()}
	l.visitors[id] = entry
	go l.cleanup(id)
	return entry.limiter
}

func (l *playerLimiter) cleanup(id string) {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for range ticker.C {
		if l.evictIdle(id) {
			return
		}
	}
}

// evictIdle removes the visitor once a full TTL has passed without activity.
// An active player keeps its limiter, and with it any drained burst budget.
// It reports whether the cleanup loop may stop.
func (l *playerLimiter) evictIdle(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.visitors[id]
	if !ok {
		return true
	}
	if l.clockNow().Sub(entry.lastSeen) < l.idleTTL {
		return false
	}
	delete(l.visitors, id)
	return true
}
