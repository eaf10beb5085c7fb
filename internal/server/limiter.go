package server

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// joinLimiter throttles CONN_REQUEST datagrams per source IP. Ports are
// ignored so rotating the source port does not earn a fresh bucket.
type joinLimiter struct {
	mu       sync.Mutex
	limiters map[netip.Addr]*addrLimiter
	limit    rate.Limit
	burst    int
}

type addrLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newJoinLimiter(perSecond float64, burst int) *joinLimiter {
	return &joinLimiter{
		limiters: make(map[netip.Addr]*addrLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether the IP of from may attempt another join at now
func (l *joinLimiter) Allow(from netip.AddrPort, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ip := from.Addr().Unmap()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &addrLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Prune forgets IPs that have not tried to join since before cutoff
func (l *joinLimiter) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs
func (l *joinLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
