package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Клиент без запросов дольше limiterIdleTTL теряет свой bucket; к этому моменту
// bucket всё равно успевает наполниться до burst.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter держит по token bucket на каждый IP клиента.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  limiterIdleTTL,
		now:      time.Now,
	}
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweepLocked удаляет простаивающие bucket не чаще раза в idleTTL.
func (l *ipRateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// middleware отвечает 429, когда клиент исчерпал свой лимит.
func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP берёт адрес из RemoteAddr; X-Forwarded-For уже учтён middleware.RealIP.
func clientIP(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	if host == "" {
		return "unknown"
	}
	return host
}
