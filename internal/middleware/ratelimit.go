package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// minLimiterIdle is the shortest time an unused owner limiter is kept.
const minLimiterIdle = time.Minute

// ownerLimiters hands out one limiter per owner and forgets owners that
// stay idle for longer than a full refill of their bucket.
type ownerLimiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	items *cache.Cache
}

func newOwnerLimiters(rps float64, burst int, idle time.Duration) *ownerLimiters {
	return &ownerLimiters{
		rps:   rate.Limit(rps),
		burst: burst,
		items: cache.New(idle, 2*idle),
	}
}

// get returns the owner's limiter and extends its expiry
func (o *ownerLimiters) get(ownerID int64) *rate.Limiter {
	key := strconv.FormatInt(ownerID, 10)
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.items.Get(key)
	if !ok {
		l = rate.NewLimiter(o.rps, o.burst)
	}
	o.items.SetDefault(key, l)
	return l.(*rate.Limiter)
}

// RateLimit throttles requests per authenticated owner, falling back to one
// shared limiter for anonymous requests. rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) mux.MiddlewareFunc {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	if idle < minLimiterIdle {
		idle = minLimiterIdle
	}
	limiters := newOwnerLimiters(rps, burst, idle)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, _ := OwnerID(r.Context())
			if !limiters.get(ownerID).Allow() {
				Logger(r.Context()).Warn("Rate limit exceeded")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
