package api

import (
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/sirupsen/logrus"
    "golang.org/x/time/rate"

    "collectroute/internal/metrics"
)

// observe logs each request and records it in the HTTP metrics, labelled by route pattern.
func observe(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
        next.ServeHTTP(ww, r)

        status := ww.Status()
        if status == 0 {
            status = http.StatusOK
        }
        pattern := r.URL.Path
        if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
            pattern = rc.RoutePattern()
        }
        dur := time.Since(start)
        code := strconv.Itoa(status)
        metrics.HTTPRequests.WithLabelValues(r.Method, pattern, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, pattern, code).Observe(dur.Seconds())

        entry := logrus.WithFields(logrus.Fields{
            "method":      r.Method,
            "path":        r.URL.Path,
            "status":      status,
            "duration_ms": dur.Milliseconds(),
            "request_id":  middleware.GetReqID(r.Context()),
        })
        if status >= 500 {
            entry.Warn("request")
        } else {
            entry.Debug("request")
        }
    })
}

// limiterIdle is how long a client bucket may go unused before it is dropped.
const limiterIdle = 5 * time.Minute

// ipLimiter keeps one token bucket per client address. Buckets idle for longer than
// limiterIdle are swept at most once per limiterIdle, on the request path.
type ipLimiter struct {
    rps   rate.Limit
    burst int
    now   func() time.Time

    mu    sync.Mutex
    m     map[string]*clientBucket
    swept time.Time
}

type clientBucket struct {
    lim  *rate.Limiter
    seen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
    if rps <= 0 {
        return nil
    }
    if burst <= 0 {
        burst = int(rps) + 1
    }
    return &ipLimiter{rps: rate.Limit(rps), burst: burst, now: time.Now, m: map[string]*clientBucket{}}
}

func (l *ipLimiter) allow(key string) bool {
    now := l.now()
    l.mu.Lock()
    if now.Sub(l.swept) >= limiterIdle {
        for k, b := range l.m {
            if now.Sub(b.seen) >= limiterIdle {
                delete(l.m, k)
            }
        }
        l.swept = now
    }
    b, ok := l.m[key]
    if !ok {
        b = &clientBucket{lim: rate.NewLimiter(l.rps, l.burst)}
        l.m[key] = b
    }
    b.seen = now
    l.mu.Unlock()
    return b.lim.AllowN(now, 1)
}

func (l *ipLimiter) size() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.m)
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
    if l == nil {
        return next
    }
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        host, _, err := net.SplitHostPort(r.RemoteAddr)
        if err != nil {
            host = r.RemoteAddr
        }
        if !l.allow(host) {
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
