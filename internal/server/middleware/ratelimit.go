package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iudanet/offsync/internal/server/handlers"
)

// RateLimiter ограничивает число запросов на ключ в фиксированном окне
type RateLimiter struct {
	now      func() time.Time
	windows  map[string]*window
	logger   *slog.Logger
	cleanupC chan struct{}
	rate     int
	period   time.Duration
	mu       sync.Mutex
	stopOnce sync.Once
}

// window счётчик запросов одного ключа
type window struct {
	start time.Time
	count int
}

// NewRateLimiter создает limiter на rate запросов за period.
// Stop must be called to release the cleanup goroutine.
func NewRateLimiter(rate int, period time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		now:      time.Now,
		windows:  make(map[string]*window),
		logger:   logger,
		cleanupC: make(chan struct{}),
		rate:     rate,
		period:   period,
	}

	go rl.cleanup()

	return rl
}

// cleanup периодически удаляет устаревшие окна
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.period * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropExpired()
		case <-rl.cleanupC:
			return
		}
	}
}

func (rl *RateLimiter) dropExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.period {
			delete(rl.windows, key)
		}
	}
}

// Stop останавливает cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.cleanupC) })
}

// Allow проверяет, разрешен ли запрос для ключа.
// При отказе возвращает время до начала следующего окна.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.period {
		w = &window{start: now}
		rl.windows[key] = w
	}

	if w.count >= rl.rate {
		return false, w.start.Add(rl.period).Sub(now)
	}
	w.count++
	return true, 0
}

// Middleware ограничивает запросы по tenant из токена, без токена по IP клиента
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := handlers.GetTenantID(r.Context())
		if !ok {
			key = clientIP(r)
		}

		allowed, retryAfter := rl.Allow(key)
		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				"key", key,
				"method", r.Method,
				"path", r.URL.Path,
			)

			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			handlers.WriteError(w, rl.logger, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP извлекает IP адрес клиента с учётом прокси
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
