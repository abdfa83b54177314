// File: internal/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds rate limiting configuration
type Config struct {
	WindowSize    time.Duration // Time window for counting attempts
	MaxAttempts   int           // Attempts allowed per window
	CleanupPeriod time.Duration // How often expired records are dropped
	BanDuration   time.Duration // How long an identifier stays banned
}

// DefaultAPIConfig limits ordinary API calls per client IP.
func DefaultAPIConfig() *Config {
	return &Config{
		WindowSize:    time.Minute,
		MaxAttempts:   120,
		CleanupPeriod: 5 * time.Minute,
		BanDuration:   time.Minute,
	}
}

// DefaultHandshakeConfig bans an IP after repeated failed websocket handshakes.
func DefaultHandshakeConfig() *Config {
	return &Config{
		WindowSize:    10 * time.Minute,
		MaxAttempts:   10,
		CleanupPeriod: 20 * time.Minute,
		BanDuration:   15 * time.Minute,
	}
}

type attemptRecord struct {
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
	BannedAt  *time.Time
}

// MemoryRateLimiter counts attempts per identifier inside a fixed window and
// bans identifiers that exceed it.
type MemoryRateLimiter struct {
	config   *Config
	attempts map[string]*attemptRecord
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryRateLimiter creates a limiter and starts its cleanup goroutine.
func NewMemoryRateLimiter(config *Config) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		config:   config,
		attempts: make(map[string]*attemptRecord),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	go limiter.cleanupLoop()

	return limiter
}

// RateLimitInfo describes the state of one identifier after a check.
type RateLimitInfo struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
	Banned     bool
}

// Allow counts a request and reports whether it may proceed.
func (rl *MemoryRateLimiter) Allow(identifier string) (bool, *RateLimitInfo) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info := rl.record(identifier, rl.now())
	return info.Allowed, info
}

// RecordFailure counts a failed attempt without asking permission first; the
// returned info reports whether the identifier is now banned.
func (rl *MemoryRateLimiter) RecordFailure(identifier string) *RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.record(identifier, rl.now())
}

// IsBanned reports an active ban without counting an attempt.
func (rl *MemoryRateLimiter) IsBanned(identifier string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, ok := rl.attempts[identifier]
	if !ok || record.BannedAt == nil {
		return false, 0
	}
	elapsed := rl.now().Sub(*record.BannedAt)
	if elapsed >= rl.config.BanDuration {
		return false, 0
	}
	return true, rl.config.BanDuration - elapsed
}

// RecordSuccess forgets previous attempts of identifier.
func (rl *MemoryRateLimiter) RecordSuccess(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.attempts, identifier)
}

// record must be called with mu held.
func (rl *MemoryRateLimiter) record(identifier string, now time.Time) *RateLimitInfo {
	record, exists := rl.attempts[identifier]
	if !exists {
		rl.attempts[identifier] = &attemptRecord{Count: 1, FirstSeen: now, LastSeen: now}
		return &RateLimitInfo{
			Allowed:   true,
			Remaining: rl.config.MaxAttempts - 1,
			ResetTime: now.Add(rl.config.WindowSize),
		}
	}

	if record.BannedAt != nil {
		if banned := now.Sub(*record.BannedAt); banned < rl.config.BanDuration {
			return &RateLimitInfo{
				ResetTime:  record.BannedAt.Add(rl.config.BanDuration),
				RetryAfter: rl.config.BanDuration - banned,
				Banned:     true,
			}
		}
	}

	if record.BannedAt != nil || now.Sub(record.FirstSeen) > rl.config.WindowSize {
		*record = attemptRecord{Count: 1, FirstSeen: now, LastSeen: now}
		return &RateLimitInfo{
			Allowed:   true,
			Remaining: rl.config.MaxAttempts - 1,
			ResetTime: now.Add(rl.config.WindowSize),
		}
	}

	record.Count++
	record.LastSeen = now

	if record.Count > rl.config.MaxAttempts {
		banTime := now
		record.BannedAt = &banTime
		return &RateLimitInfo{
			ResetTime:  now.Add(rl.config.BanDuration),
			RetryAfter: rl.config.BanDuration,
			Banned:     true,
		}
	}

	return &RateLimitInfo{
		Allowed:   true,
		Remaining: rl.config.MaxAttempts - record.Count,
		ResetTime: record.FirstSeen.Add(rl.config.WindowSize),
	}
}

func (rl *MemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for identifier, record := range rl.attempts {
		windowExpired := now.Sub(record.FirstSeen) > rl.config.WindowSize
		banExpired := record.BannedAt != nil && now.Sub(*record.BannedAt) > rl.config.BanDuration

		if (windowExpired && record.BannedAt == nil) || banExpired {
			delete(rl.attempts, identifier)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *MemoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GetClientIP extracts the client IP, preferring proxy headers.
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := parseFirstIP(forwarded); ip != "" {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func parseFirstIP(forwarded string) string {
	first, _, _ := strings.Cut(forwarded, ",")
	return strings.TrimSpace(first)
}
