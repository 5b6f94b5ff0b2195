package capture

import (
	"sync"
	"time"
)

// logLimiter allows at most limit events per window and counts the rest, so a
// failing device logs a few warnings per window instead of one per retry.
type logLimiter struct {
	mu          sync.Mutex
	windowStart time.Time
	window      time.Duration
	limit       int
	count       int
	suppressed  uint64
}

func newLogLimiter(limit int, window time.Duration) *logLimiter {
	return &logLimiter{window: window, limit: limit}
}

// Allow reports whether an event at now may be logged. When it may, it also
// returns how many events were suppressed since the last allowed one.
func (l *logLimiter) Allow(now time.Time) (bool, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	if l.count > l.limit {
		l.suppressed++
		return false, 0
	}
	skipped := l.suppressed
	l.suppressed = 0
	return true, skipped
}
