package matrix

import (
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

const limiterWindow = time.Minute

// senderLimiter caps how many prompts one sender may submit per sliding
// minute. A nil *senderLimiter allows everything.
type senderLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	seen   map[id.UserID][]time.Time
}

// newSenderLimiter returns nil when limit is not positive.
func newSenderLimiter(limit int) *senderLimiter {
	if limit <= 0 {
		return nil
	}
	return &senderLimiter{
		limit:  limit,
		window: limiterWindow,
		now:    time.Now,
		seen:   make(map[id.UserID][]time.Time),
	}
}

// allow records a prompt from sender and reports whether it fits the quota.
// Rejected prompts are not recorded.
func (l *senderLimiter) allow(sender id.UserID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.seen[sender][:0]
	for _, t := range l.seen[sender] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.seen[sender] = recent
		return false
	}
	l.seen[sender] = append(recent, now)
	return true
}

// prune forgets senders with no prompt inside the window.
func (l *senderLimiter) prune() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for sender, times := range l.seen {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.seen, sender)
		}
	}
}
