package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	warnedAt time.Time
}

// UserLimiter tracks inbound event rates per user with expiration.
type UserLimiter struct {
	mu       sync.Mutex
	visitors map[domain.UserID]*visitor
	limit    rate.Limit
	burst    int
	window   time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewUserLimiter allows up to requests events per window with an additional
// burst capacity. Idle users are forgotten after ttl.
func NewUserLimiter(requests int, window time.Duration, burst int, ttl time.Duration) *UserLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &UserLimiter{
		visitors: make(map[domain.UserID]*visitor),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    burst,
		window:   window,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow reports whether the user may submit another event. When it returns
// false, warn is true at most once per window so the user is told to slow
// down without being flooded.
func (l *UserLimiter) Allow(userID domain.UserID) (ok, warn bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.getVisitorLocked(userID, now)
	l.gcLocked(now)

	if v.limiter.AllowN(now, 1) {
		return true, false
	}
	if v.warnedAt.IsZero() || now.Sub(v.warnedAt) >= l.window {
		v.warnedAt = now
		return false, true
	}
	return false, false
}

// Len returns the number of tracked users.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *UserLimiter) getVisitorLocked(userID domain.UserID, now time.Time) *visitor {
	if v, ok := l.visitors[userID]; ok {
		v.lastSeen = now
		return v
	}

	v := &visitor{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.visitors[userID] = v
	return v
}

func (l *UserLimiter) gcLocked(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, id)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *UserLimiter) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
