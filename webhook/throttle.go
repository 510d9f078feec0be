package webhook

import (
	"sync"
	"time"
)

// Throttle admits one event per key per interval. Entries expire after
// the interval and are pruned periodically.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	last     sync.Map // key (string) -> time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewThrottle creates a Throttle and starts its cleanup goroutine.
func NewThrottle(interval time.Duration) *Throttle {
	t := &Throttle{
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if interval > 0 {
		go t.cleanupLoop()
	}
	return t
}

// Allow reports whether an event for key may be sent now, and if so
// starts a new interval for it.
func (t *Throttle) Allow(key string) bool {
	if t.interval <= 0 {
		return true
	}
	now := t.now()
	for {
		prev, loaded := t.last.LoadOrStore(key, now)
		if !loaded {
			return true
		}
		if now.Sub(prev.(time.Time)) < t.interval {
			return false
		}
		if t.last.CompareAndSwap(key, prev, now) {
			return true
		}
	}
}

// Stop terminates the cleanup goroutine.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			now := t.now()
			t.last.Range(func(key, value any) bool {
				if now.Sub(value.(time.Time)) >= t.interval {
					t.last.Delete(key)
				}
				return true
			})
		}
	}
}
