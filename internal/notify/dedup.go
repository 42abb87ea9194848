package notify

import (
	"context"
	"sync"
	"time"
)

// Deduper suppresses repeat deliveries of the same transition within a time
// window. Identical changes for the same review inside the window are dropped;
// anything else passes through. The clock is injectable for tests.
type Deduper struct {
	Next   Sink
	Window time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper(next Sink, window time.Duration) *Deduper {
	return &Deduper{Next: next, Window: window, Now: time.Now}
}

func (d *Deduper) OnStateChanged(ctx context.Context, change StateChange) {
	if d.Next == nil {
		return
	}
	if d.Window <= 0 {
		d.Next.OnStateChanged(ctx, change)
		return
	}
	key := change.ReviewID + "|" + change.Previous + "|" + change.Next
	now := d.now()

	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[string]time.Time)
	}
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.Window {
		d.mu.Unlock()
		return
	}
	d.seen[key] = now
	d.prune(now)
	d.mu.Unlock()

	d.Next.OnStateChanged(ctx, change)
}

// prune drops expired entries so the map does not grow without bound.
// Caller holds d.mu.
func (d *Deduper) prune(now time.Time) {
	for key, last := range d.seen {
		if now.Sub(last) >= d.Window {
			delete(d.seen, key)
		}
	}
}

func (d *Deduper) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
