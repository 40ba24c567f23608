package catalog

import (
	"sync"
	"time"
)

// Budget enforces a daily ceiling on catalog calls. The 24 hour window is
// anchored to the first call made after the previous window expired.
type Budget struct {
	mu          sync.Mutex
	limit       int
	used        int
	windowStart time.Time
	now         func() time.Time
}

// NewBudget creates a budget allowing limit calls per rolling 24 hours.
func NewBudget(limit int, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{limit: limit, now: now}
}

const budgetWindow = 24 * time.Hour

// Reserve claims one call. It returns false, without claiming anything, when
// the window's budget is spent.
func (b *Budget) Reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.windowStart.IsZero() || !now.Before(b.windowStart.Add(budgetWindow)) {
		b.windowStart = now
		b.used = 0
	}
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining reports how many calls are left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.windowStart.IsZero() || !b.now().Before(b.windowStart.Add(budgetWindow)) {
		return b.limit
	}
	return b.limit - b.used
}

// ResetsAt reports when the current window ends. Zero if no window is open.
func (b *Budget) ResetsAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.windowStart.IsZero() {
		return time.Time{}
	}
	return b.windowStart.Add(budgetWindow)
}

// Restore reopens a window that started at windowStart with used calls
// already spent, so a restart does not hand out a fresh budget. A window
// that has already expired is ignored.
func (b *Budget) Restore(used int, windowStart time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if windowStart.IsZero() || !b.now().Before(windowStart.Add(budgetWindow)) {
		return
	}
	b.windowStart = windowStart
	b.used = min(used, b.limit)
}

// Replay rebuilds the current window from the times of calls already
// issued, oldest first. Each call at or past the end of the window it would
// fall in opens a new one, as Reserve does.
func (b *Budget) Replay(calls []time.Time) {
	var (
		start time.Time
		used  int
	)
	for _, at := range calls {
		if start.IsZero() || !at.Before(start.Add(budgetWindow)) {
			start = at
			used = 0
		}
		used++
	}
	b.Restore(used, start)
}
