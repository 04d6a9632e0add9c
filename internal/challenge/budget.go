package challenge

import (
	"sync"
	"time"
)

// Budget tracks paid-tier spend against a daily cap. Spend resets at UTC
// calendar-day boundaries, matching the day keys the metrics store uses.
// Safe for concurrent use.
type Budget struct {
	mu    sync.Mutex
	daily float64
	spent float64
	day   string
	now   func() time.Time
}

// NewBudget returns a budget with the given daily cap and spend already
// committed today (loaded from the metrics store so restarts do not reset
// the cap).
func NewBudget(dailyCap, spentToday float64) *Budget {
	b := &Budget{daily: dailyCap, spent: spentToday, now: time.Now}
	b.day = b.now().UTC().Format("2006-01-02")
	return b
}

// Reserve commits cost against today's budget if it fits, reporting whether
// the reservation was admitted. The invariant spent <= daily holds after
// every call.
func (b *Budget) Reserve(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if b.spent+cost > b.daily {
		return false
	}
	b.spent += cost
	return true
}

// Release returns a reservation that was never spent (the service rejected
// the task before charging).
func (b *Budget) Release(cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	b.spent -= cost
	if b.spent < 0 {
		b.spent = 0
	}
}

// Spent reports today's committed spend.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	return b.spent
}

func (b *Budget) rollover() {
	today := b.now().UTC().Format("2006-01-02")
	if today != b.day {
		b.day = today
		b.spent = 0
	}
}
