package mqtt

import (
	"sync"
	"time"
)

// DailyTurns counts turns since local midnight. The publisher feeds it
// the growth of the running turn total between publishes.
type DailyTurns struct {
	mu       sync.Mutex
	count    int64
	lastSeen int64
	primed   bool
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTurns creates a counter using loc for midnight. A nil loc
// means [time.Local].
func NewDailyTurns(loc *time.Location) *DailyTurns {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTurns{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe records the current running total and returns today's
// count. The first observation only sets the baseline.
func (d *DailyTurns) Observe(total int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	if d.primed && total > d.lastSeen {
		d.count += total - d.lastSeen
	}
	d.lastSeen = total
	d.primed = true
	return d.count
}

// Today returns the count without observing.
func (d *DailyTurns) Today() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.count
}

// maybeReset must be called with d.mu held.
func (d *DailyTurns) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.count = 0
		d.resetDay = today
	}
}
