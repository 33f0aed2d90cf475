package clock

import (
	"fmt"
	"time"
)

// Zone-pinned clock.
//
// All day-boundary math runs in the configured operating timezone
// (default Asia/Makassar, UTC+8). Database-side filters always use the
// UTC instants of those boundaries, so a "day" is the zone-local
// [00:00:00.000, 23:59:59.999] window converted to UTC.

const DefaultZone = "Asia/Makassar"

// Clock is the engine's time port. Detectors and the scheduler never
// call time.Now directly; tests substitute a frozen clock.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ZoneClock yields wall time anchored in a fixed IANA zone.
type ZoneClock struct {
	loc *time.Location
}

func NewZoneClock(zone string) (*ZoneClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", zone, err)
	}
	return &ZoneClock{loc: loc}, nil
}

func (c *ZoneClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *ZoneClock) Location() *time.Location { return c.loc }

// FixedClock returns a constant instant. Test-only substitute.
type FixedClock struct {
	At  time.Time
	Loc *time.Location
}

func (c *FixedClock) Now() time.Time           { return c.At.In(c.Loc) }
func (c *FixedClock) Location() *time.Location { return c.Loc }

// StartOfDay is 00:00:00.000 of d's calendar day in the clock zone,
// returned as a UTC instant.
func StartOfDay(c Clock, d time.Time) time.Time {
	local := d.In(c.Location())
	y, m, day := local.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, c.Location()).UTC()
}

// EndOfDay is 23:59:59.999 of d's calendar day in the clock zone,
// returned as a UTC instant.
func EndOfDay(c Clock, d time.Time) time.Time {
	local := d.In(c.Location())
	y, m, day := local.Date()
	return time.Date(y, m, day, 23, 59, 59, 999000000, c.Location()).UTC()
}

// DaysDiff is floor((now − ts) / 24h) measured in the clock zone. The
// edit-permission matrix keys off this value.
func DaysDiff(c Clock, ts time.Time) int {
	diff := c.Now().Sub(ts.In(c.Location()))
	if diff < 0 {
		return 0
	}
	return int(diff / (24 * time.Hour))
}

// SameLocalDay reports whether two instants fall on the same calendar
// day in the clock zone.
func SameLocalDay(c Clock, a, b time.Time) bool {
	al, bl := a.In(c.Location()), b.In(c.Location())
	ay, am, ad := al.Date()
	by, bm, bd := bl.Date()
	return ay == by && am == bm && ad == bd
}

// MonthSpan returns the first day, days elapsed so far (1-based, counts
// today), and total days of the month containing now.
func MonthSpan(c Clock, now time.Time) (first time.Time, elapsed, total int) {
	local := now.In(c.Location())
	y, m, d := local.Date()
	first = time.Date(y, m, 1, 0, 0, 0, 0, c.Location())
	total = first.AddDate(0, 1, -1).Day()
	return first, d, total
}
