package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makassar(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultZone)
	require.NoError(t, err)
	return loc
}

func TestStartAndEndOfDay(t *testing.T) {
	loc := makassar(t)
	clk := &FixedClock{At: time.Date(2026, 3, 10, 14, 30, 0, 0, loc), Loc: loc}

	// A UTC instant that is already the next day in UTC+8.
	instant := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC) // 2026-03-10 04:00 local

	start := StartOfDay(clk, instant)
	end := EndOfDay(clk, instant)

	// Local midnight of March 10 is 16:00 UTC the day before.
	assert.Equal(t, time.Date(2026, 3, 9, 16, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 59, 59, 999000000, time.UTC), end)
	assert.True(t, start.Before(end))
}

func TestDaysDiffFloors(t *testing.T) {
	loc := makassar(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	clk := &FixedClock{At: now, Loc: loc}

	assert.Equal(t, 0, DaysDiff(clk, now.Add(-23*time.Hour)))
	assert.Equal(t, 1, DaysDiff(clk, now.Add(-25*time.Hour)))
	assert.Equal(t, 7, DaysDiff(clk, now.AddDate(0, 0, -7)))
	// Future timestamps never go negative.
	assert.Equal(t, 0, DaysDiff(clk, now.Add(2*time.Hour)))
}

func TestSameLocalDay(t *testing.T) {
	loc := makassar(t)
	clk := &FixedClock{At: time.Date(2026, 3, 10, 12, 0, 0, 0, loc), Loc: loc}

	a := time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC)  // 01:00 local Mar 10
	b := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) // 23:00 local Mar 10
	assert.True(t, SameLocalDay(clk, a, b))

	c := time.Date(2026, 3, 10, 16, 30, 0, 0, time.UTC) // 00:30 local Mar 11
	assert.False(t, SameLocalDay(clk, b, c))
}

func TestMonthSpan(t *testing.T) {
	loc := makassar(t)
	clk := &FixedClock{At: time.Date(2026, 2, 10, 9, 0, 0, 0, loc), Loc: loc}

	first, elapsed, total := MonthSpan(clk, clk.Now())
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), first)
	assert.Equal(t, 10, elapsed)
	assert.Equal(t, 28, total)
}

func TestNewZoneClock(t *testing.T) {
	clk, err := NewZoneClock("Asia/Jakarta")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", clk.Location().String())

	_, err = NewZoneClock("Not/AZone")
	assert.Error(t, err)
}
