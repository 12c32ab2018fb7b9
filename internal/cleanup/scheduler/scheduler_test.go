package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireTimeIntervalAddsDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := nextFireTime("interval", "5000", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Second), next)
}

func TestNextFireTimeIntervalRejectsNonPositive(t *testing.T) {
	_, err := nextFireTime("interval", "0", time.Now())
	assert.Error(t, err)
	_, err = nextFireTime("interval", "not-a-number", time.Now())
	assert.Error(t, err)
}

func TestNextFireTimeDailyRollsToTomorrowWhenTimePassed(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := nextFireTime("daily", "09:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNextFireTimeDailyStaysTodayWhenTimeHasNotPassed(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, err := nextFireTime("daily", "09:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestNextFireTimeWeeklyFindsNextMatchingWeekday(t *testing.T) {
	// 2026-01-01 is a Thursday.
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, err := nextFireTime("weekly", "mon:09:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.True(t, next.After(now))
}

func TestNextFireTimeWeeklyRejectsUnknownDay(t *testing.T) {
	_, err := nextFireTime("weekly", "funday:09:00", time.Now())
	assert.Error(t, err)
}

func TestNextFireTimeMonthlyRollsToNextMonthWhenDayPassed(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	next, err := nextFireTime("monthly", "1:09:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestNextFireTimeMonthlyRejectsInvalidDayOfMonth(t *testing.T) {
	_, err := nextFireTime("monthly", "32:09:00", time.Now())
	assert.Error(t, err)
}

func TestNextFireTimeRejectsUnsupportedType(t *testing.T) {
	_, err := nextFireTime("fortnightly", "1", time.Now())
	assert.Error(t, err)
}

func TestParseHHMMRejectsOutOfRangeValues(t *testing.T) {
	_, _, err := parseHHMM("24:00")
	assert.Error(t, err)
	_, _, err = parseHHMM("10:60")
	assert.Error(t, err)
	hh, mm, err := parseHHMM("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hh)
	assert.Equal(t, 30, mm)
}
