/**
 * @description
 * Reward period identifiers. A period is one ISO week, identified by the
 * sortable integer year*100+week (e.g. 202536), computed in UTC so every
 * player sees the same period boundaries.
 */

package domain

import "time"

// PeriodID returns the reward period identifier for the given instant.
func PeriodID(t time.Time) int {
	year, week := t.UTC().ISOWeek()
	return year*100 + week
}

// CurrentPeriodID returns the identifier of the period containing now.
func CurrentPeriodID() int {
	return PeriodID(time.Now())
}

// PreviousPeriodID returns the identifier of the period seven days before
// the given instant. Used by the weekly close, which always settles the
// week that just ended.
func PreviousPeriodID(t time.Time) int {
	return PeriodID(t.UTC().AddDate(0, 0, -7))
}

// PeriodBounds returns the UTC Monday on which the period starts and the
// Monday on which the next period starts.
func PeriodBounds(periodID int) (start, end time.Time) {
	year := periodID / 100
	week := periodID % 100

	// January 4th is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)

	start = week1Monday.AddDate(0, 0, (week-1)*7)
	end = start.AddDate(0, 0, 7)
	return start, end
}
