package domain

import (
	"testing"
	"time"
)

func TestPeriodID(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{
			name: "mid-year week",
			at:   time.Date(2025, time.September, 3, 12, 0, 0, 0, time.UTC),
			want: 202536,
		},
		{
			name: "early january belongs to previous iso year",
			at:   time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
			want: 202653,
		},
		{
			name: "late december belongs to next iso year",
			at:   time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC),
			want: 202501,
		},
		{
			name: "non-utc input is normalized",
			at:   time.Date(2025, time.September, 1, 0, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			want: 202535,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeriodID(tt.at); got != tt.want {
				t.Fatalf("PeriodID(%s) = %d, want %d", tt.at, got, tt.want)
			}
		})
	}
}

func TestPreviousPeriodID(t *testing.T) {
	// Monday 00:05, right after the boundary: the previous period is the
	// week that just ended.
	monday := time.Date(2025, time.September, 8, 0, 5, 0, 0, time.UTC)
	if got := PreviousPeriodID(monday); got != 202536 {
		t.Fatalf("PreviousPeriodID = %d, want 202536", got)
	}

	// Year boundary: the week before 2025W01 is 2024W52.
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := PreviousPeriodID(jan); got != 202452 {
		t.Fatalf("PreviousPeriodID across years = %d, want 202452", got)
	}
}

func TestPeriodBounds(t *testing.T) {
	start, end := PeriodBounds(202536)
	if !start.Equal(time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if !end.Equal(time.Date(2025, time.September, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %s", end)
	}

	// Every instant inside the bounds maps back to the same period.
	for _, at := range []time.Time{start, start.Add(time.Second), end.Add(-time.Second)} {
		if got := PeriodID(at); got != 202536 {
			t.Fatalf("PeriodID(%s) = %d, want 202536", at, got)
		}
	}
	if PeriodID(end) == 202536 {
		t.Fatal("end bound must belong to the next period")
	}
}
