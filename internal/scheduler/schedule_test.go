package scheduler

import (
	"testing"
	"time"
)

// Scenario 5 from spec.md §8: "00:00-06:00@361" at 03:00 with last=02:55.
func TestSchedulerIdempotence(t *testing.T) {
	sched, err := Parse("00:00-06:00@361")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	last := time.Date(2026, 7, 30, 2, 55, 0, 0, time.UTC)

	next, ok := sched.NextFire(now, last)
	if ok {
		minGap := last.Add(361 * time.Minute)
		if next.Before(minGap) {
			t.Errorf("next fire %v must be after last+361m (%v) or schedule must report no fire", next, minGap)
		}
	}
}

func TestScheduleOutsideWindowNeverFires(t *testing.T) {
	sched, err := Parse("00:00-06:00@10")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	if _, ok := sched.NextFire(now, time.Time{}); ok {
		t.Error("expected no fire outside window")
	}
}

func TestScheduleWeekdayRestriction(t *testing.T) {
	sched, err := Parse("mon-fri")
	if err != nil {
		t.Fatal(err)
	}
	sat := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC) // a Saturday
	if _, ok := sched.NextFire(sat, time.Time{}); ok {
		t.Error("mon-fri schedule should not fire on Saturday")
	}
	mon := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC) // following Monday
	if _, ok := sched.NextFire(mon, time.Time{}); !ok {
		t.Error("mon-fri schedule should fire on Monday")
	}
}
