package booking

import "time"

// Clock supplies the current instant. Tests pin it; production uses time.Now.
type Clock func() time.Time

// referenceTimes are the two notions of "now" the matcher compares against.
type referenceTimes struct {
	// slot is the earliest bookable half-hour mark today.
	slot TimeOfDay
	// at is the current date-time truncated to whole minutes.
	at    time.Time
	today Date
}

func newReferenceTimes(now time.Time) referenceTimes {
	return referenceTimes{
		slot:  currentSlotTime(now),
		at:    truncateToMinute(now),
		today: NewDate(now),
	}
}

// currentSlotTime rounds now forward: from :30 onwards to the next hour on
// the hour, otherwise to the :30 mark of the current hour.
func currentSlotTime(now time.Time) TimeOfDay {
	if now.Minute() >= 30 {
		return NewTimeOfDay(now.Hour()+1, 0)
	}
	return NewTimeOfDay(now.Hour(), 30)
}

func truncateToMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}
