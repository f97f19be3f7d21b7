package booking

import (
	"sort"
	"time"
)

// Matcher ranks doctors by the earliest time they can take a one-hour
// appointment on a requested date. It holds no mutable state and may be
// shared between goroutines.
type Matcher struct {
	now Clock
	loc *time.Location
}

// NewMatcher returns a Matcher reading the current time from now, evaluated
// in loc. A nil clock means time.Now and a nil location means time.Local.
func NewMatcher(now Clock, loc *time.Location) *Matcher {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Matcher{now: now, loc: loc}
}

// Location is the time zone bookings are evaluated in.
func (m *Matcher) Location() *time.Location { return m.loc }

// Match returns every doctor able to see the patient on req.Date, ordered by
// the hour of their earliest slot. Doctors with no bookings at all come
// first among equal hours, then the rest in the order given.
func (m *Matcher) Match(doctors []*Doctor, req AvailabilityRequest) ([]*RankedDoctor, error) {
	ref := newReferenceTimes(m.now().In(m.loc))

	var free, busy []*Doctor
	for _, d := range doctors {
		if len(d.Appointments) == 0 {
			free = append(free, d)
		} else {
			busy = append(busy, d)
		}
	}

	ranked := make([]*RankedDoctor, 0, len(doctors))
	for _, d := range free {
		ranked = append(ranked, newRankedDoctor(d, req, openingSlot(d, req, ref)))
	}
	for _, d := range busy {
		if at, ok := m.nextSlot(d, req, ref); ok {
			ranked = append(ranked, newRankedDoctor(d, req, at))
		}
	}

	if len(ranked) == 0 {
		return nil, ErrNoDoctorAvailable
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BookingTime.Hour() < ranked[j].BookingTime.Hour()
	})
	return ranked, nil
}

// MatchDoctor evaluates a single doctor against req with a fresh notion of
// now. It reports false when the doctor cannot take the appointment.
func (m *Matcher) MatchDoctor(d *Doctor, req AvailabilityRequest) (*RankedDoctor, bool) {
	ranked, err := m.Match([]*Doctor{d}, req)
	if err != nil {
		return nil, false
	}
	return ranked[0], true
}

// openingSlot is the slot offered when the doctor has nothing booked on the
// requested date: the next half hour when booking for today (or an earlier
// day of the month), the doctor's entry time otherwise.
func openingSlot(d *Doctor, req AvailabilityRequest, ref referenceTimes) TimeOfDay {
	if req.Date.Day() <= ref.today.Day() {
		return ref.slot
	}
	return d.EntryTime
}

func (m *Matcher) nextSlot(d *Doctor, req AvailabilityRequest, ref referenceTimes) (TimeOfDay, bool) {
	until, ok := m.bookedUntil(d, req.Date)
	if !ok {
		return openingSlot(d, req, ref), true
	}

	switch {
	case !until.After(ref.at) && leavesBuffer(ref.at, d.ExitTime):
		return ref.slot, true
	case until.After(ref.at) && leavesBuffer(until, d.ExitTime):
		return TimeOfDayOf(until), true
	}
	return 0, false
}

// bookedUntil is the latest end of the doctor's BOOKED appointments on date.
func (m *Matcher) bookedUntil(d *Doctor, date Date) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, a := range d.Appointments {
		if a.Status != StatusBooked || !a.Date.SameDay(date) {
			continue
		}
		end := a.Date.At(a.EndTime, m.loc)
		if !found || end.After(latest) {
			latest, found = end, true
		}
	}
	return latest, found
}

// overlapsBooked reports whether a slot starting at start on date intersects
// one of the doctor's BOOKED appointments.
func overlapsBooked(d *Doctor, date Date, start TimeOfDay) bool {
	end := start.Add(AppointmentDuration)
	for _, a := range d.Appointments {
		if a.Status != StatusBooked || !a.Date.SameDay(date) {
			continue
		}
		if start < a.EndTime && a.StartTime < end {
			return true
		}
	}
	return false
}

// leavesBuffer reports whether a one-hour appointment starting at start
// still ends more than an hour before the doctor's exit hour. The check is
// hour-granular: minutes within the exit hour are ignored.
func leavesBuffer(start time.Time, exit TimeOfDay) bool {
	return start.Add(AppointmentDuration).Hour()+1 < exit.Hour()
}
