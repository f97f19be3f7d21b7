package booking

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentRejected  = "appointment.rejected"
	EventAppointmentCompleted = "appointment.completed"
)

// BookingEvent is the payload published on the appointments topic.
type BookingEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	UserID        uuid.UUID `json:"user_id"`
	Speciality    string    `json:"speciality"`
	Date          Date      `json:"date"`
	Start         TimeOfDay `json:"start"`
	End           TimeOfDay `json:"end"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newBookingEvent(a *Appointment, at time.Time) BookingEvent {
	ev := BookingEvent{
		AppointmentID: a.ID,
		Speciality:    a.Speciality,
		Date:          a.Date,
		Start:         a.StartTime,
		End:           a.EndTime,
		Status:        a.Status.String(),
		OccurredAt:    at.UTC(),
	}
	if a.DoctorID != nil {
		ev.DoctorID = *a.DoctorID
	}
	if a.UserID != nil {
		ev.UserID = *a.UserID
	}
	return ev
}
