package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppointmentDuration is the fixed length of every booked slot.
const AppointmentDuration = time.Hour

// TimeOfDay is a wall-clock time stored as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from an hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute).normalize()
}

// TimeOfDayOf drops the date, seconds and sub-second part of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS"; seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) normalize() TimeOfDay {
	m := int(t) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return TimeOfDay(m)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Add returns t+d, wrapping around midnight.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return (t + TimeOfDay(d/time.Minute)).normalize()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar day, keeping the year/month/day as
// observed in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return NewDate(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return d.t }

func (d Date) Day() int     { return d.t.Day() }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) SameDay(o Date) bool {
	return d.t.Equal(o.t)
}

// At places tod on this day in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	y, m, day := d.t.Date()
	return time.Date(y, m, day, tod.Hour(), tod.Minute(), 0, 0, loc)
}

func (d Date) String() string { return d.t.Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// AppointmentStatus is the closed set of appointment states.
type AppointmentStatus uint8

const (
	StatusUnknown AppointmentStatus = iota
	StatusBooked
	StatusCancelled
	StatusRejected
	StatusCompleted
)

var statusCodes = map[AppointmentStatus]string{
	StatusBooked:    "booked",
	StatusCancelled: "cancelled",
	StatusRejected:  "rejected",
	StatusCompleted: "completed",
}

var statusLabels = map[AppointmentStatus]string{
	StatusBooked:    "Booked",
	StatusCancelled: "Cancelled",
	StatusRejected:  "Rejected",
	StatusCompleted: "Completed",
}

// ParseStatus accepts the storage code or the display label, any case.
func ParseStatus(s string) (AppointmentStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for st, code := range statusCodes {
		if code == s {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown appointment status %q", s)
}

// String returns the storage code.
func (s AppointmentStatus) String() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return ""
}

// Label returns the human readable name shown to API clients.
func (s AppointmentStatus) Label() string {
	return statusLabels[s]
}

func (s AppointmentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AppointmentStatus) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = StatusUnknown
		return nil
	}
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case StatusBooked:
		return next == StatusCancelled || next == StatusRejected || next == StatusCompleted
	case StatusUnknown:
		return next == StatusBooked
	}
	return false
}

// Speciality maps to the speciality table.
type Speciality struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Title string    `db:"title" json:"title"`
}

// NormalizeTitle is the catalog key for a speciality name.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Doctor maps to the doctor table. Appointments is a read-only snapshot
// loaded alongside the doctor; appointments refer back by DoctorID only.
type Doctor struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	FirstName    string         `db:"first_name" json:"first_name"`
	LastName     string         `db:"last_name" json:"last_name"`
	Experience   int            `db:"experience" json:"experience"`
	SpecialityID uuid.UUID      `db:"speciality_id" json:"speciality_id"`
	EntryTime    TimeOfDay      `db:"entry_time" json:"entry_time"`
	ExitTime     TimeOfDay      `db:"exit_time" json:"exit_time"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	Appointments []*Appointment `db:"-" json:"-"`
}

func (d *Doctor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// User maps to the app_user table.
type User struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	Number        string     `db:"number" json:"number"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	Speciality  string            `db:"speciality" json:"speciality"`
	Description string            `db:"description" json:"description,omitempty"`
	PatientName string            `db:"patient_name" json:"patient_name,omitempty"`
	Date        Date              `db:"date" json:"date"`
	StartTime   TimeOfDay         `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay         `db:"end_time" json:"end_time"`
	Status      AppointmentStatus `db:"status" json:"status"`
	DoctorID    *uuid.UUID        `db:"doctor_id" json:"doctor_id,omitempty"`
	UserID      *uuid.UUID        `db:"user_id" json:"user_id,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// Schedule maps to the schedule table: the record linking a confirmed
// appointment to its doctor and user.
type Schedule struct {
	ID            uuid.UUID `db:"id" json:"id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Date          Date      `db:"date" json:"date"`
	EndTime       TimeOfDay `db:"end_time" json:"end_time"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AvailabilityRequest is a proposed appointment to match against doctors.
type AvailabilityRequest struct {
	Speciality    string     `json:"speciality"`
	Date          Date       `json:"date"`
	Description   string     `json:"description,omitempty"`
	PatientName   string     `json:"patient_name,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// RankedDoctor is one matcher result: a doctor and the time they can see
// the patient on the requested date.
type RankedDoctor struct {
	AppointmentID *uuid.UUID        `json:"appointment_id,omitempty"`
	DoctorID      uuid.UUID         `json:"doctor_id"`
	DoctorName    string            `json:"doctor_name"`
	Experience    int               `json:"experience"`
	Speciality    string            `json:"speciality"`
	BookingTime   TimeOfDay         `json:"booking_time"`
	BookedDate    Date              `json:"booked_date"`
	Status        AppointmentStatus `json:"-"`
}

func newRankedDoctor(d *Doctor, req AvailabilityRequest, at TimeOfDay) *RankedDoctor {
	return &RankedDoctor{
		DoctorID:    d.ID,
		DoctorName:  d.FullName(),
		Experience:  d.Experience,
		Speciality:  req.Speciality,
		BookingTime: at,
		BookedDate:  req.Date,
	}
}

// RegisterDoctorCommand carries the fields needed to add a doctor.
type RegisterDoctorCommand struct {
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Experience int       `json:"experience"`
	Speciality string    `json:"speciality"`
	EntryTime  TimeOfDay `json:"entry_time"`
	ExitTime   TimeOfDay `json:"exit_time"`
}

// RegisterUserCommand carries the fields needed to add a user.
type RegisterUserCommand struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Number   string `json:"number"`
	Password string `json:"password"`
}
