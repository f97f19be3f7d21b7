package booking

import (
	"context"

	"github.com/google/uuid"
)

type SpecialityRepository interface {
	Create(ctx context.Context, s *Speciality) error
	ExistsByTitle(ctx context.Context, title string) (bool, error)
	GetByTitle(ctx context.Context, title string) (*Speciality, error)
	List(ctx context.Context) ([]*Speciality, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	// GetByID loads the doctor together with its appointments.
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// ListBySpeciality loads every doctor of the speciality with appointments.
	ListBySpeciality(ctx context.Context, specialityID uuid.UUID) ([]*Doctor, error)
	CountBySpeciality(ctx context.Context, specialityID uuid.UUID) (int, error)
	Search(ctx context.Context, specialityID *uuid.UUID, limit, offset int) ([]*Doctor, int, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	SetAppointment(ctx context.Context, userID uuid.UUID, appointmentID *uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Schedule, error)
}

// TxManager provides the serialization boundary for confirmations. fn runs
// with exclusive access to the doctor's bookings on date; repository calls
// made with the ctx passed to fn join the same transaction.
type TxManager interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, date Date, fn func(ctx context.Context) error) error
}

// Store bundles the repositories the service depends on.
type Store struct {
	Specialities SpecialityRepository
	Doctors      DoctorRepository
	Users        UserRepository
	Appointments AppointmentRepository
	Schedules    ScheduleRepository
	Tx           TxManager
}
