package booking

import (
	"errors"
	"strings"
)

var (
	ErrNoDoctorAvailable       = errors.New("no doctor available for the requested date")
	ErrSpecialityNotFound      = errors.New("speciality not found")
	ErrNoSpecialistFound       = errors.New("no doctor registered for speciality")
	ErrUserNotFound            = errors.New("user not found")
	ErrNoDoctorFound           = errors.New("doctor not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrBookingConflict         = errors.New("selected slot was taken by a concurrent booking")
	ErrInvalidStatusTransition = errors.New("invalid appointment status transition")
	ErrDuplicate               = errors.New("record already exists")
)

// ValidationError lists every rejected input field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) add(msg string) {
	e.Fields = append(e.Fields, msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
