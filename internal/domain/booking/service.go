package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicbook/clinicbook/internal/platform/events"
	"github.com/clinicbook/clinicbook/internal/platform/metrics"
)

// maxConfirmAttempts bounds how often a confirmation re-matches after the
// chosen slot was taken between matching and commit.
const maxConfirmAttempts = 3

// errSlotTaken signals that the doctor's bookings changed under the lock.
var errSlotTaken = errors.New("slot no longer available")

type Service struct {
	store      Store
	matcher    *Matcher
	logger     zerolog.Logger
	publisher  events.Publisher
	metrics    *metrics.Collector
	tracer     trace.Tracer
	bcryptCost int
}

type Option func(*Service)

// WithPublisher sets where booking lifecycle events go. Without it events
// are dropped.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithBcryptCost overrides the password hashing cost. Tests use
// bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(store Store, matcher *Matcher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		matcher:    matcher,
		logger:     logger.With().Str("component", "booking").Logger(),
		tracer:     otel.Tracer("github.com/clinicbook/clinicbook/internal/domain/booking"),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// outcome maps an operation result onto a metric label.
func outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrNoDoctorAvailable):
		return "no_doctor_available"
	case errors.Is(err, ErrSpecialityNotFound):
		return "speciality_not_found"
	case errors.Is(err, ErrNoSpecialistFound):
		return "no_specialist_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNoDoctorFound):
		return "doctor_not_found"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrBookingConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_transition"
	}
	return "error"
}

func validateRequest(req AvailabilityRequest) error {
	verr := &ValidationError{}
	if strings.TrimSpace(req.Speciality) == "" {
		verr.add("speciality is required")
	}
	if req.Date.IsZero() {
		verr.add("date is required")
	}
	return verr.orNil()
}

// specialists resolves the speciality title and confirms at least one doctor
// practises it.
func (s *Service) specialists(ctx context.Context, title string) (*Speciality, error) {
	exists, err := s.store.Specialities.ExistsByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("check speciality: %w", err)
	}
	if !exists {
		return nil, ErrSpecialityNotFound
	}
	spec, err := s.store.Specialities.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	n, err := s.store.Doctors.CountBySpeciality(ctx, spec.ID)
	if err != nil {
		return nil, fmt.Errorf("count doctors: %w", err)
	}
	if n == 0 {
		return nil, ErrNoSpecialistFound
	}
	return spec, nil
}

func (s *Service) match(ctx context.Context, specialityID uuid.UUID, req AvailabilityRequest) ([]*RankedDoctor, error) {
	doctors, err := s.store.Doctors.ListBySpeciality(ctx, specialityID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	ranked, err := s.matcher.Match(doctors, req)
	s.metrics.ObserveCandidates(len(ranked))
	return ranked, err
}

// Availability returns every doctor able to take req, earliest first,
// without booking anything.
func (s *Service) Availability(ctx context.Context, req AvailabilityRequest) (ranked []*RankedDoctor, err error) {
	ctx, span := s.startSpan(ctx, "Availability", attribute.String("speciality", req.Speciality))
	defer func() {
		s.metrics.BookingOutcome("availability", outcome(err))
		endSpan(span, err)
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	spec, err := s.specialists(ctx, req.Speciality)
	if err != nil {
		return nil, err
	}
	return s.match(ctx, spec.ID, req)
}

// ConfirmBooking books the earliest available doctor for req on behalf of
// userID and returns the booked candidate carrying the new appointment id.
func (s *Service) ConfirmBooking(ctx context.Context, req AvailabilityRequest, userID uuid.UUID) (booked *RankedDoctor, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmBooking",
		attribute.String("speciality", req.Speciality),
		attribute.String("user_id", userID.String()),
	)
	defer func() {
		s.metrics.BookingOutcome("confirm", outcome(err))
		endSpan(span, err)
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	spec, err := s.specialists(ctx, req.Speciality)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	req.Speciality = spec.Title

	for attempt := 1; attempt <= maxConfirmAttempts; attempt++ {
		ranked, err := s.match(ctx, spec.ID, req)
		if err != nil {
			return nil, err
		}

		for _, chosen := range ranked {
			appt, err := s.commit(ctx, chosen, req, userID)
			if errors.Is(err, errSlotTaken) {
				s.metrics.ConfirmRetried()
				s.logger.Warn().
					Str("doctor_id", chosen.DoctorID.String()).
					Str("date", req.Date.String()).
					Int("attempt", attempt).
					Msg("slot taken, trying next candidate")
				continue
			}
			if err != nil {
				return nil, err
			}

			chosen.AppointmentID = &appt.ID
			chosen.Status = StatusBooked
			s.logger.Info().
				Str("appointment_id", appt.ID.String()).
				Str("doctor_id", chosen.DoctorID.String()).
				Str("user_id", userID.String()).
				Str("date", appt.Date.String()).
				Str("start", appt.StartTime.String()).
				Msg("appointment booked")
			s.publish(ctx, EventAppointmentBooked, appt)
			return chosen, nil
		}
	}
	return nil, ErrBookingConflict
}

// commit persists the booking for chosen while holding the doctor's lock for
// the date. The doctor is reloaded and re-matched first so a slot taken since
// matching is detected, and the slot must not overlap any BOOKED appointment
// the doctor already holds that day.
func (s *Service) commit(ctx context.Context, chosen *RankedDoctor, req AvailabilityRequest, userID uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.store.Tx.WithDoctorLock(ctx, chosen.DoctorID, req.Date, func(ctx context.Context) error {
		doctor, err := s.store.Doctors.GetByID(ctx, chosen.DoctorID)
		if err != nil {
			return err
		}
		fresh, ok := s.matcher.MatchDoctor(doctor, req)
		if !ok || fresh.BookingTime != chosen.BookingTime {
			return errSlotTaken
		}
		if overlapsBooked(doctor, chosen.BookedDate, chosen.BookingTime) {
			return errSlotTaken
		}

		doctorID, uid := doctor.ID, userID
		appt = &Appointment{
			Speciality:  req.Speciality,
			Description: req.Description,
			PatientName: req.PatientName,
			Date:        chosen.BookedDate,
			StartTime:   chosen.BookingTime,
			EndTime:     chosen.BookingTime.Add(AppointmentDuration),
			Status:      StatusBooked,
			DoctorID:    &doctorID,
			UserID:      &uid,
		}
		if err := s.store.Appointments.Create(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := s.store.Users.SetAppointment(ctx, userID, &appt.ID); err != nil {
			return fmt.Errorf("attach appointment to user: %w", err)
		}
		sched := &Schedule{
			DoctorID:      doctorID,
			UserID:        userID,
			AppointmentID: appt.ID,
			Date:          appt.Date,
			EndTime:       appt.EndTime,
		}
		if err := s.store.Schedules.Create(ctx, sched); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// Rebook offers alternatives for a previous appointment of userID that is no
// longer booked: the matcher is run again for its speciality and date, and
// the doctor who held it is left out. The returned list may be empty.
func (s *Service) Rebook(ctx context.Context, appointmentID, userID uuid.UUID) (ranked []*RankedDoctor, err error) {
	ctx, span := s.startSpan(ctx, "Rebook", attribute.String("appointment_id", appointmentID.String()))
	defer func() {
		s.metrics.BookingOutcome("rebook", outcome(err))
		endSpan(span, err)
	}()

	prev, err := s.store.Appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	if !ownedBy(prev, userID) {
		return nil, ErrAppointmentNotFound
	}
	if prev.Status == StatusBooked {
		return nil, fmt.Errorf("appointment %s is still booked: %w", prev.ID, ErrInvalidStatusTransition)
	}
	spec, err := s.store.Specialities.GetByTitle(ctx, prev.Speciality)
	if err != nil {
		return nil, err
	}

	req := AvailabilityRequest{
		Speciality:    spec.Title,
		Date:          prev.Date,
		Description:   prev.Description,
		PatientName:   prev.PatientName,
		AppointmentID: &prev.ID,
	}
	all, err := s.match(ctx, spec.ID, req)
	if err != nil {
		return nil, err
	}

	ranked = make([]*RankedDoctor, 0, len(all))
	for _, r := range all {
		if prev.DoctorID != nil && r.DoctorID == *prev.DoctorID {
			continue
		}
		id := prev.ID
		r.AppointmentID = &id
		ranked = append(ranked, r)
	}
	return ranked, nil
}

// CancelAppointment marks a booked appointment of userID cancelled and
// detaches it from the user. Appointments of other users are reported as
// not found.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, userID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, "cancel", appointmentID, userID, true, StatusCancelled, EventAppointmentCancelled)
}

// RejectAppointment marks a booked appointment rejected, which makes the
// patient eligible for Rebook. actorID is the physician acting on it.
func (s *Service) RejectAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, "reject", appointmentID, actorID, false, StatusRejected, EventAppointmentRejected)
}

// CompleteAppointment closes a booked appointment once the visit happened.
func (s *Service) CompleteAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, "complete", appointmentID, actorID, false, StatusCompleted, EventAppointmentCompleted)
}

func ownedBy(a *Appointment, userID uuid.UUID) bool {
	return a.UserID != nil && *a.UserID == userID
}

// transition moves an appointment to next under the doctor lock and clears
// the owner's current-appointment reference. With ownerOnly set, userID
// must be a known user holding the appointment.
func (s *Service) transition(ctx context.Context, op string, appointmentID, userID uuid.UUID, ownerOnly bool, next AppointmentStatus, eventType string) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, op, attribute.String("appointment_id", appointmentID.String()))
	defer func() {
		s.metrics.BookingOutcome(op, outcome(err))
		endSpan(span, err)
	}()

	current, err := s.store.Appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if ownerOnly {
		if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
			return nil, err
		}
		if !ownedBy(current, userID) {
			return nil, ErrAppointmentNotFound
		}
	}
	if current.DoctorID == nil {
		return nil, fmt.Errorf("appointment %s has no doctor: %w", appointmentID, ErrInvalidStatusTransition)
	}

	err = s.store.Tx.WithDoctorLock(ctx, *current.DoctorID, current.Date, func(ctx context.Context) error {
		a, err := s.store.Appointments.GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !a.Status.CanTransitionTo(next) {
			return fmt.Errorf("%s -> %s: %w", a.Status, next, ErrInvalidStatusTransition)
		}
		a.Status = next
		if err := s.store.Appointments.UpdateStatus(ctx, a); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if err := s.detachOwner(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("user_id", userID.String()).
		Str("status", appt.Status.String()).
		Msg("appointment status changed")
	s.publish(ctx, eventType, appt)
	return appt, nil
}

// detachOwner clears the owner's reference when it still points at a.
func (s *Service) detachOwner(ctx context.Context, a *Appointment) error {
	if a.UserID == nil {
		return nil
	}
	owner, err := s.store.Users.GetByID(ctx, *a.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment owner: %w", err)
	}
	if owner.AppointmentID == nil || *owner.AppointmentID != a.ID {
		return nil
	}
	if err := s.store.Users.SetAppointment(ctx, owner.ID, nil); err != nil {
		return fmt.Errorf("detach appointment from user: %w", err)
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.Appointments.GetByID(ctx, id)
}

// publish emits a lifecycle event. Failures are logged and counted; the
// booking itself has already been committed.
func (s *Service) publish(ctx context.Context, eventType string, appt *Appointment) {
	if s.publisher == nil {
		return
	}
	key := ""
	if appt.DoctorID != nil {
		key = appt.DoctorID.String()
	}
	evt := events.NewEvent(eventType, key, newBookingEvent(appt, time.Now()))
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.metrics.PublishFailed()
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to publish booking event")
	}
}

// -- Catalog --

func (s *Service) CreateSpeciality(ctx context.Context, title string) (*Speciality, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &ValidationError{Fields: []string{"title is required"}}
	}
	sp := &Speciality{Title: NormalizeTitle(title)}
	if err := s.store.Specialities.Create(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Service) ListSpecialities(ctx context.Context) ([]*Speciality, error) {
	return s.store.Specialities.List(ctx)
}

// RegisterDoctor adds a doctor, creating the speciality on first use.
func (s *Service) RegisterDoctor(ctx context.Context, cmd RegisterDoctorCommand) (*Doctor, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(cmd.FirstName) == "" {
		verr.add("first_name is required")
	}
	if strings.TrimSpace(cmd.Speciality) == "" {
		verr.add("speciality is required")
	}
	if cmd.Experience < 0 {
		verr.add("experience must not be negative")
	}
	if cmd.EntryTime >= cmd.ExitTime {
		verr.add("entry_time must be before exit_time")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	spec, err := s.store.Specialities.GetByTitle(ctx, cmd.Speciality)
	if errors.Is(err, ErrSpecialityNotFound) {
		spec = &Speciality{Title: NormalizeTitle(cmd.Speciality)}
		err = s.store.Specialities.Create(ctx, spec)
		if errors.Is(err, ErrDuplicate) {
			spec, err = s.store.Specialities.GetByTitle(ctx, cmd.Speciality)
		}
	}
	if err != nil {
		return nil, err
	}

	d := &Doctor{
		FirstName:    strings.TrimSpace(cmd.FirstName),
		LastName:     strings.TrimSpace(cmd.LastName),
		Experience:   cmd.Experience,
		SpecialityID: spec.ID,
		EntryTime:    cmd.EntryTime,
		ExitTime:     cmd.ExitTime,
	}
	if err := s.store.Doctors.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Str("speciality", spec.Title).Msg("doctor registered")
	return d, nil
}

// ListDoctors pages through doctors, optionally restricted to one speciality.
func (s *Service) ListDoctors(ctx context.Context, speciality string, limit, offset int) ([]*Doctor, int, error) {
	if strings.TrimSpace(speciality) == "" {
		return s.store.Doctors.Search(ctx, nil, limit, offset)
	}
	spec, err := s.store.Specialities.GetByTitle(ctx, speciality)
	if err != nil {
		return nil, 0, err
	}
	return s.store.Doctors.Search(ctx, &spec.ID, limit, offset)
}

// RegisterUser stores a new user with a bcrypt password hash.
func (s *Service) RegisterUser(ctx context.Context, cmd RegisterUserCommand) (*User, error) {
	verr := &ValidationError{}
	if len(strings.TrimSpace(cmd.Name)) < 5 {
		verr.add("name must be at least 5 characters")
	}
	if _, err := mail.ParseAddress(cmd.Email); err != nil {
		verr.add("email is invalid")
	}
	if len(cmd.Number) != 10 || strings.Trim(cmd.Number, "0123456789") != "" {
		verr.add("number must be 10 digits")
	}
	if len(cmd.Password) < 5 {
		verr.add("password must be at least 5 characters")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Name:         strings.TrimSpace(cmd.Name),
		Email:        strings.ToLower(strings.TrimSpace(cmd.Email)),
		Number:       cmd.Number,
		PasswordHash: string(hash),
	}
	if err := s.store.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("user registered")
	return u, nil
}
