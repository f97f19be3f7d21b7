package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memArena keeps every record in maps addressed by id. Records reference
// each other only through ids; readers get copies.
type memArena struct {
	mu           sync.RWMutex
	specialities map[uuid.UUID]*Speciality
	doctors      map[uuid.UUID]*Doctor
	doctorOrder  []uuid.UUID
	users        map[uuid.UUID]*User
	appointments map[uuid.UUID]*Appointment
	// doctor id -> appointment ids in insertion order
	doctorAppts map[uuid.UUID][]uuid.UUID
	schedules   map[uuid.UUID]*Schedule

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns a Store backed by an in-process arena. It is used
// by tests and by the server when STORAGE=memory.
func NewMemoryStore() Store {
	a := &memArena{
		specialities: make(map[uuid.UUID]*Speciality),
		doctors:      make(map[uuid.UUID]*Doctor),
		users:        make(map[uuid.UUID]*User),
		appointments: make(map[uuid.UUID]*Appointment),
		doctorAppts:  make(map[uuid.UUID][]uuid.UUID),
		schedules:    make(map[uuid.UUID]*Schedule),
		locks:        make(map[string]*sync.Mutex),
	}
	return Store{
		Specialities: &memSpecialityRepo{a},
		Doctors:      &memDoctorRepo{a},
		Users:        &memUserRepo{a},
		Appointments: &memAppointmentRepo{a},
		Schedules:    &memScheduleRepo{a},
		Tx:           &memTxManager{a},
	}
}

// -- Speciality --

type memSpecialityRepo struct{ a *memArena }

func (r *memSpecialityRepo) Create(_ context.Context, s *Speciality) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	s.Title = NormalizeTitle(s.Title)
	for _, existing := range r.a.specialities {
		if existing.Title == s.Title {
			return fmt.Errorf("speciality %q: %w", s.Title, ErrDuplicate)
		}
	}
	s.ID = uuid.New()
	cp := *s
	r.a.specialities[s.ID] = &cp
	return nil
}

func (r *memSpecialityRepo) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	_, err := r.GetByTitle(ctx, title)
	if errors.Is(err, ErrSpecialityNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *memSpecialityRepo) GetByTitle(_ context.Context, title string) (*Speciality, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	title = NormalizeTitle(title)
	for _, s := range r.a.specialities {
		if s.Title == title {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSpecialityNotFound
}

func (r *memSpecialityRepo) List(_ context.Context) ([]*Speciality, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	items := make([]*Speciality, 0, len(r.a.specialities))
	for _, s := range r.a.specialities {
		cp := *s
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Title < items[j].Title })
	return items, nil
}

// -- Doctor --

type memDoctorRepo struct{ a *memArena }

func (r *memDoctorRepo) Create(_ context.Context, d *Doctor) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	cp := *d
	cp.Appointments = nil
	r.a.doctors[d.ID] = &cp
	r.a.doctorOrder = append(r.a.doctorOrder, d.ID)
	return nil
}

// hydrate copies a doctor and attaches snapshots of its appointments.
// Callers hold at least a read lock.
func (a *memArena) hydrate(d *Doctor) *Doctor {
	cp := *d
	ids := a.doctorAppts[d.ID]
	cp.Appointments = make([]*Appointment, 0, len(ids))
	for _, id := range ids {
		appt := *a.appointments[id]
		cp.Appointments = append(cp.Appointments, &appt)
	}
	return &cp
}

func (r *memDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	d, ok := r.a.doctors[id]
	if !ok {
		return nil, ErrNoDoctorFound
	}
	return r.a.hydrate(d), nil
}

func (r *memDoctorRepo) ListBySpeciality(_ context.Context, specialityID uuid.UUID) ([]*Doctor, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	var items []*Doctor
	for _, id := range r.a.doctorOrder {
		if d := r.a.doctors[id]; d.SpecialityID == specialityID {
			items = append(items, r.a.hydrate(d))
		}
	}
	return items, nil
}

func (r *memDoctorRepo) CountBySpeciality(_ context.Context, specialityID uuid.UUID) (int, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	n := 0
	for _, d := range r.a.doctors {
		if d.SpecialityID == specialityID {
			n++
		}
	}
	return n, nil
}

func (r *memDoctorRepo) Search(_ context.Context, specialityID *uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	var matched []*Doctor
	for _, id := range r.a.doctorOrder {
		d := r.a.doctors[id]
		if specialityID != nil && d.SpecialityID != *specialityID {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// -- User --

type memUserRepo struct{ a *memArena }

func (r *memUserRepo) Create(_ context.Context, u *User) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	for _, existing := range r.a.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %q: %w", u.Email, ErrDuplicate)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	cp := *u
	r.a.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	u, ok := r.a.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) SetAppointment(_ context.Context, userID uuid.UUID, appointmentID *uuid.UUID) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	u, ok := r.a.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.AppointmentID = appointmentID
	return nil
}

// -- Appointment --

type memAppointmentRepo struct{ a *memArena }

func (r *memAppointmentRepo) Create(_ context.Context, appt *Appointment) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	appt.ID = uuid.New()
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	cp := *appt
	r.a.appointments[appt.ID] = &cp
	if appt.DoctorID != nil {
		r.a.doctorAppts[*appt.DoctorID] = append(r.a.doctorAppts[*appt.DoctorID], appt.ID)
	}
	return nil
}

func (r *memAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	a, ok := r.a.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAppointmentRepo) UpdateStatus(_ context.Context, appt *Appointment) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	a, ok := r.a.appointments[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Status = appt.Status
	a.UpdatedAt = time.Now()
	appt.UpdatedAt = a.UpdatedAt
	return nil
}

// -- Schedule --

type memScheduleRepo struct{ a *memArena }

func (r *memScheduleRepo) Create(_ context.Context, s *Schedule) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	r.a.schedules[s.ID] = &cp
	return nil
}

func (r *memScheduleRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Schedule, error) {
	r.a.mu.RLock()
	defer r.a.mu.RUnlock()
	for _, s := range r.a.schedules {
		if s.AppointmentID == appointmentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

// -- Tx --

type memTxManager struct{ a *memArena }

func (m *memTxManager) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, date Date, fn func(ctx context.Context) error) error {
	key := doctorID.String() + "/" + date.String()

	m.a.locksMu.Lock()
	l, ok := m.a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.a.locks[key] = l
	}
	m.a.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}
