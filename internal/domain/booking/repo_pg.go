package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbook/clinicbook/internal/platform/db"
)

// NewPostgresStore returns a Store backed by the tables in migrations/.
// Repository calls made inside TxManager callbacks join the lock's
// transaction.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Specialities: &specialityRepoPG{pool: pool},
		Doctors:      &doctorRepoPG{pool: pool},
		Users:        &userRepoPG{pool: pool},
		Appointments: &appointmentRepoPG{pool: pool},
		Schedules:    &scheduleRepoPG{pool: pool},
		Tx:           &pgTxManager{runner: db.NewTxRunner(pool)},
	}
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond)).normalize()
}

func pgDate(d Date) pgtype.Date {
	return pgtype.Date{Time: d.Time(), Valid: true}
}

func fromPgDate(d pgtype.Date) Date {
	if !d.Valid {
		return Date{}
	}
	return NewDate(d.Time)
}

// =========== Speciality Repository ===========

type specialityRepoPG struct{ pool *pgxpool.Pool }

func (r *specialityRepoPG) Create(ctx context.Context, s *Speciality) error {
	s.ID = uuid.New()
	s.Title = NormalizeTitle(s.Title)
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO speciality (id, title) VALUES ($1, $2)`, s.ID, s.Title)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("speciality %q: %w", s.Title, ErrDuplicate)
	}
	return err
}

func (r *specialityRepoPG) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM speciality WHERE title = $1)`, NormalizeTitle(title)).Scan(&exists)
	return exists, err
}

func (r *specialityRepoPG) GetByTitle(ctx context.Context, title string) (*Speciality, error) {
	var s Speciality
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, title FROM speciality WHERE title = $1`, NormalizeTitle(title)).Scan(&s.ID, &s.Title)
	if db.IsNoRows(err) {
		return nil, ErrSpecialityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *specialityRepoPG) List(ctx context.Context) ([]*Speciality, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, title FROM speciality ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Speciality
	for rows.Next() {
		var s Speciality
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

const doctorCols = `id, first_name, last_name, experience, speciality_id, entry_time, exit_time, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var entry, exit pgtype.Time
	if err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Experience, &d.SpecialityID,
		&entry, &exit, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.EntryTime = fromPgTime(entry)
	d.ExitTime = fromPgTime(exit)
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO doctor (id, first_name, last_name, experience, speciality_id, entry_time, exit_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.FirstName, d.LastName, d.Experience, d.SpecialityID,
		pgTime(d.EntryTime), pgTime(d.ExitTime), d.CreatedAt)
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNoDoctorFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, []*Doctor{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *doctorRepoPG) ListBySpeciality(ctx context.Context, specialityID uuid.UUID) ([]*Doctor, error) {
	items, err := r.query(ctx, `SELECT `+doctorCols+` FROM doctor WHERE speciality_id = $1 ORDER BY created_at, id`, specialityID)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *doctorRepoPG) CountBySpeciality(ctx context.Context, specialityID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctor WHERE speciality_id = $1`, specialityID).Scan(&n)
	return n, err
}

func (r *doctorRepoPG) Search(ctx context.Context, specialityID *uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if specialityID != nil {
		args = append(args, *specialityID)
		where += fmt.Sprintf(` AND speciality_id = $%d`, len(args))
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + doctorCols + ` FROM doctor` + where +
		fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *doctorRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Doctor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// hydrate attaches every appointment of each doctor in one round trip.
func (r *doctorRepoPG) hydrate(ctx context.Context, doctors []*Doctor) error {
	if len(doctors) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(doctors))
	byID := make(map[uuid.UUID]*Doctor, len(doctors))
	for i, d := range doctors {
		ids[i] = d.ID
		byID[d.ID] = d
		d.Appointments = []*Appointment{}
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE doctor_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("load doctor appointments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return err
		}
		if d := byID[*a.DoctorID]; d != nil {
			d.Appointments = append(d.Appointments, a)
		}
	}
	return rows.Err()
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO app_user (id, name, email, number, password_hash, appointment_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Name, u.Email, u.Number, u.PasswordHash, u.AppointmentID, u.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", strings.ToLower(u.Email), ErrDuplicate)
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, email, number, password_hash, appointment_id, created_at
		FROM app_user WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Number, &u.PasswordHash, &u.AppointmentID, &u.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) SetAppointment(ctx context.Context, userID uuid.UUID, appointmentID *uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE app_user SET appointment_id = $2 WHERE id = $1`, userID, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

const appointmentCols = `id, speciality, description, patient_name, date, start_time, end_time,
	status, doctor_id, user_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date pgtype.Date
	var start, end pgtype.Time
	var status string
	if err := row.Scan(&a.ID, &a.Speciality, &a.Description, &a.PatientName, &date, &start, &end,
		&status, &a.DoctorID, &a.UserID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	a.Date = fromPgDate(date)
	a.StartTime = fromPgTime(start)
	a.EndTime = fromPgTime(end)
	a.Status = st
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointment (`+appointmentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.Speciality, a.Description, a.PatientName, pgDate(a.Date),
		pgTime(a.StartTime), pgTime(a.EndTime), a.Status.String(),
		a.DoctorID, a.UserID, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE appointment SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Status.String()).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrAppointmentNotFound
	}
	return err
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO schedule (id, doctor_id, user_id, appointment_id, date, end_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.DoctorID, s.UserID, s.AppointmentID, pgDate(s.Date), pgTime(s.EndTime), s.CreatedAt)
	return err
}

func (r *scheduleRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Schedule, error) {
	var s Schedule
	var date pgtype.Date
	var end pgtype.Time
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, doctor_id, user_id, appointment_id, date, end_time, created_at
		FROM schedule WHERE appointment_id = $1`, appointmentID).
		Scan(&s.ID, &s.DoctorID, &s.UserID, &s.AppointmentID, &date, &end, &s.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Date = fromPgDate(date)
	s.EndTime = fromPgTime(end)
	return &s, nil
}

// =========== Tx ===========

type pgTxManager struct{ runner *db.TxRunner }

// WithDoctorLock serializes on a transaction-scoped advisory lock keyed by
// doctor and day; repository calls using fn's ctx run in that transaction.
func (m *pgTxManager) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, date Date, fn func(ctx context.Context) error) error {
	return m.runner.WithAdvisoryLock(ctx, doctorLockKey(doctorID, date), fn)
}

func doctorLockKey(doctorID uuid.UUID, date Date) string {
	return "doctor:" + doctorID.String() + "/" + date.String()
}
