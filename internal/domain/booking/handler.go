package booking

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinicbook/internal/platform/auth"
	"github.com/clinicbook/clinicbook/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patient-facing booking flow
	patients := api.Group("", auth.RequireRole(auth.RolePatient, auth.RolePhysician))
	patients.POST("/appointments/availability", h.Availability)
	patients.POST("/appointments/book", h.ConfirmBooking)
	patients.POST("/appointments/:id/rebook", h.Rebook)
	patients.POST("/appointments/:id/cancel", h.CancelAppointment)
	patients.GET("/appointments/:id", h.GetAppointment)
	patients.GET("/doctors", h.ListDoctors)
	patients.GET("/specialities", h.ListSpecialities)

	physicians := api.Group("", auth.RequireRole(auth.RolePhysician))
	physicians.POST("/appointments/:id/reject", h.RejectAppointment)
	physicians.POST("/appointments/:id/complete", h.CompleteAppointment)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctors", h.RegisterDoctor)
	admin.POST("/specialities", h.CreateSpeciality)

	api.POST("/users", h.RegisterUser)
}

// -- Response shapes --

type rankedDoctorResponse struct {
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	DoctorName    string     `json:"doctor_name"`
	Experience    int        `json:"experience"`
	Speciality    string     `json:"speciality"`
	BookingTime   TimeOfDay  `json:"booking_time"`
	BookedDate    Date       `json:"booked_date"`
	Status        string     `json:"status,omitempty"`
}

func toRankedResponse(r *RankedDoctor) rankedDoctorResponse {
	return rankedDoctorResponse{
		AppointmentID: r.AppointmentID,
		DoctorID:      r.DoctorID,
		DoctorName:    r.DoctorName,
		Experience:    r.Experience,
		Speciality:    r.Speciality,
		BookingTime:   r.BookingTime,
		BookedDate:    r.BookedDate,
		Status:        r.Status.Label(),
	}
}

func toRankedList(items []*RankedDoctor) []rankedDoctorResponse {
	out := make([]rankedDoctorResponse, 0, len(items))
	for _, r := range items {
		out = append(out, toRankedResponse(r))
	}
	return out
}

type appointmentResponse struct {
	*Appointment
	Status string `json:"status"`
}

func toAppointmentResponse(a *Appointment) appointmentResponse {
	return appointmentResponse{Appointment: a, Status: a.Status.Label()}
}

type createSpecialityRequest struct {
	Title string `json:"title"`
}

// -- Booking --

func (h *Handler) Availability(c echo.Context) error {
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ranked, err := h.svc.Availability(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toRankedList(ranked))
}

func (h *Handler) ConfirmBooking(c echo.Context) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	booked, err := h.svc.ConfirmBooking(c.Request().Context(), req, userID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, toRankedResponse(booked))
}

func (h *Handler) Rebook(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	ranked, err := h.svc.Rebook(c.Request().Context(), id, userID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toRankedList(ranked))
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), id, userID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) RejectAppointment(c echo.Context) error {
	return h.changeStatus(c, h.svc.RejectAppointment)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.changeStatus(c, h.svc.CompleteAppointment)
}

func (h *Handler) changeStatus(c echo.Context, fn func(ctx context.Context, appointmentID, userID uuid.UUID) (*Appointment, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	appt, err := fn(c.Request().Context(), id, userID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

// -- Catalog --

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var cmd RegisterDoctorCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.RegisterDoctor(c.Request().Context(), cmd)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("speciality"), pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return pagination.Write(c, http.StatusOK, items, total, pg)
}

func (h *Handler) CreateSpeciality(c echo.Context) error {
	var req createSpecialityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sp, err := h.svc.CreateSpeciality(c.Request().Context(), req.Title)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (h *Handler) ListSpecialities(c echo.Context) error {
	items, err := h.svc.ListSpecialities(c.Request().Context())
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RegisterUser(c echo.Context) error {
	var cmd RegisterUserCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.RegisterUser(c.Request().Context(), cmd)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// requestUserID takes the user from the user_id query parameter, falling
// back to the authenticated subject. Only physicians and admins may name a
// user other than themselves.
func requestUserID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	raw := c.QueryParam("user_id")
	subject := auth.UserIDFromContext(ctx)
	switch {
	case raw == "":
		raw = subject
	case subject != "" && raw != subject && !auth.HasRole(ctx, auth.RolePhysician):
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "user_id does not match the authenticated user")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	return id, nil
}

// httpError maps service errors onto HTTP responses. Anything unrecognised
// is logged and reported as 500.
func (h *Handler) httpError(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrSpecialityNotFound),
		errors.Is(err, ErrNoSpecialistFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrNoDoctorFound),
		errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoDoctorAvailable),
		errors.Is(err, ErrBookingConflict),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
