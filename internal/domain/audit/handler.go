package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/auth"
	"github.com/ehr/clinicbridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit", auth.RequireRole(auth.RoleBilling, auth.RoleDoctor))
	g.GET("", h.Timeline)
	g.GET("/:id", h.Get)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Timeline(c echo.Context) error {
	var f Filter
	for param, dst := range map[string]**uuid.UUID{
		"patient_id":     &f.PatientID,
		"referral_id":    &f.ReferralID,
		"invoice_id":     &f.InvoiceID,
		"appointment_id": &f.AppointmentID,
		"batch_id":       &f.BatchID,
	} {
		v := c.QueryParam(param)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = &id
	}
	f.Type = Type(c.QueryParam("type"))
	f.Outcome = Outcome(c.QueryParam("outcome"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Timeline(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
