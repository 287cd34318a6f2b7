package billing

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
	billing := auth.RequireRole(auth.RoleBilling)

	api.POST("/referrals/:id/invoices", h.IssueForReferral, billing)
	api.POST("/appointments/:id/invoices", h.IssueForAppointment, billing)

	inv := api.Group("/invoices", billing)
	inv.GET("", h.ListInvoices)
	inv.GET("/:id", h.GetInvoice)

	b := api.Group("/invoice-batches", billing)
	b.POST("", h.SubmitBatch)
	b.GET("", h.ListBatches)
	b.GET("/:id", h.GetBatch)
	b.POST("/:id/resubmit", h.ResubmitBatch)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) IssueForReferral(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.IssueForReferral(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) IssueForAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.IssueForAppointment(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	var f InvoiceFilter
	for param, dst := range map[string]**uuid.UUID{
		"patient_id":     &f.PatientID,
		"referral_id":    &f.ReferralID,
		"appointment_id": &f.AppointmentID,
		"batch_id":       &f.BatchID,
	} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}
	f.Payer = Payer(c.QueryParam("payer"))
	f.Status = InvoiceStatus(c.QueryParam("status"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type batchRequest struct {
	Type       string      `json:"type" validate:"omitempty,oneof=INSTITUTIONAL COPAYMENT"`
	InvoiceIDs []uuid.UUID `json:"invoice_ids" validate:"required,min=1,max=500"`
}

func (h *Handler) SubmitBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return apperr.ToHTTP(err)
	}
	b, err := h.svc.SubmitBatch(c.Request().Context(), BatchInput{Type: req.Type, InvoiceIDs: req.InvoiceIDs})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ResubmitBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.ResubmitBatch(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBatch(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBatches(c.Request().Context(), BatchStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
