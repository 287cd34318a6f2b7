package referral

import (
	"net/http"
	"strconv"

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
	read := api.Group("/referrals", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleBilling))
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	write := api.Group("/referrals", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	write.POST("", h.Submit)
	write.POST("/:id/takeover", h.Takeover)
	write.POST("/:id/release", h.Release)
}

type submitRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	ParentID      string    `json:"parent_id"`
	DiagnosisCode string    `json:"diagnosis_code" validate:"required,icd10"`
	DiagnosisName string    `json:"diagnosis_name" validate:"max=255"`
	ProcedureCode string    `json:"procedure_code" validate:"max=50"`
	ProcedureName string    `json:"procedure_name" validate:"max=255"`
	Department    string    `json:"department" validate:"required,max=100"`
	Category      string    `json:"category" validate:"required,oneof=A1 C1 D1"`
	Note          string    `json:"note" validate:"max=2000"`
}

func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return apperr.ToHTTP(err)
	}
	r, err := h.svc.Submit(c.Request().Context(), SubmitInput{
		PatientID:     req.PatientID,
		ParentKey:     req.ParentID,
		DiagnosisCode: req.DiagnosisCode,
		DiagnosisName: req.DiagnosisName,
		ProcedureCode: req.ProcedureCode,
		ProcedureName: req.ProcedureName,
		Department:    req.Department,
		Category:      Category(req.Category),
		Note:          req.Note,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("owned"); v != "" {
		owned, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid owned")
		}
		f.Owned = &owned
	}
	f.Status = Status(c.QueryParam("status"))
	f.Department = c.QueryParam("department")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// Takeover acts on behalf of the authenticated staff member.
func (h *Handler) Takeover(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	r, err = h.svc.Takeover(ctx, r.ID, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Release(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	r, err = h.svc.Release(ctx, r.ID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}
