package clinical

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/appointments/:id", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleBilling))
	read.GET("/finding", h.GetFinding)
	read.GET("/recommendations", h.ListRecommendations)

	write := api.Group("/appointments/:id", auth.RequireRole(auth.RoleDoctor))
	write.PUT("/finding", h.UpsertFinding)
	write.POST("/finding/send", h.SendFinding)
	write.POST("/recommendations", h.IssueRecommendation)
}

func appointmentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	return id, nil
}

type findingRequest struct {
	Anamnesis string `json:"anamnesis" validate:"max=10000"`
	Status    string `json:"status" validate:"max=10000"`
	Therapy   string `json:"therapy" validate:"max=10000"`
}

func (h *Handler) UpsertFinding(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req findingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return apperr.ToHTTP(err)
	}
	f, err := h.svc.Upsert(c.Request().Context(), id, FindingInput{
		Anamnesis:      req.Anamnesis,
		ClinicalStatus: req.Status,
		Therapy:        req.Therapy,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) GetFinding(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetByAppointment(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) SendFinding(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Send(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, f)
}

type recommendationRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

func (h *Handler) IssueRecommendation(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req recommendationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	rec, err := h.svc.IssueRecommendation(ctx, id, req.Text, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRecommendations(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListRecommendations(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Recommendation{}
	}
	return c.JSON(http.StatusOK, items)
}
