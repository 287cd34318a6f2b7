// Package app wires repositories, collaborators and services into a server.
package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/config"
	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/billing"
	"github.com/ehr/clinicbridge/internal/domain/clinical"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/domain/scheduling"
	"github.com/ehr/clinicbridge/internal/domain/storno"
	"github.com/ehr/clinicbridge/internal/platform/auth"
	"github.com/ehr/clinicbridge/internal/platform/calendar"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/db"
	"github.com/ehr/clinicbridge/internal/platform/message"
	"github.com/ehr/clinicbridge/internal/platform/middleware"
	"github.com/ehr/clinicbridge/internal/platform/validate"
)

// Repositories is the storage a Services set runs on.
type Repositories struct {
	Tx              db.Transactor
	Patients        patient.Repository
	Referrals       referral.Repository
	Appointments    scheduling.Repository
	Findings        clinical.FindingRepository
	Recommendations clinical.RecommendationRepository
	Invoices        billing.InvoiceRepository
	Batches         billing.BatchRepository
	Audit           audit.Repository
}

func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Tx:              db.NewTransactor(pool),
		Patients:        patient.NewRepoPG(pool),
		Referrals:       referral.NewRepoPG(pool),
		Appointments:    scheduling.NewRepoPG(pool),
		Findings:        clinical.NewFindingRepoPG(pool),
		Recommendations: clinical.NewRecommendationRepoPG(pool),
		Invoices:        billing.NewInvoiceRepoPG(pool),
		Batches:         billing.NewBatchRepoPG(pool),
		Audit:           audit.NewRepoPG(pool),
	}
}

// Options carries the business settings of the services.
type Options struct {
	Institution     string
	Tariff          billing.Tariff
	Windows         storno.Windows
	DepartmentStaff map[string]string
}

func DefaultOptions() Options {
	return Options{
		Institution: "000000",
		Tariff:      billing.DefaultTariff(),
		Windows:     storno.DefaultWindows(),
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Institution: cfg.InstitutionCode,
		Tariff: billing.Tariff{
			Base:             cfg.BaseTariff,
			CopayRate:        cfg.CopayRate,
			CopayCap:         cfg.CopayCap,
			OncologyPrefixes: cfg.OncologyExemptPrefixes,
		},
		Windows:         storno.Windows{Referral: cfg.StornoReferralMaxAge, Default: cfg.StornoDefaultMaxAge},
		DepartmentStaff: cfg.DepartmentStaff,
	}
}

type Services struct {
	Audit      *audit.Service
	Patients   *patient.Service
	Referrals  *referral.Service
	Scheduling *scheduling.Service
	Clinical   *clinical.Service
	Billing    *billing.Service
	Storno     *storno.Service
	// Renderer is shared by every service that builds outbound payloads.
	Renderer *message.Renderer
}

// NewServices builds every service on repos. Each service receives its
// collaborators explicitly.
func NewServices(repos Repositories, client central.Client, syncer calendar.Syncer, opts Options, logger zerolog.Logger) (*Services, error) {
	renderer, err := message.NewRenderer(opts.Institution)
	if err != nil {
		return nil, err
	}

	s := &Services{Renderer: renderer}
	s.Audit = audit.NewService(repos.Audit, logger)
	s.Patients = patient.NewService(repos.Patients, repos.Tx, s.Audit, client, renderer, logger)
	s.Referrals = referral.NewService(repos.Referrals, repos.Patients, repos.Tx, s.Audit, client, renderer,
		referral.DepartmentStaff(opts.DepartmentStaff), logger)
	s.Scheduling = scheduling.NewService(repos.Appointments, repos.Tx, s.Patients, s.Referrals, s.Referrals, syncer, logger)
	s.Clinical = clinical.NewService(repos.Findings, repos.Recommendations, s.Scheduling, s.Patients, s.Referrals,
		repos.Tx, s.Audit, client, renderer, logger)
	s.Scheduling.SetFindingChecker(s.Clinical)
	s.Billing = billing.NewService(repos.Invoices, repos.Batches, repos.Tx, s.Audit, client, renderer, opts.Tariff,
		s.Referrals, s.Scheduling, s.Clinical, s.Patients, s.Patients, logger)

	s.Storno = storno.NewService(opts.Windows, repos.Tx, s.Audit, client, renderer, logger)
	s.Storno.Register(storno.TypeReferral, storno.Referrals(s.Referrals))
	s.Storno.Register(storno.TypeInvoice, storno.Invoices(s.Billing))
	s.Storno.Register(storno.TypeReport, storno.Reports(s.Clinical))
	return s, nil
}

// SetClock replaces the time source of every service.
func (s *Services) SetClock(now func() time.Time) {
	s.Patients.SetClock(now)
	s.Referrals.SetClock(now)
	s.Scheduling.SetClock(now)
	s.Clinical.SetClock(now)
	s.Billing.SetClock(now)
	s.Storno.SetClock(now)
}

func (s *Services) RegisterRoutes(api *echo.Group) {
	audit.NewHandler(s.Audit).RegisterRoutes(api)
	patient.NewHandler(s.Patients).RegisterRoutes(api)
	referral.NewHandler(s.Referrals).RegisterRoutes(api)
	scheduling.NewHandler(s.Scheduling).RegisterRoutes(api)
	clinical.NewHandler(s.Clinical).RegisterRoutes(api)
	billing.NewHandler(s.Billing).RegisterRoutes(api)
	storno.NewHandler(s.Storno).RegisterRoutes(api)
}

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	DevAuth     bool
	JWT         auth.JWTConfig
	CORSOrigins []string
}

// NewServer builds the echo instance with global middleware, the API under
// /api/v1 and the database health probe.
func NewServer(s *Services, opts ServerOptions, health db.Pinger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Staff-ID"},
	}))

	if health != nil {
		e.GET("/health/db", db.HealthHandler(health))
	}

	api := e.Group("/api/v1")
	if opts.DevAuth {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(opts.JWT))
	}
	s.RegisterRoutes(api)
	return e
}
