package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/service/ratelimit"
	"TradeGuard/internal/usecase"
	xhttp "TradeGuard/pkg/http"
	xlogger "TradeGuard/pkg/logger"
)

// EndpointAdmin is the endpoint view of the connectivity guard.
type EndpointAdmin interface {
	Endpoints() []models.EndpointHealth
	SetActive(id string) error
}

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type GuardsOption func(*GuardsHandler)

func WithEndpoints(e EndpointAdmin) GuardsOption {
	return func(h *GuardsHandler) { h.endpoints = e }
}

func WithJournal(j domrepo.Journal) GuardsOption {
	return func(h *GuardsHandler) { h.journal = j }
}

// WithLimiter throttles the mutating endpoints per client address.
func WithLimiter(l *ratelimit.Limiter) GuardsOption {
	return func(h *GuardsHandler) { h.limiter = l }
}

func WithHealthCheck(name string, fn func(ctx context.Context) error) GuardsOption {
	return func(h *GuardsHandler) { h.checks = append(h.checks, HealthCheck{Name: name, Check: fn}) }
}

// GuardsHandler serves the operator API: guard status, forced modes,
// directive history and endpoint selection.
type GuardsHandler struct {
	log       *xlogger.Logger
	guards    map[string]usecase.Guard
	names     []string
	endpoints EndpointAdmin
	journal   domrepo.Journal
	limiter   *ratelimit.Limiter
	checks    []HealthCheck
}

var registerModeTag sync.Once

func NewGuardsHandler(log *xlogger.Logger, guards []usecase.Guard, opts ...GuardsOption) *GuardsHandler {
	registerModeTag.Do(func() {
		_ = xhttp.RegisterValidation("guard_mode", func(fl validator.FieldLevel) bool {
			_, err := models.ParseModeLevel(fl.Field().String())
			return err == nil
		})
	})
	if log == nil {
		log = xlogger.Nop()
	}
	h := &GuardsHandler{log: log.With("admin"), guards: make(map[string]usecase.Guard, len(guards))}
	for _, g := range guards {
		h.guards[g.Name()] = g
		h.names = append(h.names, g.Name())
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *GuardsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/guards", h.List)
	g.GET("/guards/:name", h.Status)
	g.POST("/guards/:name/force", h.Force)
	g.GET("/guards/:name/directive", h.Directive)
	g.GET("/guards/:name/journal", h.Journal)
	g.GET("/endpoints", h.Endpoints)
	g.POST("/endpoints/active", h.Activate)
}

func (h *GuardsHandler) lookup(name string) (usecase.Guard, error) {
	g, ok := h.guards[name]
	if !ok {
		return nil, xhttp.NotFoundErrorf("guard %q not found", name)
	}
	return g, nil
}

func (h *GuardsHandler) allow(c echo.Context) bool {
	return h.limiter == nil || h.limiter.Allow(c.RealIP())
}

func (h *GuardsHandler) List(c echo.Context) error {
	out := make([]models.GuardStatus, 0, len(h.names))
	for _, n := range h.names {
		out = append(out, h.guards[n].Status())
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *GuardsHandler) Status(c echo.Context) error {
	req := &models.GuardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	g, err := h.lookup(req.Name)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, g.Status())
}

func (h *GuardsHandler) Force(c echo.Context) error {
	if !h.allow(c) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many mutations"))
	}
	req := &models.ForceModeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	g, err := h.lookup(req.Name)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	mode, err := models.ParseModeLevel(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	d, err := g.Force(mode, req.Reason)
	if err != nil {
		h.log.Error("force failed", xlogger.String("guard", req.Name), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("force failed").WithError(err))
	}
	h.log.Warn("guard mode forced via admin",
		xlogger.String("guard", req.Name),
		xlogger.Mode("mode", mode),
		xlogger.String("reason", req.Reason),
		xlogger.String("remote", c.RealIP()),
	)
	return xhttp.SuccessResponse(c, d)
}

func (h *GuardsHandler) Directive(c echo.Context) error {
	req := &models.GuardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	g, err := h.lookup(req.Name)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	d := g.LastDirective()
	if d == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("guard %q has not emitted a directive yet", req.Name))
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *GuardsHandler) Journal(c echo.Context) error {
	if h.journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("journal disabled"))
	}
	req := &models.JournalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, err := h.lookup(req.Name); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	rows, err := h.journal.Recent(c.Request().Context(), req.Name, req.Limit)
	if err != nil {
		h.log.Error("journal query failed", xlogger.String("guard", req.Name), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("journal query failed").WithError(err))
	}
	if rows == nil {
		rows = []domrepo.JournalEntry{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *GuardsHandler) Endpoints(c echo.Context) error {
	if h.endpoints == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("no endpoint registry"))
	}
	return xhttp.SuccessResponse(c, h.endpoints.Endpoints())
}

func (h *GuardsHandler) Activate(c echo.Context) error {
	if h.endpoints == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("no endpoint registry"))
	}
	if !h.allow(c) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many mutations"))
	}
	req := &models.ActivateEndpointRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.endpoints.SetActive(req.Endpoint); err != nil {
		if errors.Is(err, guard.ErrUnknownEndpoint) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("endpoint %q not found", req.Endpoint))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError("activate failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, h.endpoints.Endpoints())
}

// Health runs every registered check with a short deadline.
func (h *GuardsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[chk.Name] = err.Error()
			continue
		}
		results[chk.Name] = "ok"
	}
	return xhttp.DataResponse(c, status, results)
}
