// Package api serves the signoff engine over HTTP with echo.
package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/signoff/engine"
	"github.com/xraph/signoff/stream"
)

// serviceName names the HTTP server in spans.
const serviceName = "signoff"

// API wires the HTTP handlers for the signoff engine.
type API struct {
	eng            *engine.Engine
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	broker         *stream.Broker
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithTracerProvider sets the provider for HTTP server spans. If not set,
// the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *API) { a.tracerProvider = tp }
}

// WithStream enables GET /stream, a server-sent event feed served by b.
// The broker must also be registered as an engine extension.
func WithStream(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// New creates an API from a signoff Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.handleError

	e.Use(middleware.Recover())
	var otelOpts []otelecho.Option
	if a.tracerProvider != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(a.tracerProvider))
	}
	e.Use(otelecho.Middleware(serviceName, otelOpts...))

	a.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers all signoff routes on e.
func (a *API) RegisterRoutes(e *echo.Echo) {
	a.registerWorkflowRoutes(e)
	a.registerApprovalRoutes(e)
	a.registerHealthRoutes(e)
	if a.broker != nil {
		e.GET("/stream", a.streamEvents)
	}
}

// registerWorkflowRoutes registers trigger and version history routes.
func (a *API) registerWorkflowRoutes(e *echo.Echo) {
	g := e.Group("/workflows")
	g.POST("/trigger", a.trigger)
	g.GET("", a.listVersions)
	g.GET("/:groupId/history", a.history)
	g.GET("/:groupId/latest", a.latest)
	g.GET("/:groupId/audit", a.auditTrail)
	g.GET("/:groupId/compensations", a.compensations)
	g.GET("/:groupId/tasks", a.groupTasks)

	e.GET("/versions/:versionId", a.getVersion)
	e.GET("/versions/:versionId/audit", a.versionAuditTrail)
	e.GET("/runs/:runId", a.getRun)
}

// registerApprovalRoutes registers human task routes.
func (a *API) registerApprovalRoutes(e *echo.Echo) {
	g := e.Group("/approvals")
	g.GET("/pending", a.pendingTasks)
	g.GET("/:taskId", a.getTask)
	g.POST("/:taskId/submit", a.submitDecision)
}

// registerHealthRoutes registers liveness routes.
func (a *API) registerHealthRoutes(e *echo.Echo) {
	e.GET("/healthz", a.healthz)
}
