package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/config"
	"github.com/atelierops/pulse/internal/engine"
	"github.com/atelierops/pulse/internal/nudge"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/internal/template"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Engine     *engine.Engine
	Dispatcher *nudge.Dispatcher
	Registry   *template.Registry
	Activities *activity.Logger
	Metrics    *observability.Metrics
	Log        *zap.Logger
	Checks     observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// identity middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Log))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Checks))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// API routes: identity required, traced and metered.
	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Log))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/templates", handleListTemplates(deps.Registry))

		r.Post("/events", handleEvent(deps.Engine))

		r.Post("/workflows/start", handleStartWorkflow(deps.Engine))
		r.Get("/workflows", handleListWorkflows(deps.Engine))
		r.Get("/workflows/{instanceId}", handleWorkflowDetail(deps.Engine))
		r.Get("/workflows/{instanceId}/activity", handleWorkflowActivity(deps.Activities))
		r.Get("/workflows/{instanceId}/critical-path", handleCriticalPath(deps.Engine))
		r.Post("/workflows/{instanceId}/cancel", handleCancelWorkflow(deps.Engine))

		r.Post("/tasks/{taskId}/start", handleStartTask(deps.Engine))
		r.Post("/tasks/{taskId}/complete", handleCompleteTask(deps.Engine))
		r.Post("/tasks/{taskId}/skip", handleSkipTask(deps.Engine))
		r.Post("/tasks/{taskId}/block", handleBlockTask(deps.Engine))
		r.Post("/tasks/{taskId}/unblock", handleUnblockTask(deps.Engine))
		r.Post("/tasks/{taskId}/reassign", handleReassignTask(deps.Engine))
		r.Post("/tasks/{taskId}/delay", handleReportDelay(deps.Engine))

		r.Post("/nudges/{nudgeId}/acknowledge", handleAcknowledgeNudge(deps.Dispatcher))
	})

	return r
}
