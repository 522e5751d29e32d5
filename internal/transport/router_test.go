package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/assign"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/config"
	"github.com/atelierops/pulse/internal/engine"
	"github.com/atelierops/pulse/internal/nudge"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/internal/schedule"
	"github.com/atelierops/pulse/internal/template"
	"github.com/atelierops/pulse/model"
)

var routerNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func reviewTemplate() model.WorkflowTemplate {
	return model.WorkflowTemplate{
		ID:        "campaign-review",
		Name:      "Campaign Review",
		Version:   1,
		Published: true,
		Trigger:   model.TriggerSpec{EntityType: "campaign", Event: "submitted"},
		Tasks: []model.TaskTemplate{
			{
				ID:   "prep",
				Name: "Prepare materials",
				Role: "account_manager",
				Offset: model.DueOffset{
					Anchor: model.AnchorWorkflowStart,
					Span:   model.Span{Value: 2, Unit: model.UnitDays},
				},
				EstimatedHours: 2,
			},
			{
				ID:        "review",
				Name:      "Review campaign",
				Role:      "strategist",
				DependsOn: []string{"prep"},
				Offset: model.DueOffset{
					Anchor: model.AnchorPreviousTask,
					Span:   model.Span{Value: 3, Unit: model.UnitDays},
				},
				EstimatedHours: 4,
			},
		},
	}
}

// testDeps wires a full in-memory stack behind the router.
func testDeps(t *testing.T) Dependencies {
	t.Helper()

	cfg := config.Defaults()
	clk := clock.NewFake(routerNow)
	log := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	dir := assign.NewMemoryDirectory()
	dir.PutUser(model.User{
		ID: "user-am", OrgID: "org-1", Name: "Ana Marsh",
		RoleLabel: "Account Manager", Department: "client_services",
		WeeklyCapacityHours: 40, Active: true,
	})
	dir.PutUser(model.User{
		ID: "user-strat", OrgID: "org-1", Name: "Sam Tran",
		RoleLabel: "Senior Strategist", Department: "strategy",
		WeeklyCapacityHours: 40, Active: true,
	})

	registry := template.NewRegistry([]model.WorkflowTemplate{reviewTemplate()})
	acts := activity.NewLogger(activity.NewMemoryStore(), clk, log)
	nudgeStore := nudge.NewMemoryStore()
	scheduler := nudge.NewScheduler(nudgeStore, dir, clk, log, metrics)
	dispatcher := nudge.NewDispatcher(nudgeStore, nudge.NewLogNotifier(log), acts, clk, log, metrics, 0)

	eng := engine.NewEngine(
		registry,
		engine.NewMemoryStore(),
		schedule.NewCalculator(clk),
		assign.NewAssigner(dir, clk),
		scheduler,
		acts,
		clk,
		log,
		metrics,
	)

	return Dependencies{
		Config:     cfg,
		Engine:     eng,
		Dispatcher: dispatcher,
		Registry:   registry,
		Activities: acts,
		Metrics:    metrics,
		Log:        log,
		Checks: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return registry.Len() > 0 },
		},
	}
}

func apiRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Actor-Id", "user-am")
	req.Header.Set("X-Org-Id", "org-1")
	return req
}

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_identityRequired(t *testing.T) {
	r := NewRouter(testDeps(t))

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/templates"},
		{"POST", "/events"},
		{"POST", "/workflows/start"},
		{"GET", "/workflows"},
		{"GET", "/workflows/wf-123"},
		{"GET", "/workflows/wf-123/activity"},
		{"GET", "/workflows/wf-123/critical-path"},
		{"POST", "/workflows/wf-123/cancel"},
		{"POST", "/tasks/task-1/start"},
		{"POST", "/tasks/task-1/complete"},
		{"POST", "/tasks/task-1/skip"},
		{"POST", "/tasks/task-1/block"},
		{"POST", "/tasks/task-1/unblock"},
		{"POST", "/tasks/task-1/reassign"},
		{"POST", "/tasks/task-1/delay"},
		{"POST", "/nudges/n-1/acknowledge"},
	}

	for _, tc := range routes {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != 401 {
				t.Errorf("status = %d, want 401 without identity headers", w.Code)
			}
		})
	}
}

func TestNewRouter_publicRoutesBypassIdentity(t *testing.T) {
	r := NewRouter(testDeps(t))

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
			if w.Code != 200 {
				t.Errorf("status = %d, want 200", w.Code)
			}
		})
	}
}

func TestNewRouter_correlationIDEchoed(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	req := apiRequest("GET", "/templates", "")
	req.Header.Set("X-Correlation-Id", "corr-42")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("X-Correlation-Id = %q, want corr-42", got)
	}
}

func TestNewRouter_correlationIDGenerated(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id header not set")
	}
}
