// Package integration provides a reusable test harness for end-to-end
// testing of the Pulse server. It starts a full HTTP server over in-memory
// stores, a seeded people directory, and a fake clock.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
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
	"github.com/atelierops/pulse/internal/transport"
	"github.com/atelierops/pulse/model"
)

// harnessStart is the frozen wall-clock time every harness begins at.
var harnessStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// TestHarness encapsulates a fully wired Pulse instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Clock      *clock.Fake
	Registry   *template.Registry
	Engine     *engine.Engine
	Dispatcher *nudge.Dispatcher
	NudgeStore *nudge.MemoryStore
	Directory  *assign.MemoryDirectory
	Activities *activity.Logger
	Notifier   *CapturingNotifier
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	templateDirs []string
	seedFile     string
	batchSize    int
	failChannels map[string]error
}

// WithTemplates sets the template directories to load. Relative paths are
// resolved from the testdata directory.
func WithTemplates(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.templateDirs = dirs
	}
}

// WithSeedFile sets the directory seed YAML file.
func WithSeedFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.seedFile = path
	}
}

// WithBatchSize caps the number of nudges per dispatch sweep.
func WithBatchSize(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.batchSize = n
	}
}

// WithFailingChannel makes deliveries on the given channel fail.
func WithFailingChannel(channel string, err error) HarnessOption {
	return func(c *harnessConfig) {
		if c.failChannels == nil {
			c.failChannels = make(map[string]error)
		}
		c.failChannels[channel] = err
	}
}

// NewTestHarness creates and starts a full Pulse test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.templateDirs) == 0 {
		hc.templateDirs = []string{filepath.Join("testdata", "templates")}
	}
	if hc.seedFile == "" {
		hc.seedFile = filepath.Join("testdata", "users.yaml")
	}

	h := &TestHarness{t: t}
	log := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	h.Clock = clock.NewFake(harnessStart)

	// Load and validate templates through the real pipeline.
	loader := template.NewLoader()
	tpls, err := loader.LoadAll(hc.templateDirs)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if verrs := template.NewValidator().Validate(tpls); len(verrs) > 0 {
		t.Fatalf("template validation: %v", verrs)
	}
	h.Registry = template.NewRegistry(tpls)

	// Seed the people directory.
	h.Directory = assign.NewMemoryDirectory()
	if err := h.Directory.LoadSeed(hc.seedFile); err != nil {
		t.Fatalf("seed directory: %v", err)
	}

	// Wire the engine over in-memory stores.
	h.NudgeStore = nudge.NewMemoryStore()
	h.Activities = activity.NewLogger(activity.NewMemoryStore(), h.Clock, log)
	h.Notifier = &CapturingNotifier{failFor: hc.failChannels}
	scheduler := nudge.NewScheduler(h.NudgeStore, h.Directory, h.Clock, log, metrics)
	h.Dispatcher = nudge.NewDispatcher(h.NudgeStore, h.Notifier, h.Activities, h.Clock, log, metrics, hc.batchSize)

	h.Engine = engine.NewEngine(
		h.Registry,
		engine.NewMemoryStore(),
		schedule.NewCalculator(h.Clock),
		assign.NewAssigner(h.Directory, h.Clock),
		scheduler,
		h.Activities,
		h.Clock,
		log,
		metrics,
	)

	cfg := config.Defaults()
	router := transport.NewRouter(transport.Dependencies{
		Config:     cfg,
		Engine:     h.Engine,
		Dispatcher: h.Dispatcher,
		Registry:   h.Registry,
		Activities: h.Activities,
		Metrics:    metrics,
		Log:        log,
		Checks: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return h.Registry.Len() > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// Identity carries the headers the gateway would set on a request.
type Identity struct {
	ActorID string
	OrgID   string
	Email   string
}

// AnaIdentity returns the account manager's identity.
func AnaIdentity() Identity {
	return Identity{ActorID: "user-ana", OrgID: "acme-agency", Email: "ana@acme.example.com"}
}

// GET performs a GET request with identity headers.
func (h *TestHarness) GET(path string, id Identity) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, id)
}

// POST performs a POST request with a JSON body and identity headers.
func (h *TestHarness) POST(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, id)
}

func (h *TestHarness) doRequest(method, path string, body any, id Identity) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if id.ActorID != "" {
		req.Header.Set("X-Actor-Id", id.ActorID)
	}
	if id.OrgID != "" {
		req.Header.Set("X-Org-Id", id.OrgID)
	}
	if id.Email != "" {
		req.Header.Set("X-Actor-Email", id.Email)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the response status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// StartOnboarding starts one client-onboarding instance and returns its
// detail.
func (h *TestHarness) StartOnboarding(t *testing.T, id Identity) model.InstanceDetail {
	t.Helper()
	resp := h.POST("/workflows/start", map[string]any{
		"template_id": "client-onboarding",
		"entity_type": "deal",
		"entity_id":   "deal-77",
	}, id)
	var detail model.InstanceDetail
	h.AssertJSON(t, resp, http.StatusCreated, &detail)
	return detail
}

// TaskByTemplateID finds an instance task by its template task ID.
func (h *TestHarness) TaskByTemplateID(t *testing.T, detail model.InstanceDetail, templateTaskID string) model.WorkflowTask {
	t.Helper()
	for _, task := range detail.Tasks {
		if task.TemplateTaskID == templateTaskID {
			return task
		}
	}
	t.Fatalf("no task with template task ID %q", templateTaskID)
	return model.WorkflowTask{}
}

// CapturingNotifier records every delivered notification, optionally
// failing configured channels.
type CapturingNotifier struct {
	Sent    []model.Notification
	failFor map[string]error
}

// Send records the notification or returns the configured failure.
func (n *CapturingNotifier) Send(_ context.Context, msg model.Notification) error {
	for _, ch := range msg.Channels {
		if err, ok := n.failFor[ch]; ok {
			return err
		}
	}
	n.Sent = append(n.Sent, msg)
	return nil
}
