package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/afkbridge/afkd/internal/audit"
	"github.com/afkbridge/afkd/internal/bridge"
	"github.com/afkbridge/afkd/internal/config"
	"github.com/afkbridge/afkd/internal/manager"
	"github.com/afkbridge/afkd/internal/session"
)

func newTestServer(t *testing.T, activate bool) (*Server, *bridge.MockClient) {
	t.Helper()
	client := bridge.NewMockClient()
	registry := session.NewRegistry(0)
	audits := audit.NewInMemoryStore()
	mgr := manager.New(manager.Config{ResponseDir: t.TempDir()}, manager.Deps{
		Client:   client,
		Registry: registry,
		Audit:    audits,
	})
	if activate {
		if err := mgr.Activate(context.Background()); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		t.Cleanup(func() { mgr.Deactivate(context.Background()) })
	}
	return New(config.Config{}, mgr, registry, audits), client
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["bridge"] != "inactive" {
		t.Fatalf("bridge = %v, want inactive", body["bridge"])
	}
}

func TestHookWhileInactive(t *testing.T) {
	s, _ := newTestServer(t, false)
	payload := `{"session":"api","type":"permission","prompt":"rm -rf build"}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Wait bool `json:"wait"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Wait {
		t.Fatal("inactive bridge must answer wait=false")
	}
}

func TestHookWhileActive(t *testing.T) {
	s, client := newTestServer(t, true)
	payload := `{"session":"api","type":"permission","prompt":"deploy to prod?"}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Wait         bool   `json:"wait"`
		ResponsePath string `json:"responsePath"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Wait || body.ResponsePath == "" {
		t.Fatalf("expected wait with response path, got %+v", body)
	}
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "deploy to prod?") {
		t.Fatalf("prompt not forwarded, got %+v", last)
	}
}

func TestHookRejectsMalformedPayload(t *testing.T) {
	s, _ := newTestServer(t, true)
	for _, payload := range []string{"", "{", `{"type":"permission"}`, `{"session":"api","type":"bogus","prompt":"x"}`} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: status = %d, want 400", payload, rec.Code)
		}
	}
}

func TestActivateDeactivateCycle(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/activate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["bridge"] != "active" {
		t.Fatalf("bridge = %v, want active", status["bridge"])
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/deactivate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d, want 200", rec.Code)
	}
}

func TestActivateReportsChannelFailure(t *testing.T) {
	s, client := newTestServer(t, false)
	client.PingErr = context.DeadlineExceeded

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/activate", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestQueueListsEntries(t *testing.T) {
	s, _ := newTestServer(t, true)
	for _, payload := range []string{
		`{"session":"api","type":"permission","prompt":"q1"}`,
		`{"session":"web","type":"permission","prompt":"q2"}`,
	} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))
		if rec.Code != http.StatusOK {
			t.Fatalf("hook status = %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	var body struct {
		Entries []struct {
			Session string `json:"session"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(body.Entries))
	}
}

func TestRemoveSessionPurges(t *testing.T) {
	s, _ := newTestServer(t, true)
	payload := `{"session":"api","type":"permission","prompt":"q1"}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/api", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["active"] != false {
		t.Fatal("purged session must leave no active request")
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	s, _ := newTestServer(t, true)
	payload := `{"session":"api","type":"permission","prompt":"q1"}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/hook", strings.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("hook status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?session=api", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d, want 200", rec.Code)
	}
	var body struct {
		Records []struct {
			Session string `json:"session"`
			Event   string `json:"event"`
		} `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 1 || body.Records[0].Event != "enqueued" {
		t.Fatalf("records = %+v, want one enqueued event", body.Records)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?session=api&limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session status = %d, want 400", rec.Code)
	}
}
