package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedline/slad/internal/cdr"
	"github.com/sharedline/slad/internal/config"
	"github.com/sharedline/slad/internal/sla"
)

type fakeSessions struct {
	snaps []sla.SessionSnapshot
}

func (f *fakeSessions) ActiveSessionCount() int          { return len(f.snaps) }
func (f *fakeSessions) Snapshots() []sla.SessionSnapshot { return f.snaps }

type fakeDevices struct {
	states map[string]string
}

func (f *fakeDevices) Get(ctx context.Context, device string) (string, error) {
	return f.states[device], nil
}

func (f *fakeDevices) Update(ctx context.Context, device, state string) error {
	f.states[device] = state
	return nil
}

type fakeRecords struct {
	records []*cdr.CallRecord
	listErr error

	lastLimit int
}

func (f *fakeRecords) Create(ctx context.Context, rec *cdr.CallRecord) error { return nil }
func (f *fakeRecords) SetAnswered(ctx context.Context, sessionID, station string, at time.Time) error {
	return nil
}
func (f *fakeRecords) SetDialed(ctx context.Context, sessionID, number string) error { return nil }
func (f *fakeRecords) Finalize(ctx context.Context, sessionID, disposition string, at time.Time) error {
	return nil
}
func (f *fakeRecords) List(ctx context.Context, limit int) ([]*cdr.CallRecord, error) {
	f.lastLimit = limit
	return f.records, f.listErr
}
func (f *fakeRecords) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

func testExtensions(t *testing.T) *config.Extensions {
	t.Helper()
	exts, err := config.ParseExtensions([]byte(`{"sharedExtensions": [
	  {"201": {"stations": ["phone1", "phone2"], "trunks": ["trunkA"]}}
	]}`))
	if err != nil {
		t.Fatalf("parsing extensions: %v", err)
	}
	return exts
}

func newTestServer(t *testing.T, records *fakeRecords) (*Server, *fakeDevices, *fakeSessions) {
	t.Helper()
	devices := &fakeDevices{states: map[string]string{"201": "INUSE"}}
	sessions := &fakeSessions{}
	var repo cdr.Repository
	if records != nil {
		repo = records
	}
	s := NewServer(testExtensions(t), devices, sessions, repo, prometheus.NewRegistry())
	return s, devices, sessions
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, nil)
	s.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRecords{})

	w := doRequest(s, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	env := decodeEnvelope(t, w)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T", env.Data)
	}
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
}

func TestExtensions(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRecords{})

	w := doRequest(s, http.MethodGet, "/api/v1/extensions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	env := decodeEnvelope(t, w)
	list, ok := env.Data.([]any)
	if !ok {
		t.Fatalf("data type = %T", env.Data)
	}
	if len(list) != 1 {
		t.Fatalf("extensions = %d, want 1", len(list))
	}
	ext := list[0].(map[string]any)
	if ext["name"] != "201" {
		t.Errorf("name = %v, want 201", ext["name"])
	}
	if ext["state"] != "INUSE" {
		t.Errorf("state = %v, want INUSE", ext["state"])
	}
}

func TestExtensions_UnknownStateDefault(t *testing.T) {
	s, devices, _ := newTestServer(t, &fakeRecords{})
	delete(devices.states, "201")

	w := doRequest(s, http.MethodGet, "/api/v1/extensions")
	env := decodeEnvelope(t, w)
	ext := env.Data.([]any)[0].(map[string]any)
	if ext["state"] != "UNKNOWN" {
		t.Errorf("state = %v, want UNKNOWN", ext["state"])
	}
}

func TestSessions(t *testing.T) {
	s, _, sessions := newTestServer(t, &fakeRecords{})
	sessions.snaps = []sla.SessionSnapshot{{
		SessionID: "sess-1",
		Extension: "201",
		State:     sla.StateInUse,
		Incoming:  1,
	}}

	w := doRequest(s, http.MethodGet, "/api/v1/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	env := decodeEnvelope(t, w)
	list, ok := env.Data.([]any)
	if !ok {
		t.Fatalf("data type = %T", env.Data)
	}
	if len(list) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list))
	}
	snap := list[0].(map[string]any)
	if snap["extension"] != "201" {
		t.Errorf("extension = %v, want 201", snap["extension"])
	}
	if snap["state"] != "INUSE" {
		t.Errorf("state = %v, want INUSE", snap["state"])
	}
}

func TestSessions_EmptyIsArray(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRecords{})

	w := doRequest(s, http.MethodGet, "/api/v1/sessions")
	env := decodeEnvelope(t, w)
	if _, ok := env.Data.([]any); !ok {
		t.Fatalf("empty sessions must encode as an array, got %T", env.Data)
	}
}

func TestCDRs(t *testing.T) {
	records := &fakeRecords{records: []*cdr.CallRecord{{
		ID:          1,
		SessionID:   "sess-1",
		Extension:   "201",
		Disposition: "answered",
		StartTime:   time.Now().UTC(),
	}}}
	s, _, _ := newTestServer(t, records)

	w := doRequest(s, http.MethodGet, "/api/v1/cdrs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if records.lastLimit != defaultCDRLimit {
		t.Errorf("limit = %d, want %d", records.lastLimit, defaultCDRLimit)
	}

	env := decodeEnvelope(t, w)
	list, ok := env.Data.([]any)
	if !ok {
		t.Fatalf("data type = %T", env.Data)
	}
	if len(list) != 1 {
		t.Fatalf("records = %d, want 1", len(list))
	}
}

func TestCDRs_LimitParam(t *testing.T) {
	records := &fakeRecords{}
	s, _, _ := newTestServer(t, records)

	w := doRequest(s, http.MethodGet, "/api/v1/cdrs?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if records.lastLimit != 5 {
		t.Errorf("limit = %d, want 5", records.lastLimit)
	}

	for _, bad := range []string{"0", "1001", "-1", "abc"} {
		w := doRequest(s, http.MethodGet, "/api/v1/cdrs?limit="+bad)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", bad, w.Code)
		}
	}
}

func TestCDRs_ListError(t *testing.T) {
	records := &fakeRecords{listErr: errors.New("db closed")}
	s, _, _ := newTestServer(t, records)

	w := doRequest(s, http.MethodGet, "/api/v1/cdrs")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error == "" {
		t.Error("expected error message in envelope")
	}
}

func TestCDRs_Disabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/cdrs")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRecords{})

	w := doRequest(s, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
