package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goahttp "goa.design/goa/v3/http"

	"printwatch/internal/auth"
	"printwatch/internal/detection"
	"printwatch/internal/events"
	"printwatch/internal/jobs"
	"printwatch/internal/model"
	"printwatch/internal/printers"
	"printwatch/internal/store"
)

type fixture struct {
	handler http.Handler
	bus     *events.Bus
	server  *Server
}

func newFixture(t *testing.T, authRequired bool) *fixture {
	t.Helper()
	st := store.NewMemory()
	bus := events.NewBus()

	mux := goahttp.NewMuxer()
	s := New(mux, Deps{
		Jobs:     jobs.NewManager(st, st, bus),
		Printers: printers.NewRegistry(st),
		Auth:     auth.NewAuthenticator(st, auth.NewJWTManager("test-secret", time.Hour), authRequired),
		Snapshot: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	})
	return &fixture{handler: mux, bus: bus, server: s}
}

func (f *fixture) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) registerPrinter(t *testing.T) model.Printer {
	t.Helper()
	rec := f.do(t, "POST", "/api/printers/register", map[string]any{"name": "Prusa MK4", "location": "lab"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[model.Printer](t, rec)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, rec)["status"])
}

type stubDetector struct{ reachable bool }

func (stubDetector) IsLoaded() bool                    { return true }
func (d stubDetector) Healthy(ctx context.Context) bool { return d.reachable }
func (stubDetector) Labels() *detection.LabelSet        { return detection.DefaultLabels() }

type stubCamera struct{ running bool }

func (c stubCamera) IsAvailable() bool { return c.running }
func (stubCamera) Index() int          { return 2 }

type sessionCount int

func (n sessionCount) Active() int      { return int(n) }
func (n sessionCount) ClientCount() int { return int(n) }

func TestHealthReportsComponents(t *testing.T) {
	tests := []struct {
		name     string
		detector stubDetector
		camera   stubCamera
		status   string
		index    any
	}{
		{"all up", stubDetector{reachable: true}, stubCamera{running: true}, "ok", float64(2)},
		{"inference down", stubDetector{}, stubCamera{}, "degraded", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := goahttp.NewMuxer()
			New(mux, Deps{
				Monitor:  sessionCount(1),
				Clients:  sessionCount(3),
				Detector: tt.detector,
				Camera:   tt.camera,
			})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			body := decodeBody[map[string]any](t, rec)
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, float64(1), body["monitoring_sessions"])
			assert.Equal(t, float64(3), body["event_clients"])

			det := body["detector"].(map[string]any)
			assert.Equal(t, true, det["model_loaded"])
			assert.Equal(t, []any{"finished", "failure_1", "failure_2"}, det["classes"])

			cam := body["camera"].(map[string]any)
			assert.Equal(t, tt.camera.running, cam["available"])
			assert.Equal(t, tt.index, cam["index"])
		})
	}
}

func TestRegisterAndListPrinters(t *testing.T) {
	f := newFixture(t, false)
	p := f.registerPrinter(t)
	assert.Equal(t, "Prusa MK4", p.Name)
	assert.Equal(t, model.PrinterStatusIdle, p.Status)

	rec := f.do(t, "GET", "/api/printers/list", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]model.Printer](t, rec), 1)

	rec = f.do(t, "POST", "/api/printers/register", map[string]any{"location": "lab"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name is required", decodeBody[errorResponse](t, rec).Error)
}

func TestJobLifecycle(t *testing.T) {
	f := newFixture(t, false)
	p := f.registerPrinter(t)

	var emitted []string
	for _, name := range []string{events.JobCreated, events.JobFinished, events.JobFailed} {
		f.bus.Subscribe(name, func(ev *events.Event) error {
			emitted = append(emitted, ev.Name)
			return nil
		})
	}

	rec := f.do(t, "POST", "/api/jobs/create", map[string]any{
		"printer_id": p.ID, "file_name": "benchy.gcode", "user_email": "maker@example.com",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := decodeBody[model.Job](t, rec)
	assert.Equal(t, model.JobStatusPrinting, job.Status)
	require.NotNil(t, job.UserEmail)

	path := "/api/jobs/" + strconv.Itoa(job.ID)

	rec = f.do(t, "POST", path+"/progress?progress=42.5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.5, decodeBody[model.Job](t, rec).Progress)

	rec = f.do(t, "POST", path+"/progress?progress=100", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeBody[model.Job](t, rec)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.NotNil(t, done.FinishedAt)

	rec = f.do(t, "POST", path+"/fail", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "GET", path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.JobStatusCompleted, decodeBody[model.Job](t, rec).Status)

	rec = f.do(t, "GET", "/api/jobs/list", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]model.Job](t, rec), 1)

	assert.Equal(t, []string{events.JobCreated, events.JobFinished}, emitted)
}

func TestJobErrors(t *testing.T) {
	f := newFixture(t, false)
	p := f.registerPrinter(t)

	rec := f.do(t, "POST", "/api/jobs/create", map[string]any{"printer_id": 99, "file_name": "a.gcode"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/api/jobs/create", map[string]any{"printer_id": p.ID}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/jobs/create", map[string]any{"printer_id": p.ID, "file_name": "a", "user_email": "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "user_email")

	rec = f.do(t, "POST", "/api/jobs/create", map[string]any{"printer_id": p.ID, "file_name": "a.gcode"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[model.Job](t, rec)
	path := "/api/jobs/" + strconv.Itoa(job.ID)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"missing job", "GET", "/api/jobs/42", http.StatusNotFound},
		{"bad id", "GET", "/api/jobs/abc", http.StatusBadRequest},
		{"missing progress", "POST", path + "/progress", http.StatusBadRequest},
		{"non numeric progress", "POST", path + "/progress?progress=half", http.StatusBadRequest},
		{"progress above 100", "POST", path + "/progress?progress=101", http.StatusBadRequest},
		{"negative progress", "POST", path + "/progress?progress=-1", http.StatusBadRequest},
		{"progress on missing job", "POST", "/api/jobs/42/progress?progress=5", http.StatusNotFound},
		{"fail missing job", "POST", "/api/jobs/42/fail", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, nil, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec = f.do(t, "POST", path+"/fail", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.JobStatusFailed, decodeBody[model.Job](t, rec).Status)

	rec = f.do(t, "POST", path+"/progress?progress=50", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignupSigninMe(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, "POST", "/api/auth/signup", map[string]string{"email": "ada@example.com", "password": "s3cret-pw"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(t, "POST", "/api/auth/signup", map[string]string{"email": "ada@example.com", "password": "other"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/auth/signin-json", map[string]string{"email": "ada@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	form := url.Values{"username": {"ada@example.com"}, "password": {"s3cret-pw"}}
	req := httptest.NewRequest("POST", "/api/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decodeBody[auth.Token](t, rec)
	assert.Equal(t, "bearer", token.TokenType)
	require.NotEmpty(t, token.AccessToken)

	rec = f.do(t, "GET", "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "GET", "/api/auth/me", nil, token.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decodeBody[map[string]any](t, rec)["email"])
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, "POST", "/api/auth/signup", map[string]string{"email": "not-an-email", "password": "pw"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/auth/signup", map[string]string{"email": "a@example.com", "password": strings.Repeat("x", 73)}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/auth/signup", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, "GET", "/api/jobs/list", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, "GET", "/api/camera/frame", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/api/auth/signup", map[string]string{"email": "ada@example.com", "password": "s3cret-pw"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, "POST", "/api/auth/signin-json", map[string]string{"email": "ada@example.com", "password": "s3cret-pw"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeBody[auth.Token](t, rec).AccessToken

	rec = f.do(t, "GET", "/api/jobs/list", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "GET", "/api/camera/frame", nil, token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMounts(t *testing.T) {
	f := newFixture(t, false)
	patterns := map[string]bool{}
	for _, m := range f.server.Mounts {
		patterns[m.Verb+" "+m.Pattern] = true
	}
	assert.True(t, patterns["POST /api/jobs/{id}/progress"])
	assert.True(t, patterns["GET /api/camera/frame"])
	assert.False(t, patterns["GET /api/camera/stream"], "stream is only mounted when configured")
}
