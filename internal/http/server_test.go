package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"participation/internal/cache"
	"participation/internal/core"
	"participation/internal/log"
	"participation/internal/metrics"
	"participation/internal/middleware/ratelimit"
	"participation/internal/services"
	"participation/internal/store/memory"
)

var (
	testEmployees = []core.Employee{
		{EmployeeID: "E1", Status: core.StatusOn},
		{EmployeeID: "E9", Status: core.StatusOff},
	}
	testProjects = []core.Project{
		{ProjectID: "P1", ProjectName: "Alpha", Status: core.StatusOn},
		{ProjectID: "P2", ProjectName: "Beta", Status: core.StatusOn},
	}
	testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, core.Seoul())
)

// failingStore fails every save with err.
type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) SaveMonth(ctx context.Context, key core.MonthKey, rows []core.AllocationRow) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.SaveMonth(ctx, key, rows)
}

type testEnv struct {
	srv     *Server
	store   *failingStore
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st := &failingStore{Store: memory.New(testEmployees, testProjects)}
	m := metrics.New()
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	svc := services.NewAllocationService(services.Dependencies{
		References:     st,
		Allocations:    st,
		Metrics:        m,
		Logger:         logger,
		ReferenceCache: cache.NewLRUCache[core.ReferenceData](1, time.Minute),
		StoreTimeout:   time.Second,
	})

	opts.Metrics = m
	opts.Logger = logger
	opts.Now = func() time.Time { return testNow }
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: st, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func findCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	return nil
}

func (e *testEnv) open(t *testing.T, employee string) *http.Cookie {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/sessions", url.Values{
		"employee": {employee}, "year": {"2024"}, "month": {"3"},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	c := findCookie(rr)
	require.NotNil(t, c)
	return c
}

func addRow(project, role, rate string) url.Values {
	return url.Values{"project": {project}, "role": {role}, "rate": {rate}}
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	rr := env.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Project Participation")
	assert.Contains(t, body, `<option value="E1">E1</option>`)
	assert.NotContains(t, body, `value="E9"`, "inactive employees are not offered")
	assert.Contains(t, body, `<option value="2025">2025</option>`)
	assert.Contains(t, body, `<option value="2023">2023</option>`)
	assert.Contains(t, body, `<option value="2024" selected>`)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	rr = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, Options{Ready: func(context.Context) error { return errors.New("connection refused") }})

	rr := env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var ready map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ready))
	assert.Equal(t, "not_ready", ready["status"])
	checks := ready["checks"].(map[string]any)
	assert.Contains(t, checks["store"], "connection refused")
}

func TestSaveFullMonth(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")

	rr := env.do(t, http.MethodPost, "/editor/rows", addRow("P1", "00", "60"), cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "total is under 100% by 40")

	rr = env.do(t, http.MethodPost, "/editor/rows", addRow("P2", "40", "40"), cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "total is exactly 100%")
	assert.Contains(t, rr.Body.String(), "사업개발")

	rr = env.do(t, http.MethodPost, "/editor/save", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("HX-Trigger"), `"month:saved"`)
	assert.Contains(t, rr.Body.String(), "Saved E1 2024-03")
	cleared := findCookie(rr)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	records, err := env.store.LoadMonth(context.Background(), core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 3})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 100, core.SumRates(records))

	// The session is gone after a successful save.
	rr = env.do(t, http.MethodGet, "/editor", nil, cookie)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSaveRejectedWhenNotFull(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")

	env.do(t, http.MethodPost, "/editor/rows", addRow("P1", "00", "60"), cookie)
	rr := env.do(t, http.MethodPost, "/editor/save", nil, cookie)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "total is under 100% by 40")
	assert.Equal(t, "#messages", rr.Header().Get("HX-Retarget"))

	records, err := env.store.LoadMonth(context.Background(), core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Empty(t, records)

	// Rows survive the rejection.
	rr = env.do(t, http.MethodGet, "/editor", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Alpha")
}

func TestSaveStoreFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")
	env.do(t, http.MethodPost, "/editor/rows", addRow("P1", "00", "100"), cookie)

	env.store.err = errors.New("disk full")
	rr := env.do(t, http.MethodPost, "/editor/save", nil, cookie)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk full")

	env.store.err = nil
	rr = env.do(t, http.MethodPost, "/editor/save", nil, cookie)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestEditorRejections(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/editor/rows", addRow("P1", "00", "50"), cookie).Code)

	tests := []struct {
		name   string
		path   string
		form   url.Values
		status int
		want   string
	}{
		{"duplicate", "/editor/rows", addRow("P1", "00", "10"), http.StatusUnprocessableEntity, "already added"},
		{"missing role", "/editor/rows", addRow("P1", "", "10"), http.StatusUnprocessableEntity, "must be selected"},
		{"unknown project", "/editor/rows", addRow("P404", "00", "10"), http.StatusUnprocessableEntity, "unknown project"},
		{"rate over 100", "/editor/rows", addRow("P2", "00", "101"), http.StatusUnprocessableEntity, "between 0 and 100"},
		{"rate not a number", "/editor/rows/0/rate", url.Values{"rate": {"abc"}}, http.StatusUnprocessableEntity, "not a whole number"},
		{"negative rate", "/editor/rows/0/rate", url.Values{"rate": {"-1"}}, http.StatusUnprocessableEntity, "between 0 and 100"},
		{"rate on missing row", "/editor/rows/7/rate", url.Values{"rate": {"10"}}, http.StatusNotFound, "no longer exists"},
		{"delete bad index", "/editor/rows/x/delete", nil, http.StatusNotFound, "no longer exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.form, cookie)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.want)
		})
	}

	rejected, err := env.metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range rejected {
		if f.GetName() == "participation_editor_rejections_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSetRateAndRemoveRow(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")
	env.do(t, http.MethodPost, "/editor/rows", addRow("P1", "00", "60"), cookie)
	env.do(t, http.MethodPost, "/editor/rows", addRow("P2", "05", "30"), cookie)

	rr := env.do(t, http.MethodPost, "/editor/rows/1/rate", url.Values{"rate": {"40"}}, cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "100%")

	rr = env.do(t, http.MethodPost, "/editor/rows/0/delete", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "Alpha <span")
	assert.Contains(t, rr.Body.String(), "total is under 100% by 60")
}

func TestMissingSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, path := range []string{"/editor/rows", "/editor/save", "/editor/rows/0/delete"} {
		rr := env.do(t, http.MethodPost, path, addRow("P1", "00", "10"), nil)
		assert.Equal(t, http.StatusConflict, rr.Code, path)
		assert.Contains(t, rr.Body.String(), "Session expired")
	}

	rr := env.do(t, http.MethodGet, "/editor", nil, &http.Cookie{Name: sessionCookie, Value: "stale"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestOpenSessionValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"inactive employee", url.Values{"employee": {"E9"}, "year": {"2024"}, "month": {"3"}}, "not active"},
		{"missing employee", url.Values{"year": {"2024"}, "month": {"3"}}, "empty employee id"},
		{"bad month", url.Values{"employee": {"E1"}, "year": {"2024"}, "month": {"13"}}, "month 13"},
		{"month not a number", url.Values{"employee": {"E1"}, "year": {"2024"}, "month": {"March"}}, "not a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/sessions", tt.form, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.want)
			assert.Nil(t, findCookie(rr))
		})
	}
}

func TestOpenSessionLoadsSavedMonth(t *testing.T) {
	env := newTestEnv(t, Options{})
	key := core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}
	require.NoError(t, env.store.Store.SaveMonth(context.Background(), key, []core.AllocationRow{
		{ProjectID: "P1", ProjectName: "Alpha", RoleCode: core.RoleOperations, RoleName: "사업운영", Rate: 70},
		{ProjectID: "P2", ProjectName: "Beta", RoleCode: core.RoleConsulting, RoleName: "컨설팅", Rate: 30},
	}))
	env.store.SetProjectStatus("P2", core.StatusOff)

	rr := env.do(t, http.MethodPost, "/sessions", url.Values{
		"employee": {"E1"}, "year": {"2024"}, "month": {"3"},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := rr.Body.String()
	assert.Contains(t, body, "사업운영")
	assert.Contains(t, body, "no longer active")
	assert.Contains(t, body, `class="stale"`)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), `"type":"warning"`)
}

func TestReopenReplacesSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	first := env.open(t, "E1")
	assert.Equal(t, 1, env.srv.sessions.size())

	rr := env.do(t, http.MethodPost, "/sessions", url.Values{
		"employee": {"E1"}, "year": {"2024"}, "month": {"4"},
	}, first)
	require.Equal(t, http.StatusOK, rr.Code)
	second := findCookie(rr)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, 1, env.srv.sessions.size())

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodGet, "/editor", nil, first).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/editor", nil, second).Code)
}

func TestResetDiscardsSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")

	rr := env.do(t, http.MethodPost, "/editor/reset", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Select an employee and month")
	assert.Equal(t, 0, env.srv.sessions.size())
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodGet, "/editor", nil, cookie).Code)
}

func TestIndexRendersOpenSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.open(t, "E1")
	env.do(t, http.MethodPost, "/editor/rows", addRow("P2", "31", "25"), cookie)

	rr := env.do(t, http.MethodGet, "/", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Beta <span")
	assert.Equal(t, 1, strings.Count(rr.Body.String(), `id="messages"`))
}

func TestRateLimitAppliesToPosts(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 1, Burst: 2}})

	form := url.Values{"employee": {"E1"}, "year": {"2024"}, "month": {"3"}}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions", form, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions", form, nil).Code)
	rr := env.do(t, http.MethodPost, "/sessions", form, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestStaticAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	rr := env.do(t, http.MethodGet, "/static/style.css", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	rr = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "participation_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/nope", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/editor/save", nil, nil).Code)
}
