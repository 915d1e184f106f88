package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/uebax/internal/config"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/report"
	"github.com/gyaneshwarpardhi/uebax/internal/rule"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

type testServer struct {
	h   http.Handler
	mem *store.Memory
	rec *recorder.Recorder
	now time.Time
}

func newTestServer(t *testing.T, deps func(*Deps)) *testServer {
	t.Helper()
	ts := &testServer{now: time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)}
	ts.mem = store.NewMemory(store.WithClock(func() time.Time { return ts.now }))
	set, err := rule.DefaultRegistry().Build(config.Default())
	require.NoError(t, err)
	ts.rec = recorder.New(ts.mem, ts.mem, set, config.EngineConf{BatchWorkers: 2, MaxBatch: 5})

	d := Deps{
		Recorder: ts.rec,
		Events:   ts.mem,
		Alerts:   ts.mem,
		Reporter: report.New(ts.mem, ts.mem, time.UTC),
		Pingers:  map[string]store.Pinger{"memory": ts.mem},
	}
	if deps != nil {
		deps(&d)
	}
	ts.h = New(d)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rw := httptest.NewRecorder()
	ts.h.ServeHTTP(rw, req)

	var out map[string]interface{}
	if rw.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out), rw.Body.String())
	}
	return rw, out
}

func TestRecordEvent(t *testing.T) {
	ts := newTestServer(t, nil)

	rw, body := ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "alice", "kind": "login"})
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	ev := body["event"].(map[string]interface{})
	assert.Equal(t, "alice", ev["actor"])
	assert.Equal(t, "LOGIN", ev["kind"])
	alerts := body["alerts"].([]interface{})
	require.Len(t, alerts, 1)
	assert.Equal(t, "OFF_HOURS_ACCESS", alerts[0].(map[string]interface{})["kind"])
	assert.Empty(t, body["warnings"])
}

func TestRecordEvent_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	for name, body := range map[string]interface{}{
		"invalid json": "{",
		"no actor":     map[string]string{"kind": "LOGIN"},
		"no kind":      map[string]string{"actor": "alice"},
		"bad kind":     map[string]string{"actor": "alice", "kind": "PASSWORD_RESET"},
	} {
		t.Run(name, func(t *testing.T) {
			rw, out := ts.do(t, http.MethodPost, "/v1/events", body)
			assert.Equal(t, http.StatusBadRequest, rw.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
	evs, err := ts.mem.ListEvents(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

// downEvents refuses every append.
type downEvents struct{ *store.Memory }

func (downEvents) Append(context.Context, *event.Event) (*event.Event, error) {
	return nil, store.ErrUnavailable
}

func TestRecordEvent_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	broken := downEvents{ts.mem}
	rec := recorder.New(broken, ts.mem, ts.rec.Rules(), config.EngineConf{})
	h := New(Deps{Recorder: rec, Events: broken, Alerts: ts.mem})

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(`{"actor":"alice","kind":"LOGIN"}`))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)

	as, err := ts.mem.ListAlerts(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, as)
}

func TestRecordBatch(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	batch := []map[string]string{}
	for i := 0; i < 4; i++ {
		batch = append(batch, map[string]string{"actor": "bob", "kind": "LOGIN_FAILURE"})
	}
	batch = append(batch, map[string]string{"actor": "bob", "kind": "NOPE"})

	rw, out := ts.do(t, http.MethodPost, "/v1/events/batch", batch)
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	assert.EqualValues(t, 4, out["recorded"])
	assert.EqualValues(t, 1, out["failed"])
	results := out["results"].([]interface{})
	require.Len(t, results, 5)
	assert.Contains(t, results[4].(map[string]interface{})["error"], "invalid event kind")

	// The fifth failure, recorded alone, latches.
	rw, out = ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "bob", "kind": "LOGIN_FAILURE"})
	require.Equal(t, http.StatusCreated, rw.Code)
	alerts := out["alerts"].([]interface{})
	require.Len(t, alerts, 1)
	assert.Equal(t, "MULTIPLE_LOGIN_FAILURES", alerts[0].(map[string]interface{})["kind"])

	rw, _ = ts.do(t, http.MethodPost, "/v1/events/batch", "[]")
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	tooMany := make([]map[string]string, 6)
	for i := range tooMany {
		tooMany[i] = map[string]string{"actor": "x", "kind": "LOGOUT"}
	}
	rw, _ = ts.do(t, http.MethodPost, "/v1/events/batch", tooMany)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestReplay(t *testing.T) {
	ts := newTestServer(t, nil)
	_, out := ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "alice", "kind": "LOGIN"})
	id := out["event"].(map[string]interface{})["id"].(string)

	rw, out := ts.do(t, http.MethodPost, "/v1/events/"+id+"/replay", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Len(t, out["alerts"], 1)

	rw, _ = ts.do(t, http.MethodPost, "/v1/events/missing/replay", nil)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestListEventsAndAlerts(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, k := range []string{"LOGIN", "LOGOUT", "FILE_ACCESS"} {
		ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "alice", "kind": k})
		ts.now = ts.now.Add(time.Minute)
	}
	ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "bob", "kind": "LOGIN"})

	rw, out := ts.do(t, http.MethodGet, "/v1/events?actor=alice", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.EqualValues(t, 3, out["count"])
	first := out["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "FILE_ACCESS", first["kind"])

	_, out = ts.do(t, http.MethodGet, "/v1/events?kind=login&limit=1", nil)
	assert.EqualValues(t, 1, out["count"])

	_, out = ts.do(t, http.MethodGet, "/v1/events?since=2024-03-04T03:01:00Z&until=2024-03-04T03:02:00Z", nil)
	assert.EqualValues(t, 1, out["count"])

	_, out = ts.do(t, http.MethodGet, "/v1/alerts?kind=off_hours_access", nil)
	assert.EqualValues(t, 2, out["count"])

	for _, q := range []string{"kind=BOGUS", "limit=abc", "limit=5000", "since=yesterday"} {
		rw, _ = ts.do(t, http.MethodGet, "/v1/events?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rw.Code, q)
	}
	rw, _ = ts.do(t, http.MethodGet, "/v1/alerts?kind=LOGIN", nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestDashboardStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/events", map[string]string{"actor": "alice", "kind": "LOGIN"})

	rw, out := ts.do(t, http.MethodGet, "/v1/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, out, "logins_by_hour")
	assert.NotNil(t, out["last_event"])
	assert.EqualValues(t, 1, out["alerts_total"])
	assert.EqualValues(t, 1, out["connected"])
	require.Len(t, out["connections"], 1)
}

func TestRules(t *testing.T) {
	reloaded := false
	ts := newTestServer(t, func(d *Deps) {
		d.Reload = func(context.Context) error {
			reloaded = true
			return nil
		}
	})

	rw, out := ts.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.EqualValues(t, 2, out["count"])
	first := out["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "off_hours_login", first["type"])

	rw, _ = ts.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.True(t, reloaded)
}

func TestRulesReload_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	rw, _ := ts.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusConflict, rw.Code)

	ts = newTestServer(t, func(d *Deps) {
		d.Reload = func(context.Context) error { return errors.New("rules[0]: unknown type") }
	})
	rw, _ = ts.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rw.Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return store.ErrUnavailable }

func TestProbes(t *testing.T) {
	ts := newTestServer(t, nil)
	rw, _ := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rw.Code)
	rw, _ = ts.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rw.Code)

	ts = newTestServer(t, func(d *Deps) { d.Pingers["redis"] = downPinger{} })
	rw, out := ts.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.Equal(t, "ok", out["checks"].(map[string]interface{})["memory"])
}
