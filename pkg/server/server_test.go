package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/entrhq/portalcap/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	state orchestrator.State
	last  *orchestrator.Summary
}

func (f *fakeSource) State() orchestrator.State { return f.state }
func (f *fakeSource) LastSummary() *orchestrator.Summary { return f.last }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New("", &fakeSource{}, logging.Discard("server"))

	rec := get(t, s.Handler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_Idle(t *testing.T) {
	s := New("", &fakeSource{state: orchestrator.StateIdle}, logging.Discard("server"))

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body["state"])
	assert.Nil(t, body["last_run"])
	assert.NotEmpty(t, body["process_id"])
}

func TestStatus_RunningWithLastRun(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	last := &orchestrator.Summary{
		RunID:      "a1b2",
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		Pages: []orchestrator.PageResult{
			{Name: "CALENDARIO", Status: orchestrator.PageDelivered},
		},
		Err: errors.New("timed out"),
	}
	s := New("", &fakeSource{state: orchestrator.StateRunning, last: last}, logging.Discard("server"))

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State   string `json:"state"`
		LastRun struct {
			RunID    string  `json:"run_id"`
			Error    string  `json:"error"`
			Duration float64 `json:"duration_seconds"`
			Pages    []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"pages"`
		} `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.State)
	assert.Equal(t, "a1b2", body.LastRun.RunID)
	assert.Equal(t, "timed out", body.LastRun.Error)
	assert.Equal(t, 30.0, body.LastRun.Duration)
	require.Len(t, body.LastRun.Pages, 1)
	assert.Equal(t, "delivered", body.LastRun.Pages[0].Status)
}

func TestMetrics(t *testing.T) {
	s := New("", &fakeSource{}, logging.Discard("server"))

	rec := get(t, s.Handler(), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portalcap_runs_started_total")
}

func TestUnknownRoute(t *testing.T) {
	s := New("", &fakeSource{}, logging.Discard("server"))

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/run").Code)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(ln.Addr().String(), &fakeSource{}, logging.Discard("server"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
