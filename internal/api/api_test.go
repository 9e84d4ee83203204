package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeCounter int

func (c fakeCounter) Len() int { return int(c) }

func TestHealthHealthy(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakePinger{}, fakeCounter(3)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, 3, body.LoadedChats)
	require.Equal(t, "pass", body.Checks["storage"].Status)
}

func TestHealthDegraded(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(fakePinger{err: errors.New("down")}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "fail", body.Checks["storage"].Status)
}

func scrape(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(fakePinger{}, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	body := scrape(t, router)
	require.Contains(t, body, `evochat_http_requests_total{method="GET",path="/healthz",status="200"}`)
	require.Contains(t, body, "evochat_http_request_duration_seconds")
}

func TestUnknownPathLabel(t *testing.T) {
	router := NewRouter(fakePinger{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, router)
	require.Contains(t, body, `path="unmatched",status="404"`)
	require.NotContains(t, body, "/nope/123")
}
