package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshbridge/internal/bridge"
	"github.com/nerrad567/meshbridge/internal/conn"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

type fakeSource struct {
	stats bridge.Stats
	snap  conn.Snapshot
}

func (f *fakeSource) Stats() bridge.Stats     { return f.stats }
func (f *fakeSource) Snapshot() conn.Snapshot { return f.snap }

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func newTestServer(t *testing.T, src *fakeSource, reg prometheus.Gatherer) *Server {
	t.Helper()
	s, err := New(Deps{
		Config:   config.MetricsConfig{Host: "127.0.0.1", Port: 0},
		Source:   src,
		Registry: reg,
		Logger:   &recordingLogger{},
		Node:     "meshcore-0A0B0C",
		Version:  "test",
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(Deps{Logger: &recordingLogger{}})
	assert.Error(t, err)
}

func TestHealth_SessionUp(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestServer(t, &fakeSource{snap: conn.Snapshot{State: conn.SessionUp, Since: since}}, nil)

	rec := get(t, s.buildRouter(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "session_up", resp.State)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.Since)
}

func TestHealth_NotConnected(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: conn.Snapshot{State: conn.LinkConnecting}}, nil)

	rec := get(t, s.buildRouter(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "link_connecting", resp.State)
}

func TestStatus_Document(t *testing.T) {
	src := &fakeSource{
		stats: bridge.Stats{PacketsPublished: 4, DroppedEcho: 2, DecodeStale: 1, DecodeTooShort: 1},
		snap: conn.Snapshot{
			State:       conn.Disconnected,
			LastError:   errors.New("transport: connection refused"),
			TLSSource:   "builtin",
			TLSVerified: true,
		},
	}
	s := newTestServer(t, src, nil)

	rec := get(t, s.buildRouter(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "meshcore-0A0B0C", resp.Node)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, uint64(4), resp.Outbound.Published)
	assert.Equal(t, uint64(2), resp.Inbound.Echo)
	assert.Equal(t, uint64(2), resp.Inbound.DecodeErrors)
	assert.Equal(t, "disconnected", resp.Connection.State)
	assert.Equal(t, "builtin", resp.Connection.TLSSource)
	assert.True(t, resp.Connection.TLSVerified)
	assert.Equal(t, "transport: connection refused", resp.Connection.LastError)
}

func TestMetrics_Endpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "meshbridge_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := newTestServer(t, &fakeSource{}, reg)
	rec := get(t, s.buildRouter(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meshbridge_test_total 3")
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	s := newTestServer(t, &fakeSource{}, nil)
	h := s.buildRouter()

	rec := get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t, &fakeSource{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "abc123")
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := &recordingLogger{}
	s := newTestServer(t, &fakeSource{}, nil)
	s.logger = logger

	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(t, h, "/")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Len(t, logger.errors, 1)
}

func TestStartClose(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: conn.Snapshot{State: conn.SessionUp}}, nil)
	require.NoError(t, s.Start(t.Context()))
	assert.Error(t, s.Start(t.Context()))

	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "session_up"))

	require.NoError(t, s.Close())
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Close())
}
