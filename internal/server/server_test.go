package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/comigor/webgpt-go/internal/cache"
	"github.com/comigor/webgpt-go/internal/chat"
	"github.com/comigor/webgpt-go/internal/metrics"
)

type fakeCompleter struct {
	reply string
	ok    bool
	calls atomic.Int32
}

func (f *fakeCompleter) Complete(context.Context, []chat.Message) (string, bool) {
	f.calls.Add(1)
	return f.reply, f.ok
}

func newTestServer(t *testing.T, c chat.Completer, store cache.Store) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New("test_server")
	ts := httptest.NewServer(New(c, store, m).Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

type predictPayload struct {
	Pairs   [][2]string    `json:"pairs"`
	History []chat.Message `json:"history"`
}

func TestPredict_RoundTrip(t *testing.T) {
	c := &fakeCompleter{reply: "yo", ok: true}
	ts, m := newTestServer(t, c, nil)

	res := postJSON(t, ts.URL+"/api/predict", map[string]any{"input": "hi", "history": []chat.Message{}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, res.Header.Get("X-Request-ID"))

	var got predictPayload
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Equal(t, [][2]string{{"hi", "yo"}}, got.Pairs)
	require.Equal(t, []chat.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "yo"}}, got.History)

	res = postJSON(t, ts.URL+"/api/predict", map[string]any{"input": "bye", "history": got.History})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Equal(t, [][2]string{{"hi", "yo"}, {"bye", "yo"}}, got.Pairs)
	require.Len(t, got.History, 4)
	require.EqualValues(t, 2, c.calls.Load())

	// the access log records after the response is flushed
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/predict", "200")) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPredict_FailedCompletionLeavesEmptyReply(t *testing.T) {
	ts, _ := newTestServer(t, &fakeCompleter{ok: false}, nil)

	res := postJSON(t, ts.URL+"/api/predict", map[string]any{"input": "hi"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got predictPayload
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Equal(t, [][2]string{{"hi", ""}}, got.Pairs)
	require.Equal(t, chat.Message{Role: "assistant", Content: ""}, got.History[1])
}

func TestPredict_BadRequests(t *testing.T) {
	c := &fakeCompleter{reply: "yo", ok: true}
	ts, _ := newTestServer(t, c, nil)

	res, err := http.Post(ts.URL+"/api/predict", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	bad := postJSON(t, ts.URL+"/api/predict", map[string]any{
		"input":   "hi",
		"history": []chat.Message{{Role: "robot", Content: "beep"}},
	})
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	require.Zero(t, c.calls.Load())
}

func TestUIAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeCompleter{}, nil)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `id="chatbot"`)

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
	require.Equal(t, false, payload["cache_enabled"])

	metricsRes, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsRes.Body.Close()
	require.Equal(t, http.StatusOK, metricsRes.StatusCode)
}

func TestCacheRoutesAbsentWithoutStore(t *testing.T) {
	ts, _ := newTestServer(t, &fakeCompleter{}, nil)

	res, err := http.Get(ts.URL + "/api/cache/anything")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCacheRoutes(t *testing.T) {
	store := cache.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	t.Cleanup(func() { store.Close() })
	ts, _ := newTestServer(t, &fakeCompleter{}, store)

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	require.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/cache/greeting", "").StatusCode)
	require.Equal(t, http.StatusNoContent, do(http.MethodPut, "/api/cache/greeting", "hello").StatusCode)

	res := do(http.MethodGet, "/api/cache/greeting", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Equal(t, map[string]string{"key": "greeting", "value": "hello"}, got)

	require.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/cache/greeting", "").StatusCode)
	require.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/cache/greeting", "").StatusCode)
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts, _ := newTestServer(t, &fakeCompleter{}, nil)

	id := "3f1c2a8e-1b5d-4a8e-9c1e-2f3a4b5c6d7e"
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", id)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, id, res.Header.Get("X-Request-ID"))
}
