package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]string
}

func adminStub(t *testing.T, data string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method, rec.path = r.Method, r.URL.Path
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":200,"message":"OK","data":`+data+`}`)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func run(t *testing.T, srv *httptest.Server, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--addr", srv.URL}, args...))
	require.NoError(t, rootCmd.Execute())
	asJSON = false
	forceReason = "operator"
	return out.String()
}

func TestStatusTable(t *testing.T) {
	srv, rec := adminStub(t, `[{"guard":"execution","mode":"degraded","label":"slowdown","mode_age_seconds":42,"reason_codes":["ack_latency_high"]}]`)

	out := run(t, srv, "status")

	assert.Equal(t, "/api/guards", rec.path)
	assert.Contains(t, out, "execution")
	assert.Contains(t, out, "slowdown")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "ack_latency_high")
}

func TestForcePostsModeAndReason(t *testing.T) {
	srv, rec := adminStub(t, `{"id":"d-1","mode":"panic","label":"block_aggressive","expires_at":"2024-03-01T12:05:00Z","source":"execution","forced":true}`)

	out := run(t, srv, "force", "execution", "panic", "--reason", "exchange incident")

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/guards/execution/force", rec.path)
	assert.Equal(t, map[string]string{"mode": "panic", "reason": "exchange incident"}, rec.body)
	assert.Contains(t, out, "execution -> panic (block_aggressive)")
}

func TestForceRejectsUnknownModeLocally(t *testing.T) {
	srv, rec := adminStub(t, `{}`)
	rootCmd.SetArgs([]string{"--addr", srv.URL, "force", "execution", "meltdown"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)

	assert.Error(t, rootCmd.Execute())
	assert.Empty(t, rec.path)
}

func TestEndpointsMarksActive(t *testing.T) {
	srv, _ := adminStub(t, `[{"endpoint":"ep-a","score":0.91,"active":true},{"endpoint":"ep-b","score":0.4}]`)

	out := run(t, srv, "endpoints")

	assert.Contains(t, out, "ep-a")
	assert.Contains(t, out, "0.910")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "ep-b")
}

func TestActivateSendsEndpoint(t *testing.T) {
	srv, rec := adminStub(t, `[{"endpoint":"ep-b","score":0.8,"active":true}]`)

	run(t, srv, "activate", "ep-b")

	assert.Equal(t, "/api/endpoints/active", rec.path)
	assert.Equal(t, "ep-b", rec.body["endpoint"])
}
