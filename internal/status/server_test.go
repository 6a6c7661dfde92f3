package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/session"
	"github.com/brooks-builds/twitch-eventsub/internal/sink"
)

type fakeSource struct {
	state session.State
	sess  *session.Session
}

func (f fakeSource) State() session.State { return f.state }

func (f fakeSource) Session() (session.Session, bool) {
	if f.sess == nil {
		return session.Session{}, false
	}
	return *f.sess, true
}

type fakeEvents struct {
	entries []sink.Entry
	err     error
	limit   int
}

func (f *fakeEvents) Recent(_ context.Context, limit int) ([]sink.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	h := New(fakeSource{}, WithLogger(logging.NewTestLogger(t))).Handler()
	rec := get(t, h, "/healthz", "")

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, expected := range want {
		assert.Equal(t, expected, rec.Header().Get(header), header)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		state session.State
		code  int
		body  string
	}{
		{session.StateSubscribed, http.StatusOK, `{"status":"ok","state":"subscribed"}`},
		{session.StateReconnecting, http.StatusOK, `{"status":"ok","state":"reconnecting"}`},
		{session.StateRevoked, http.StatusServiceUnavailable, `{"status":"down","state":"revoked"}`},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := New(fakeSource{state: tt.state}, WithToken("secret")).Handler()
			rec := get(t, h, "/healthz", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestSession(t *testing.T) {
	src := fakeSource{
		state: session.StateSubscribed,
		sess:  &session.Session{ID: "s1", Status: session.Active, Epoch: 2},
	}
	h := New(src, WithToken("secret")).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/session", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/session", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/session?token=secret", "").Code)

	rec := get(t, h, "/api/session", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		State   string `json:"state"`
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Epoch  int    `json:"epoch"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscribed", body.State)
	assert.Equal(t, "s1", body.Session.ID)
	assert.Equal(t, "active", body.Session.Status)
	assert.Equal(t, 2, body.Session.Epoch)
}

func TestEvents(t *testing.T) {
	ev := &fakeEvents{entries: []sink.Entry{{MessageID: "m1", Type: "channel.follow"}}}
	h := New(fakeSource{}, WithEvents(ev)).Handler()

	rec := get(t, h, "/api/events?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ev.limit)
	var entries []sink.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].MessageID)

	get(t, h, "/api/events?limit=100000", "")
	assert.Equal(t, maxEventLimit, ev.limit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/events?limit=-1", "").Code)

	ev.err = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/events", "").Code)
}

func TestEventsEmptyAndDisabled(t *testing.T) {
	h := New(fakeSource{}, WithEvents(&fakeEvents{})).Handler()
	rec := get(t, h, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	h = New(fakeSource{}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/events", "").Code)
}

func TestProcess(t *testing.T) {
	h := New(fakeSource{}).Handler()
	rec := get(t, h, "/api/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats ProcessStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, os.Getpid(), stats.PID)
	assert.Positive(t, stats.Goroutines)
}

type fakeMetrics []observability.Point

func (f fakeMetrics) Snapshot(context.Context) ([]observability.Point, error) { return f, nil }

func TestMetrics(t *testing.T) {
	h := New(fakeSource{}, WithToken("secret"), WithMetrics(fakeMetrics{
		{Name: "eventsub.frames", Attributes: map[string]string{"kind": "keepalive"}, Value: 3},
	})).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/metrics", "").Code)

	rec := get(t, h, "/api/metrics", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"eventsub.frames","attributes":{"kind":"keepalive"},"value":3}]`, rec.Body.String())

	h = New(fakeSource{}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/metrics", "").Code)
}
