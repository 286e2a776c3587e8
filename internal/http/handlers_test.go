package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/moodflow/internal/domain"
	"github.com/hperssn/moodflow/internal/notify"
	"github.com/hperssn/moodflow/internal/stats"
	"github.com/hperssn/moodflow/internal/storage"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func newTestRouter(t *testing.T, devUser string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := notify.NewHub()
	svc := stats.NewService(storage.NewMemoryRepository(), stats.Options{
		RecomputeOnRead: true,
		Clock:           fixedClock(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)),
		Logger:          logger,
		Hub:             hub,
	})
	return NewHandler(svc, hub, logger).Router(devUser)
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set("X-Auth-User", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type sessionBody struct {
	Session domain.Session `json:"session"`
}

type statsBody struct {
	Stats domain.StatsReport `json:"stats"`
}

func startSession(t *testing.T, h http.Handler, user string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/sessions", user, `{"plannedMinutes": 25, "mood": "high", "taskType": "coding"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionBody](t, rec).Session.ID
}

func TestHealthzNeedsNoIdentity(t *testing.T) {
	rec := do(t, newTestRouter(t, ""), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	rec := do(t, newTestRouter(t, ""), http.MethodGet, "/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityHeaderFallbacks(t *testing.T) {
	h := newTestRouter(t, "")

	for _, header := range []string{"X-Forwarded-User", "Remote-User"} {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.Header.Set(header, "bob")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, header)
	}
}

func TestDevUserFallback(t *testing.T) {
	h := newTestRouter(t, "dev-user")
	id := startSession(t, h, "")

	rec := do(t, h, http.MethodGet, "/sessions/"+id, "dev-user", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestRouter(t, "")
	id := startSession(t, h, "alice")

	rec := do(t, h, http.MethodGet, "/sessions/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[sessionBody](t, rec).Session
	assert.Equal(t, 25, got.PlannedMinutes)
	assert.Equal(t, domain.MoodHigh, got.Mood)
	assert.Equal(t, domain.TaskCoding, got.TaskType)

	rec = do(t, h, http.MethodGet, "/sessions/"+id, "mallory", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "sessions are per user")

	rec = do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": 30, "notes": "recursion"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var completed struct {
		Session domain.Session     `json:"session"`
		Stats   domain.StatsReport `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.True(t, completed.Session.Completed)
	assert.Equal(t, domain.StatsReport{
		TotalStudyTime:  30,
		TotalSessions:   1,
		CurrentStreak:   1,
		LongestStreak:   1,
		LastSessionDate: domain.NewDate(2024, 1, 2),
	}, completed.Stats)

	rec = do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": 30}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/sessions", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Sessions []domain.Session `json:"sessions"`
	}](t, rec)
	assert.Len(t, list.Sessions, 1)
}

func TestStatsJSONShape(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/stats", "newbie", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":{"totalStudyTime":0,"totalSessions":0,"currentStreak":0,"longestStreak":0,"lastSessionDate":null}}`, rec.Body.String())

	id := startSession(t, h, "newbie")
	do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "newbie", `{"durationActual": 15}`)

	rec = do(t, h, http.MethodGet, "/stats", "newbie", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":{"totalStudyTime":15,"totalSessions":1,"currentStreak":1,"longestStreak":1,"lastSessionDate":"2024-01-02"}}`, rec.Body.String())
}

func TestStatsClientTodayStaleness(t *testing.T) {
	h := newTestRouter(t, "")
	id := startSession(t, h, "alice")
	do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": 10}`)

	rec := do(t, h, http.MethodGet, "/stats?today=2024-01-10", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[statsBody](t, rec).Stats
	assert.Equal(t, 0, report.CurrentStreak)
	assert.Equal(t, 1, report.LongestStreak)

	rec = do(t, h, http.MethodGet, "/stats?today=not-a-date", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[statsBody](t, rec).Stats.CurrentStreak, "invalid override falls back to server date")
}

func TestCompleteErrors(t *testing.T) {
	h := newTestRouter(t, "")
	id := startSession(t, h, "alice")

	rec := do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": -5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/sessions/unknown/complete", "alice", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSessionValidation(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodPost, "/sessions", "alice", `{"mood": "furious"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/sessions", "alice", "")
	assert.Equal(t, http.StatusCreated, rec.Code, "empty body uses defaults")
}

func TestReconcileEndpoint(t *testing.T) {
	h := newTestRouter(t, "")
	id := startSession(t, h, "alice")
	do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": 10}`)

	rec := do(t, h, http.MethodPost, "/stats/reconcile", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[statsBody](t, rec).Stats
	assert.Equal(t, 1, report.CurrentStreak)
	assert.Equal(t, 1, report.TotalSessions)
}

func TestStatsEventsStream(t *testing.T) {
	h := newTestRouter(t, "")
	srv := httptest.NewServer(h)
	defer srv.Close()

	id := startSession(t, h, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stats/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-User", "alice")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() domain.StatsReport {
		t.Helper()
		for {
			line, err := reader.ReadBytes('\n')
			require.NoError(t, err)
			if data, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
				var r domain.StatsReport
				require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &r))
				return r
			}
		}
	}

	initial := readEvent()
	assert.Equal(t, 0, initial.TotalSessions)

	rec := do(t, h, http.MethodPut, "/sessions/"+id+"/complete", "alice", `{"durationActual": 20}`)
	require.Equal(t, http.StatusOK, rec.Code)

	update := readEvent()
	assert.Equal(t, 1, update.TotalSessions)
	assert.Equal(t, 20, update.TotalStudyTime)
}
