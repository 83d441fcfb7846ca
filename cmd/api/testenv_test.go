package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/middleware"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

const testPassword = "secret-pass"

// bcrypt is slow on purpose; hash the shared fixture password once.
var testHash = sync.OnceValue(func() string {
	h, err := auth.HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
})

type testEnv struct {
	t       *testing.T
	srv     *Server
	handler http.Handler
	clock   time.Time

	users         *fakeUsers
	sessionRows   *fakeSessions
	surveys       *fakeSurveys
	respondents   *fakeRespondents
	locations     *fakeLocations
	messages      *fakeMessages
	conversations *fakeConversations
	faqs          *fakeFAQs
	notify        *recordingNotifier
	answerer      *fakeAnswerer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		t:             t,
		clock:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		users:         &fakeUsers{},
		sessionRows:   &fakeSessions{rows: map[string]*data.Session{}},
		surveys:       &fakeSurveys{},
		respondents:   &fakeRespondents{},
		locations:     &fakeLocations{},
		messages:      &fakeMessages{},
		conversations: &fakeConversations{},
		faqs:          &fakeFAQs{},
		notify:        &recordingNotifier{},
		answerer:      &fakeAnswerer{answer: "Check the consent form first."},
	}

	limiter := middleware.NewLimiterStore(1000, 1000, time.Minute)
	t.Cleanup(limiter.Stop)
	hub := realtime.NewHub(8, time.Minute)
	t.Cleanup(hub.Close)

	e.srv = &Server{
		users:         e.users,
		sessions:      auth.NewSessions(auth.NewJWTManager("test-secret", time.Hour), e.sessionRows, e.users),
		surveys:       e.surveys,
		respondents:   e.respondents,
		locations:     e.locations,
		messages:      e.messages,
		conversations: e.conversations,
		faqs:          e.faqs,
		scope:         scope.NewResolver(e.users),
		notify:        e.notify,
		hub:           hub,
		upgrader:      realtime.NewUpgrader([]string{"*"}),
		assistant:     e.answerer,
		limiter:       limiter,
		settings: settings{
			editWindow:          15 * time.Minute,
			activeWindow:        time.Hour,
			bulkDefaultPassword: "changeme123",
		},
		now: func() time.Time { return e.clock },
	}
	e.handler = e.srv.routes()
	return e
}

// user stores a user with the fixture password.
func (e *testEnv) user(role data.Role, supervisorID string) *data.User {
	e.t.Helper()
	n := len(e.users.rows) + 1
	u, err := e.users.Create(context.Background(), &data.User{
		Username:     fmt.Sprintf("%s%d", role, n),
		Email:        fmt.Sprintf("%s%d@example.com", role, n),
		Password:     testHash(),
		Role:         role,
		SupervisorID: supervisorID,
	})
	require.NoError(e.t, err)
	return u
}

// login opens a session for u and returns its bearer token.
func (e *testEnv) login(u *data.User) string {
	e.t.Helper()
	tok, err := e.srv.sessions.Open(context.Background(), u, auth.SessionMeta{})
	require.NoError(e.t, err)
	return tok.AccessToken
}

// do sends a request through the full router. body may be a string sent
// verbatim or any value encoded as JSON.
func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a response body into T.
func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// requireError checks the status and message of an error response.
func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	body := decode[errorResponse](t, rec)
	require.Equal(t, status, body.Code)
	if message != "" {
		require.Equal(t, message, body.Message)
	}
}
