package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	app := &ChatApp{log: logger}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.JSONEq(t, `{"status_code":500,"message":"internal server error"}`, rr.Body.String())

	entries := logs.FilterMessage("panic").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "test panic", entries[0].ContextMap()["error"])
	}
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &ChatApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	app := &ChatApp{
		log:        testutil.TestLogger(t),
		signingKey: []byte("test-signing-key"),
	}

	valid, err := app.createJwtForSession("alice", time.Hour)
	assert.NoError(t, err)

	tcases := []struct {
		name         string
		cookie       *http.Cookie
		expectedCode int
	}{
		{
			name:         "valid token",
			cookie:       createJwtCookie(valid, time.Hour),
			expectedCode: http.StatusOK,
		},
		{
			name:         "missing cookie",
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "invalid token",
			cookie:       createJwtCookie("invalid", time.Hour),
			expectedCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			next := func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = Username(r.Context())
				w.WriteHeader(http.StatusOK)
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			app.authMiddleware(next)(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode == http.StatusOK {
				assert.Equal(t, "alice", gotUser)
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			} else {
				assert.Empty(t, gotUser)
			}
		})
	}
}
