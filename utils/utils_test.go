package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raushankrgupta/photo-restorer/restoration"
	"github.com/raushankrgupta/photo-restorer/session"
)

func TestAddToLogMessage(t *testing.T) {
	var b strings.Builder
	AddToLogMessage(&b, "[Restore API]")
	AddToLogMessage(&b, "session=abc")
	assert.Equal(t, "[Restore API];\nsession=abc;\n", b.String())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("chatty", false)
	assert.Error(t, err)
}

func TestRespondError(t *testing.T) {
	var b strings.Builder
	rec := httptest.NewRecorder()

	RespondError(rec, &b, "no image selected", http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"no image selected"}`, rec.Body.String())
	assert.Contains(t, b.String(), "no image selected")
}

func TestLatencyMiddlewarePassesThrough(t *testing.T) {
	h := LatencyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "4xx", statusClass(http.StatusTeapot))
	assert.Equal(t, "2xx", statusClass(0))
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")

	token, err := GenerateToken("session-1", secret, time.Hour)
	require.NoError(t, err)

	id, err := ValidateToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)

	_, err = ValidateToken(token, []byte("other"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := GenerateToken("session-1", secret, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = GenerateToken("session-1", nil, time.Hour)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	quota := &restoration.Error{Kind: restoration.KindTransport, Op: "generate", Err: errors.New("Error 429: quota")}
	noImage := &restoration.Error{Kind: restoration.KindNoImage, Op: "extract", Err: restoration.ErrNoImage}

	assert.Equal(t, "succeeded", Outcome(session.Resolution{Status: session.StatusSucceeded}))
	assert.Equal(t, "stale", Outcome(session.Resolution{Stale: true, Err: noImage}))
	assert.Equal(t, "quota", Outcome(session.Resolution{Err: quota}))
	assert.Equal(t, "no_image", Outcome(session.Resolution{Err: noImage}))
	assert.Equal(t, "failed", Outcome(session.Resolution{Err: errors.New("boom")}))
}
