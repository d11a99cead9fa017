package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buggy/internal/api"
)

func TestNewHandler_Routes(t *testing.T) {
	cliEnv(t)
	svc, err := getService()
	require.NoError(t, err)

	h := newHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Web")

	// No secret configured: the webhook route is not mounted.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHandler_Webhook(t *testing.T) {
	cliEnv(t)
	viper.Set("webhook.secret", "s3cret")
	svc, err := getService()
	require.NoError(t, err)

	h := newHandler(svc)

	// Mounted, but an unsigned delivery is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", strings.NewReader("{}"))
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewHandler_CreateBug(t *testing.T) {
	cliEnv(t)
	svc, err := getService()
	require.NoError(t, err)

	h := newHandler(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bugs",
		strings.NewReader(`{"title":"From the API","project":"Web"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.UserHeader, "ada")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"number":"15"`)
}

func TestServeRun_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveRun(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeRun_ListenError(t *testing.T) {
	err := serveRun(context.Background(), "256.0.0.1:bad", http.NotFoundHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
