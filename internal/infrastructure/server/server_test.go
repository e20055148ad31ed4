package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallibrary/catalog/internal/config"
	"github.com/locallibrary/catalog/internal/session"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:         "127.0.0.1:0",
		DBDriver:         "sqlite",
		DBDSN:            fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		TimeZone:         "UTC",
		PageSize:         10,
		SessionCookie:    "sessionid",
		SessionTTL:       time.Hour,
		LoginMaxFailures: 5,
		LoginLockout:     time.Minute,
		ShutdownTimeout:  time.Second,
	}
}

func TestBuild_WiresRoutes(t *testing.T) {
	app, err := Build(testConfig())
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/accounts/login/?next=%2F", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/login/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_BadDriver(t *testing.T) {
	cfg := testConfig()
	cfg.DBDriver = "oracle"
	_, err := Build(cfg)
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(testConfig()).Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPurgeSessions(t *testing.T) {
	app, err := Build(testConfig())
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	app.Sessions.WithClock(func() time.Time { return past })
	sess := app.Sessions.New()
	sess.Set("k", "v")
	require.NoError(t, app.Sessions.Save(ctx, sess))
	app.Sessions.WithClock(time.Now)

	purgeCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	purgeSessions(purgeCtx, app.Sessions, 10*time.Millisecond)

	n, err := app.Sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	_, err = app.Sessions.Load(ctx, sess.Key)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
