package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
)

func newTestServer(t *testing.T, srv *testutil.MockServer) (*Server, string) {
	t.Helper()
	path := writeConfig(t, srv.BaseURL(), testutil.TestAuthToken)
	cfg, err := validateConfig(path)
	require.NoError(t, err)

	s := NewServer(path, cfg)
	require.NoError(t, s.setup())
	t.Cleanup(func() { _ = s.session().Close() })
	return s, path
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func inventoryServer() *testutil.MockServer {
	return testutil.NewMockServer().
		WithJSON(http.MethodGet, "/Role", rolesBody).
		WithJSON(http.MethodGet, "/V4/Tags/AssociatedEntities", tagsBody).
		WithJSON(http.MethodGet, "/WhoAmI", `{"userName":"admin"}`).
		Build()
}

func TestServerMetrics(t *testing.T) {
	srv := inventoryServer()
	defer srv.Close()
	s, _ := newTestServer(t, srv)

	rec := get(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `commvault_up{commcell="127.0.0.1"} 1`)
	assert.Contains(t, body, `commvault_entities{collection="roles",commcell="127.0.0.1"} 2`)
	assert.Contains(t, body, `commvault_entities{collection="tags",commcell="127.0.0.1"} 3`)
	assert.Contains(t, body, `commvault_collection_up{collection="roles",commcell="127.0.0.1"} 1`)
	assert.Contains(t, body, `commvault_collection_up{collection="vmpolicies",commcell="127.0.0.1"} 0`)
	assert.Contains(t, body, `commvault_client_requests_total{code="200",method="GET"}`)
	assert.Contains(t, body, "go_goroutines")

	// Served from the inventory cache.
	get(s, "/metrics")
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/Role"))
}

func TestServerHealth(t *testing.T) {
	srv := inventoryServer()
	defer srv.Close()
	s, _ := newTestServer(t, srv)

	rec := get(s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\nbreaker: disabled\n", rec.Body.String())

	rec = get(s, "/health?check=connectivity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/WhoAmI"))
}

func TestServerHealthUnreachable(t *testing.T) {
	srv := testutil.NewMockServer().
		WithStatus(http.MethodGet, "/WhoAmI", http.StatusUnauthorized, "expired").
		Build()
	defer srv.Close()
	s, _ := newTestServer(t, srv)

	rec := get(s, "/health?check=connectivity")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNREACHABLE")
}

func TestServerReload(t *testing.T) {
	srv := inventoryServer()
	defer srv.Close()
	s, path := newTestServer(t, srv)

	get(s, "/metrics")
	first := s.session()

	t.Run("unchanged connection keeps the session", func(t *testing.T) {
		require.NoError(t, s.reload(path))
		assert.Same(t, first, s.session())
	})

	t.Run("new token reconnects and drops the inventory", func(t *testing.T) {
		writeConfigAt(t, path, srv.BaseURL(), "QSDK rotated-token-9876")
		require.NoError(t, s.reload(path))
		assert.NotSame(t, first, s.session())

		get(s, "/metrics")
		assert.Equal(t, 2, srv.Count(http.MethodGet, "/Role"))
		call := srv.LastCall(t, http.MethodGet, "/Role")
		assert.Equal(t, "QSDK rotated-token-9876", call.Header.Get(testutil.AuthTokenHeader))
	})

	t.Run("invalid file keeps the running configuration", func(t *testing.T) {
		current := s.session()
		writeConfigAt(t, path, srv.BaseURL(), "")
		require.Error(t, s.reload(path))
		assert.Same(t, current, s.session())
	})
}

func TestServerShutdown(t *testing.T) {
	srv := inventoryServer()
	defer srv.Close()
	s, _ := newTestServer(t, srv)

	require.NoError(t, s.Shutdown())
	_, open := <-s.ErrorChan()
	assert.False(t, open)
}

func TestWaitForShutdown(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, waitForShutdown(ctx, make(chan error)))
	})

	t.Run("server error", func(t *testing.T) {
		errs := make(chan error, 1)
		errs <- errors.New("HTTP server error: address in use")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.EqualError(t, waitForShutdown(ctx, errs), "HTTP server error: address in use")
	})
}
