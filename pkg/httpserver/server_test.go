// pkg/httpserver/server_test.go
package httpserver_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/pkg/httpserver"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

func TestNew_RequiresAddr(t *testing.T) {
	_, err := httpserver.New(httpserver.Config{}, nil, logger.NewNop())
	require.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	ready := errors.New("feed down")
	srv, err := httpserver.New(
		httpserver.Config{Addr: ":0"},
		func() error { return ready },
		logger.NewNop(),
		httpserver.Route{Pattern: "/boom", Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})},
	)
	require.NoError(t, err)
	h := srv.Handler()

	tests := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/boom", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}

	ready = nil
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	srv, err := httpserver.New(httpserver.Config{Addr: ":0"}, nil, logger.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRoute_Method(t *testing.T) {
	srv, err := httpserver.New(httpserver.Config{Addr: ":0"}, nil, logger.NewNop(),
		httpserver.Route{Method: http.MethodPost, Pattern: "/poke", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})},
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/poke", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poke", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
