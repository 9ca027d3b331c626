package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return NewServer(config.Web{Addr: "127.0.0.1:0"}, msghub.New(5, extension.NewHost()), nil, nil)
}

func TestServerExpvar(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/debug/vars", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var vars map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&vars))
	assert.Contains(t, vars, "http")
}

func TestServerNoMatch(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/nothing/here", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleErrorResponse(t *testing.T) {
	s := newTestServer()
	s.Router.Path("/fail").Handler(s.Handle(func(http.ResponseWriter, *http.Request, *Context) error {
		return errors.New("handler failed")
	}))
	var gotJSON bool
	s.Router.Path("/ok").Handler(s.Handle(func(w http.ResponseWriter, _ *http.Request, ctx *Context) error {
		gotJSON = ctx.IsJSON
		return RenderJSON(w, map[string]string{"status": "ok"})
	}))

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest("GET", "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "handler failed")

	req := httptest.NewRequest("GET", "/ok", nil)
	req.Header.Set("Accept", "Application/JSON")
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.True(t, gotJSON)
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	ready := false
	require.NoError(t, s.Start(ctx, func() { ready = true }))
	assert.True(t, ready)
	cancel()
}

func TestServerStartBadAddr(t *testing.T) {
	s := NewServer(config.Web{Addr: "256.0.0.1:bad"}, msghub.New(5, extension.NewHost()), nil, nil)
	err := s.Start(context.Background(), func() { t.Error("ready should not be called") })
	assert.Error(t, err)
}
