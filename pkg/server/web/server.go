// Package web provides the plumbing for the mailvault monitor server: expvar metrics, health, and
// a live feed of archived messages.
package web

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/rs/zerolog/log"
)

var (
	// ExpWebSocketConnectsCurrent tracks the number of open WebSockets
	ExpWebSocketConnectsCurrent = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("http")
	m.Set("WebSocketConnectsCurrent", ExpWebSocketConnectsCurrent)
}

// Server defines an instance of the monitor HTTP server.
type Server struct {
	// Router sends incoming requests to the correct handler function.
	Router *mux.Router

	addr     string
	msgHub   *msghub.Hub
	health   storage.HealthRecorder
	accounts []*account.Account
	server   *http.Server
	notify   chan error
}

// NewServer sets up things for unit tests or the Start() method.  Routes are added by the
// caller through Router and Handle.
func NewServer(
	conf config.Web,
	mh *msghub.Hub,
	health storage.HealthRecorder,
	accounts []*account.Account,
) *Server {
	s := &Server{
		Router:   mux.NewRouter(),
		addr:     conf.Addr,
		msgHub:   mh,
		health:   health,
		accounts: accounts,
		notify:   make(chan error, 1),
	}

	s.Router.Path("/debug/vars").Handler(expvar.Handler()).Methods("GET")
	s.Router.NotFoundHandler = noMatchHandler(http.StatusNotFound, "No route matches URI path")
	s.Router.MethodNotAllowedHandler = noMatchHandler(http.StatusMethodNotAllowed,
		"No route matches method")
	s.server = &http.Server{
		Addr:         conf.Addr,
		Handler:      requestLoggingWrapper(s.Router),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

// Handle adapts h to an http.Handler that receives a Context for this server.
func (s *Server) Handle(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := s.newContext(req)
		defer ctx.Close()
		h.serve(w, req, ctx)
	})
}

// Start begins listening for HTTP requests.  It returns once the listener is open; errors
// after that are reported through Notify.
func (s *Server) Start(ctx context.Context, readyFunc func()) error {
	slog := log.With().Str("module", "web").Str("phase", "startup").Logger()

	// We don't use ListenAndServe because it lacks a way to close the listener
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		slog.Error().Err(err).Msg("HTTP failed to start TCP listener")
		return err
	}
	slog.Info().Str("addr", listener.Addr().String()).Msg("HTTP listening on TCP")
	readyFunc()

	go func() {
		// Serve blocks until the server is shut down.
		err := s.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "web").Err(err).Msg("HTTP server failed")
			s.notify <- err
		}
	}()

	go func() {
		<-ctx.Done()
		log.Debug().Str("module", "web").Str("phase", "shutdown").
			Msg("HTTP server shutting down on request")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Str("module", "web").Str("phase", "shutdown").Err(err).
				Msg("HTTP server shutdown failed")
		}
	}()

	return nil
}

// Notify allows the running HTTP server to report a fatal error.
func (s *Server) Notify() <-chan error {
	return s.notify
}
