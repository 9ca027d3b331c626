package rest

import (
	"github.com/inbucket/mailvault/pkg/server/web"
)

// SetupRoutes populates the routes for the REST interface under /api/.
func SetupRoutes(s *web.Server) {
	r := s.Router.PathPrefix("/api/").Subrouter()

	// API v1
	r.Path("/v1/health").Handler(
		s.Handle(HealthV1)).Name("HealthV1").Methods("GET")
	r.Path("/v1/accounts").Handler(
		s.Handle(AccountsV1)).Name("AccountsV1").Methods("GET")
	r.Path("/v1/monitor/messages").Handler(
		s.Handle(MonitorAllMessagesV1)).Name("MonitorAllMessagesV1").Methods("GET")
	r.Path("/v1/monitor/messages/{account}/{mailbox:.+}").Handler(
		s.Handle(MonitorMailboxMessagesV1)).Name("MonitorMailboxMessagesV1").Methods("GET")
}
