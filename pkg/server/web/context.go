package web

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/inbucket/mailvault/pkg/storage"
)

// Context is passed into every request handler function
type Context struct {
	Vars     map[string]string
	MsgHub   *msghub.Hub
	Health   storage.HealthRecorder
	Accounts []*account.Account
	IsJSON   bool
}

// Close the Context (currently does nothing)
func (c *Context) Close() {
	// Do nothing
}

// Account returns the configured account with the given id, or nil.
func (c *Context) Account(id string) *account.Account {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// headerMatch returns true if the request header specified by name contains
// the specified value.  Case is ignored.
func headerMatch(req *http.Request, name string, value string) bool {
	name = http.CanonicalHeaderKey(name)
	value = strings.ToLower(value)

	if header := req.Header[name]; header != nil {
		for _, hv := range header {
			if value == strings.ToLower(hv) {
				return true
			}
		}
	}

	return false
}

// newContext returns a Context for the given HTTP Request
func (s *Server) newContext(req *http.Request) *Context {
	return &Context{
		Vars:     mux.Vars(req),
		MsgHub:   s.msgHub,
		Health:   s.health,
		Accounts: s.accounts,
		IsJSON:   headerMatch(req, "Accept", "application/json"),
	}
}
