package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/inbucket/mailvault/pkg/server/web"
	"github.com/inbucket/mailvault/pkg/test"
)

// testEnv holds a monitor server wired to in-memory collaborators.
type testEnv struct {
	server   *web.Server
	extHost  *extension.Host
	hub      *msghub.Hub
	health   *test.Persister
	accounts []*account.Account
}

func setupWebServer(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	acct := &account.Account{
		ID:       "acct1",
		Address:  "somebody@example.com",
		Host:     "imap.example.com",
		Protocol: account.IMAPTLS,
	}
	acct.AddMailbox("INBOX")
	acct.AddMailbox("Archive")

	env := &testEnv{
		extHost:  extension.NewHost(),
		health:   test.NewPersister(),
		accounts: []*account.Account{acct},
	}
	env.hub = msghub.New(10, env.extHost)
	go env.hub.Start(ctx)
	env.server = web.NewServer(config.Web{Addr: "127.0.0.1:0"}, env.hub, env.health, env.accounts)
	SetupRoutes(env.server)

	return env
}

func (env *testEnv) get(t *testing.T, url string) (*httptest.ResponseRecorder, any) {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	req.Header.Add("Accept", "application/json")
	w := httptest.NewRecorder()
	env.server.Router.ServeHTTP(w, req)

	var result any
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode JSON: %v", err)
		}
	}
	return w, result
}

var errDenied = errors.New("denied")

func decodedBoolEquals(t *testing.T, json any, path string, want bool) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(bool); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

func decodedNumberEquals(t *testing.T, json any, path string, want float64) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	got, ok := val.(float64)
	if ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T) %v (int64),\nwant: %v / %v",
		path, val, val, int64(got), want, int64(want))
}

func decodedStringEquals(t *testing.T, json any, path string, want string) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(string); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

// getDecodedPath recursively navigates the specified path, returing the requested element.  If
// something goes wrong, the returned string will contain an explanation.
//
// Named path elements require the parent element to be a map[string]any, numbers in square
// brackets require the parent element to be a []any.
//
//     getDecodedPath(o, "users", "[1]", "name")
//
// is equivalent to the JavaScript:
//
//     o.users[1].name
//
func getDecodedPath(o any, path ...string) (any, string) {
	if len(path) == 0 {
		return o, ""
	}
	if o == nil {
		return nil, " is nil"
	}
	key := path[0]
	present := false
	var val any
	if key[0] == '[' {
		// Expecting slice.
		index, err := strconv.Atoi(strings.Trim(key, "[]"))
		if err != nil {
			return nil, "/" + key + " is not a slice index"
		}
		oslice, ok := o.([]any)
		if !ok {
			return nil, " is not a slice"
		}
		if index >= len(oslice) {
			return nil, "/" + key + " is out of bounds"
		}
		val, present = oslice[index], true
	} else {
		// Expecting map.
		omap, ok := o.(map[string]any)
		if !ok {
			return nil, " is not a map"
		}
		val, present = omap[key]
	}
	if !present {
		return nil, "/" + key + " is missing"
	}
	result, msg := getDecodedPath(val, path[1:]...)
	if msg != "" {
		return nil, "/" + key + msg
	}
	return result, ""
}
