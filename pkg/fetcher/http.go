package fetcher

import (
	"crypto/tls"
	"net/http"

	"github.com/inbucket/mailvault/pkg/account"
	"golang.org/x/oauth2"
)

// HTTPClient builds the client used by the HTTP based protocols.  Accounts with a token get a
// bearer token transport; the others are expected to use basic auth per request.
func HTTPClient(acct *account.Account, opts Options) *http.Client {
	base := opts.HTTPClient
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if acct.AllowInsecure {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		}
		base = &http.Client{Transport: tr, Timeout: acct.OperationTimeout()}
	}
	if acct.Token == "" {
		return base
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: acct.Token, TokenType: "Bearer"})
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}

// SetAuth adds basic credentials to req unless the account authenticates with a token.
func SetAuth(req *http.Request, acct *account.Account) {
	if acct.Token == "" {
		req.SetBasicAuth(acct.Address, acct.Password)
	}
}
