// Package client provides a basic REST client for the mailvault monitor server
package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/inbucket/mailvault/pkg/rest/model"
)

// Client accesses the mailvault REST API v1
type Client struct {
	restClient
}

// New creates a new v1 REST API client given the base URL of a mailvault monitor server, ex:
// "http://localhost:9000"
func New(baseURL string, opts ...func(*ClientOptions)) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	options := getDefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Client{
		restClient{
			client: &http.Client{
				Transport: options.transport,
				Timeout:   options.timeout,
			},
			baseURL: parsedURL,
		},
	}
	return c, nil
}

// Health returns the recorded health of every account and mailbox
func (c *Client) Health(ctx context.Context) (health []*model.JSONHealthV1, err error) {
	err = c.doJSON(ctx, "GET", "/api/v1/health", &health)
	if err != nil {
		return nil, err
	}
	return health, nil
}

// Accounts returns the accounts configured on the server
func (c *Client) Accounts(ctx context.Context) (accounts []*model.JSONAccountV1, err error) {
	err = c.doJSON(ctx, "GET", "/api/v1/accounts", &accounts)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
