package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientV1Health(t *testing.T) {
	c, err := New(baseURLStr)
	require.NoError(t, err)
	mth := &recordingClient{
		body: `[{"scope":"account","key":"acct1","healthy":false,"last-error":"denied",` +
			`"last-error-at":"2024-02-03T04:05:06Z","updated-at":"2024-02-03T04:05:06Z"}]`,
	}
	c.client = mth

	got, err := c.Health(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "GET", mth.req.Method)
	assert.Equal(t, baseURLStr+"/api/v1/health", mth.req.URL.String())
	require.Len(t, got, 1)
	assert.Equal(t, "acct1", got[0].Key)
	assert.False(t, got[0].Healthy)
	assert.Equal(t, "denied", got[0].LastError)
	require.NotNil(t, got[0].LastErrorAt)
	assert.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), *got[0].LastErrorAt)
}

func TestClientV1Accounts(t *testing.T) {
	c, err := New(baseURLPathStr)
	require.NoError(t, err)
	mth := &recordingClient{
		body: `[{"id":"acct1","protocol":"IMAP","mailboxes":[{"name":"INBOX","healthy":true}]}]`,
	}
	c.client = mth

	got, err := c.Accounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, baseURLPathStr+"/api/v1/accounts", mth.req.URL.String())
	require.Len(t, got, 1)
	assert.Equal(t, "IMAP", got[0].Protocol)
	require.Len(t, got[0].Mailboxes, 1)
	assert.Equal(t, "INBOX", got[0].Mailboxes[0].Name)
}

func TestClientV1ErrorStatus(t *testing.T) {
	c, err := New(baseURLStr)
	require.NoError(t, err)
	c.client = &recordingClient{statusCode: 500, body: "store offline"}

	_, err = c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClientOptions(t *testing.T) {
	c, err := New(baseURLStr, WithClientOptsTimeout(5*time.Second))
	require.NoError(t, err)
	hc, ok := c.client.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, hc.Timeout)
}
