package mimeutil_test

import (
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/inbucket/mailvault/pkg/mimeutil"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeader(t *testing.T) {
	testCases := []struct {
		input, want string
	}{
		{"", ""},
		{"plain subject", "plain subject"},
		{"=?UTF-8?B?w6lsw6h2ZQ==?=", "élève"},
		{"=?iso-8859-1?q?caf=E9?=", "café"},
		{"=?x-unknown?q?caf=C3=A9?=", "café"},
		{"Re: =?utf-8?q?hello?= world", "Re: hello world"},
		{"bad \xff byte", "bad � byte"},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, mimeutil.DecodeHeader(tc.input))
		})
	}
}

func TestGetHeader(t *testing.T) {
	h := textproto.MIMEHeader{}
	h.Add("Received", "  from a by b  ")
	h.Add("Received", "from c by d")
	h.Add("Subject", "=?utf-8?q?Gr=C3=BC=C3=9Fe?=")

	assert.Equal(t, "from a by b, from c by d", mimeutil.GetHeader(h, "Received", ", "))
	assert.Equal(t, "from a by b\nfrom c by d", mimeutil.GetHeader(h, "received", "\n"))
	assert.Equal(t, "Grüße", mimeutil.GetHeader(h, "Subject", ", "))
	assert.Equal(t, "", mimeutil.GetHeader(h, "X-Missing", ", "))
}

func TestParseDateTime(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		buf := &strings.Builder{}
		got := mimeutil.ParseDateTime(zerolog.New(buf), "Tue, 2 Jan 2024 15:04:05 +0100", now)
		want := time.Date(2024, time.January, 2, 14, 4, 5, 0, time.UTC)
		assert.True(t, want.Equal(got), "got %v, want %v", got, want)
		assert.Empty(t, buf.String())
	})

	for name, input := range map[string]string{"missing": "", "garbage": "not a date"} {
		t.Run(name, func(t *testing.T) {
			buf := &strings.Builder{}
			got := mimeutil.ParseDateTime(zerolog.New(buf), input, now)
			assert.Equal(t, now, got)
			assert.Equal(t, 1, strings.Count(buf.String(), `"level":"warn"`),
				"expected exactly one warning, got: %s", buf.String())
		})
	}
}

func TestParseAddressList(t *testing.T) {
	got := mimeutil.ParseAddressList(`"Doe, Jane" <jane@example.com>, bob@example.com`)
	require.Len(t, got, 2)
	assert.Equal(t, "Doe, Jane", got[0].Name)
	assert.Equal(t, "jane@example.com", got[0].Address)
	assert.Equal(t, "bob@example.com", got[1].Address)

	got = mimeutil.ParseAddressList("=?utf-8?q?J=C3=B6rg?= <jorg@example.com>")
	require.Len(t, got, 1)
	assert.Equal(t, "Jörg", got[0].Name)

	got = mimeutil.ParseAddressList("undisclosed-recipients, ok@example.com")
	require.Len(t, got, 2)
	assert.Equal(t, "undisclosed-recipients", got[0].Address)
	assert.Equal(t, "ok@example.com", got[1].Address)

	assert.Nil(t, mimeutil.ParseAddressList("   "))
}

func TestDecodeBytes(t *testing.T) {
	latin1 := []byte{'c', 'a', 'f', 0xe9}
	assert.Equal(t, "café", mimeutil.DecodeBytes(latin1, "ISO-8859-1"))
	assert.Equal(t, "caf�", mimeutil.DecodeBytes(latin1, ""))
	assert.Equal(t, "caf�", mimeutil.DecodeBytes(latin1, "no-such-charset"))
	assert.Equal(t, "ok", mimeutil.DecodeBytes([]byte("ok"), "us-ascii"))
}

func TestDecodeBodyPart(t *testing.T) {
	p := &enmime.Part{
		ContentType: "application/x-note",
		Charset:     "iso-8859-1",
		Content:     []byte{'n', 0xe9},
	}
	assert.Equal(t, "né", mimeutil.DecodeBodyPart(p))

	// Text parts arrive already converted.
	p = &enmime.Part{ContentType: "text/plain", Charset: "iso-8859-1", Content: []byte("né")}
	assert.Equal(t, "né", mimeutil.DecodeBodyPart(p))
}
