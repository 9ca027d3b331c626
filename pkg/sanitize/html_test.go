package sanitize_test

import (
	"testing"

	"github.com/inbucket/mailvault/pkg/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLPassthrough(t *testing.T) {
	testStrings := []string{
		"",
		"plain string",
		"one &lt; two",
		"<p>paragraph</p>",
		"<b>bold</b>",
		"<em>emphasis</em>",
		"<div><span>text</span></div>",
		"<center>text</center>",
		"<pre>fixed</pre>",
	}
	for _, ts := range testStrings {
		t.Run(ts, func(t *testing.T) {
			got, err := sanitize.HTML(ts)
			require.NoError(t, err)
			assert.Equal(t, ts, got)
		})
	}
}

func TestHTMLRemovesActiveContent(t *testing.T) {
	testCases := []struct {
		input, keep, drop string
	}{
		{`safe<script>nope</script>`, `safe`, `nope`},
		{`<a onblur="alert(something)" href="http://mysite.com">mysite</a>`,
			`href="http://mysite.com"`, `onblur`},
		{`<img src="javascript:alert(1)">pic`, `pic`, `javascript`},
		{`<iframe src="https://evil.example"></iframe>ok`, `ok`, `iframe`},
		{`<div onclick="steal()">click</div>`, `click`, `steal`},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := sanitize.HTML(tc.input)
			require.NoError(t, err)
			assert.Contains(t, got, tc.keep)
			assert.NotContains(t, got, tc.drop)
		})
	}
}

func TestHTMLKeepsDataURIImages(t *testing.T) {
	input := `<img src="data:image/png;base64,iVBORw0KGgo=" alt="logo">`
	got, err := sanitize.HTML(input)
	require.NoError(t, err)
	assert.Contains(t, got, `src="data:image/png;base64,iVBORw0KGgo="`)
}

func TestHTMLStyleAttributes(t *testing.T) {
	testCases := []struct {
		input, want string
	}{
		{
			`<p style="color: red;">x</p>`,
			`<p style="color: red;">x</p>`,
		},
		{
			`<p style="position: fixed; color: red">x</p>`,
			`<p style="color: red">x</p>`,
		},
		{
			`<p style="position: fixed">x</p>`,
			`<p>x</p>`,
		},
		{
			`<p style="background-color: url(https://track.example/p.gif)">x</p>`,
			`<p>x</p>`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := sanitize.HTML(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
