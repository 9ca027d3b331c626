// Package sanitize cleans rendered message HTML before it is stored, so it can later be shown in
// an isolated viewer.
package sanitize

import (
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	anyStyle = regexp.MustCompile(".*")

	// policy is safe for concurrent use once built.
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("center", "font", "hr", "pre")
	p.AllowAttrs("color", "face", "size").OnElements("font")
	p.AllowAttrs("bgcolor", "align", "valign", "width", "height").
		OnElements("table", "tr", "td", "th", "tbody", "thead")
	p.AllowAttrs("style").Matching(anyStyle).Globally()
	p.AllowDataURIImages()
	p.AllowURLSchemes("mailto", "http", "https")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// HTML sanitizes a rendered message.  Inline CSS is filtered down to a set of layout properties,
// scripts and event handlers are removed, and images may only be embedded as data URIs or
// remote URLs.
func HTML(input string) (string, error) {
	filtered := &strings.Builder{}
	if err := filterStyleAttrs(filtered, strings.NewReader(input)); err != nil {
		return "", err
	}
	return policy.Sanitize(filtered.String()), nil
}

// filterStyleAttrs copies the token stream from r to w, rewriting every style attribute through
// sanitizeStyle.  Attributes whose style cleans down to nothing are dropped.
func filterStyleAttrs(w *strings.Builder, r io.Reader) error {
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				w.Write(z.Raw())
				continue
			}
			w.WriteByte('<')
			w.Write(name)
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				value := string(val)
				if strings.EqualFold(string(key), "style") {
					if value = sanitizeStyle(value); value == "" {
						continue
					}
				}
				w.WriteByte(' ')
				w.Write(key)
				w.WriteString(`="`)
				w.WriteString(html.EscapeString(value))
				w.WriteByte('"')
			}
			if tt == html.SelfClosingTagToken {
				w.WriteByte('/')
			}
			w.WriteByte('>')
		default:
			w.Write(z.Raw())
		}
	}
}
