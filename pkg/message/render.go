package message

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/inbucket/mailvault/pkg/sanitize"
)

const renderPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s
</body>
</html>
`

// renderHTML builds the self contained, sanitized HTML view of a message.  HTML segments are used
// as-is, plain segments are escaped into <pre> blocks, cid: images become data URIs, and the
// attachment names are listed at the end.
func renderHTML(subject string, segs []segment, inline, attachments []*Attachment) (string, error) {
	body := &strings.Builder{}
	for _, s := range segs {
		text := strings.TrimSpace(s.text)
		if s.html {
			body.WriteString(text)
		} else {
			body.WriteString("<pre>")
			body.WriteString(html.EscapeString(text))
			body.WriteString("</pre>")
		}
		body.WriteByte('\n')
	}
	if len(attachments) > 0 {
		body.WriteString("<hr>\n<h3>Attached Files</h3>\n<ul>\n")
		for _, a := range attachments {
			fmt.Fprintf(body, "<li>%s (%s, %d bytes)</li>\n", html.EscapeString(a.FileName),
				html.EscapeString(a.ContentType), a.Size)
		}
		body.WriteString("</ul>\n")
	}

	inner, err := embedInlineImages(body.String(), inline)
	if err != nil {
		return "", err
	}
	clean, err := sanitize.HTML(inner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(renderPage, html.EscapeString(subject), strings.TrimSpace(clean)), nil
}

// embedInlineImages replaces img src="cid:..." references with data URIs of the matching inline
// image.  Unknown content ids are left alone.
func embedInlineImages(fragment string, inline []*Attachment) (string, error) {
	if len(inline) == 0 || !strings.Contains(strings.ToLower(fragment), "cid:") {
		return fragment, nil
	}
	byID := make(map[string]*Attachment, len(inline))
	for _, img := range inline {
		byID[strings.ToLower(img.ContentID)] = img
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if len(src) < 4 || !strings.EqualFold(src[:4], "cid:") {
			return
		}
		if img, ok := byID[strings.ToLower(strings.Trim(src[4:], "<>"))]; ok {
			s.SetAttr("src", DataURI(img))
		}
	})
	return doc.Find("body").Html()
}

// DataURI encodes an attachment as a base64 data URI.
func DataURI(a *Attachment) string {
	return "data:" + a.ContentType + ";base64," + base64.StdEncoding.EncodeToString(a.Content)
}
