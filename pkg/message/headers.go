package message

import (
	"net/textproto"
	"regexp"
	"strings"

	"github.com/inbucket/mailvault/pkg/mimeutil"
)

// Header names read by the normalizer.
const (
	hdrMessageID  = "Message-Id"
	hdrDate       = "Date"
	hdrSubject    = "Subject"
	hdrInReplyTo  = "In-Reply-To"
	hdrReferences = "References"
	hdrSpamFlag   = "X-Spam-Flag"

	hdrListID              = "List-Id"
	hdrListOwner           = "List-Owner"
	hdrListSubscribe       = "List-Subscribe"
	hdrListUnsubscribe     = "List-Unsubscribe"
	hdrListUnsubscribePost = "List-Unsubscribe-Post"
	hdrListPost            = "List-Post"
	hdrListHelp            = "List-Help"
	hdrListArchive         = "List-Archive"
)

var (
	angleTokens = regexp.MustCompile(`<([^<>]*)>`)
	listHeaders = []string{
		hdrListID, hdrListOwner, hdrListSubscribe, hdrListUnsubscribe, hdrListUnsubscribePost,
		hdrListPost, hdrListHelp, hdrListArchive,
	}
)

// isSpam reports whether X-Spam-Flag contains YES.  The match is case-sensitive, so "yes" from
// a filter using lowercase is not treated as spam.
func isSpam(h textproto.MIMEHeader) bool {
	return strings.Contains(mimeutil.GetHeader(h, hdrSpamFlag, ", "), "YES")
}

// headerMap flattens the header into lower-cased keys with repeated headers joined.
func headerMap(h textproto.MIMEHeader) map[string]string {
	m := make(map[string]string, len(h))
	for key := range h {
		m[strings.ToLower(key)] = mimeutil.GetHeader(h, key, ", ")
	}
	return m
}

// correspondents extracts all role headers in Roles order.
func correspondents(h textproto.MIMEHeader) []Correspondent {
	var out []Correspondent
	for _, role := range Roles {
		raw := mimeutil.GetHeader(h, string(role), ", ")
		if raw == "" {
			continue
		}
		for _, addr := range mimeutil.ParseAddressList(raw) {
			if addr.Address == "" {
				continue
			}
			out = append(out, Correspondent{Role: role, Name: addr.Name, Address: addr.Address})
		}
	}
	return out
}

// messageIDs returns the <id> tokens of a threading header, or the trimmed value when it holds no
// bracketed ids.
func messageIDs(h textproto.MIMEHeader, name string) []string {
	raw := mimeutil.GetHeader(h, name, " ")
	if raw == "" {
		return nil
	}
	matches := angleTokens.FindAllString(raw, -1)
	if len(matches) == 0 {
		return strings.Fields(raw)
	}
	return matches
}

// mailingList returns the List-* data, or nil when there is no List-Id.
func mailingList(h textproto.MIMEHeader) *MailingList {
	present := false
	for _, name := range listHeaders {
		if h.Get(name) != "" {
			present = true
			break
		}
	}
	if !present {
		return nil
	}
	id := mimeutil.GetHeader(h, hdrListID, ", ")
	if id == "" {
		return nil
	}

	ml := &MailingList{
		ID:              id,
		Owner:           bestHref(mimeutil.GetHeader(h, hdrListOwner, ", ")),
		Subscribe:       bestHref(mimeutil.GetHeader(h, hdrListSubscribe, ", ")),
		Unsubscribe:     bestHref(mimeutil.GetHeader(h, hdrListUnsubscribe, ", ")),
		UnsubscribePost: mimeutil.GetHeader(h, hdrListUnsubscribePost, ", "),
		Post:            bestHref(mimeutil.GetHeader(h, hdrListPost, ", ")),
		Help:            bestHref(mimeutil.GetHeader(h, hdrListHelp, ", ")),
		Archive:         bestHref(mimeutil.GetHeader(h, hdrListArchive, ", ")),
	}
	if i := strings.Index(id, "<"); i > 0 {
		ml.Name = strings.Trim(strings.TrimSpace(id[:i]), `"`)
	}
	return ml
}

// bestHref picks the preferred URL from a List-* header: https, then http, then the first
// entry.  Values without <...> entries are returned trimmed.
func bestHref(raw string) string {
	matches := angleTokens.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(raw)
	}
	hrefs := make([]string, 0, len(matches))
	for _, m := range matches {
		hrefs = append(hrefs, strings.TrimSpace(m[1]))
	}
	for _, scheme := range []string{"https:", "http:"} {
		for _, href := range hrefs {
			if strings.HasPrefix(strings.ToLower(href), scheme) {
				return href
			}
		}
	}
	return hrefs[0]
}
