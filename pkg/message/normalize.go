package message

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/inbucket/mailvault/pkg/mimeutil"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog"
)

// ErrUnparseable indicates the raw bytes could not be read as a MIME message at all.
var ErrUnparseable = errors.New("unparseable message")

// DefaultAttachmentTypes are the content types recorded as attachments when a part carries no
// Content-Disposition.
var DefaultAttachmentTypes = []string{
	"application/*", "audio/*", "font/*", "image/*", "message/*", "model/*", "video/*",
	"text/calendar", "text/csv", "text/vcard", "text/x-vcard",
}

// Options control which parts of a message become attachments.
type Options struct {
	// AttachmentTypes are content type patterns ("image/*" or "text/csv") recorded as
	// attachments even without an attachment disposition.
	AttachmentTypes []string
	// IgnoreTypes are content type patterns never recorded, whatever their disposition.
	IgnoreTypes []string
}

// Normalizer converts raw messages into Emails.  It holds no mutable state and may be shared.
type Normalizer struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewNormalizer creates a Normalizer.  A nil AttachmentTypes uses DefaultAttachmentTypes.
func NewNormalizer(opts Options, logger zerolog.Logger) *Normalizer {
	if opts.AttachmentTypes == nil {
		opts.AttachmentTypes = DefaultAttachmentTypes
	}
	return &Normalizer{opts: opts, logger: logger, now: time.Now}
}

// segment is a body fragment in document order, used for the HTML rendering.
type segment struct {
	html bool
	text string
}

// walkState is threaded down the MIME tree.  Siblings never see each other's state.
type walkState struct {
	suppressPlain bool
}

// walkResult collects the leaves found by walk.
type walkResult struct {
	plain       []string
	html        []string
	segments    []segment
	attachments []*Attachment
	inline      []*Attachment
}

// Normalize parses raw and builds its Email.  Header and charset problems are repaired with safe
// defaults and logged; only bytes that are not a message at all produce an error.
func (n *Normalizer) Normalize(raw []byte) (*Email, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	h := env.Root.Header

	id := strings.TrimSpace(mimeutil.GetHeader(h, hdrMessageID, " "))
	if id == "" {
		id = ContentID(raw)
	}
	logger := n.logger.With().Str("messageID", id).Logger()
	for _, perr := range env.Errors {
		logger.Debug().Str("error", perr.Error()).Msg("Recovered MIME problem")
	}

	res := &walkResult{}
	n.walk(env.Root, walkState{}, res, logger)

	email := &Email{
		MessageID:      id,
		Date:           mimeutil.ParseDateTime(logger, h.Get(hdrDate), n.now()),
		Subject:        mimeutil.GetHeader(h, hdrSubject, " "),
		PlainBody:      strings.Join(res.plain, "\n"),
		HTMLBody:       strings.Join(res.html, "\n"),
		Size:           int64(len(raw)),
		Headers:        headerMap(h),
		IsSpam:         isSpam(h),
		Attachments:    res.attachments,
		InlineImages:   res.inline,
		Correspondents: correspondents(h),
		InReplyTo:      messageIDs(h, hdrInReplyTo),
		References:     messageIDs(h, hdrReferences),
		MailingList:    mailingList(h),
		Raw:            raw,
	}

	rendering, err := renderHTML(email.Subject, res.segments, res.inline, res.attachments)
	if err != nil {
		// The rendering is optional output; keep the rest of the record.
		logger.Warn().Err(err).Msg("Failed to render HTML")
	}
	email.HTMLRendering = rendering

	return email, nil
}

// ContentID derives the fallback message id of a message without a Message-ID header.  Equal
// bytes always produce the same id.
func ContentID(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// walk visits p and its descendants depth first.
func (n *Normalizer) walk(p *enmime.Part, st walkState, res *walkResult, logger zerolog.Logger) {
	if p == nil {
		return
	}
	ctype := strings.ToLower(p.ContentType)
	if p.FirstChild != nil {
		childState := st
		if ctype == "multipart/alternative" {
			childState.suppressPlain = true
		}
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			n.walk(c, childState, res, logger)
		}
		return
	}
	if strings.HasPrefix(ctype, "multipart/") {
		// Empty container.
		return
	}

	disposition := strings.ToLower(p.Disposition)
	switch {
	case matchType(n.opts.IgnoreTypes, ctype):
		logger.Debug().Str("contentType", ctype).Msg("Ignoring part")

	case disposition == "" && (ctype == "text/plain" || ctype == ""):
		text := mimeutil.DecodeBodyPart(p)
		res.plain = append(res.plain, text)
		if !st.suppressPlain {
			res.segments = append(res.segments, segment{text: text})
		}

	case disposition == "" && ctype == "text/html":
		text := mimeutil.DecodeBodyPart(p)
		res.html = append(res.html, text)
		res.segments = append(res.segments, segment{html: true, text: text})

	case strings.HasPrefix(ctype, "image/") && p.ContentID != "" && disposition != "attachment":
		res.inline = append(res.inline, n.attachment(p, ctype, disposition))

	case disposition != "" || matchType(n.opts.AttachmentTypes, ctype):
		res.attachments = append(res.attachments, n.attachment(p, ctype, disposition))

	default:
		logger.Debug().Str("contentType", ctype).Msg("Skipping unclassified part")
	}
}

func (n *Normalizer) attachment(p *enmime.Part, ctype, disposition string) *Attachment {
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = detectType(p.Content)
	}
	name := strings.TrimSpace(p.FileName)
	if name == "" {
		name = ContentID(p.Content) + ".attachment"
	}
	return &Attachment{
		FileName:    path.Base(strings.ReplaceAll(name, `\`, "/")),
		ContentType: ctype,
		ContentID:   strings.Trim(strings.TrimSpace(p.ContentID), "<>"),
		Disposition: disposition,
		Size:        int64(len(p.Content)),
		Content:     p.Content,
	}
}

// detectType sniffs the content type of an untyped payload.
func detectType(content []byte) string {
	mt := mimetype.Detect(content).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// matchType reports whether ctype matches one of the patterns, where "image/*" matches every
// image subtype.
func matchType(patterns []string, ctype string) bool {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == ctype {
			return true
		}
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(ctype, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
