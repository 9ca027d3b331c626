// Package mimeutil contains lenient decoding helpers for message headers and bodies.  Nothing in
// here fails on bad input: problems are repaired with a safe default.
package mimeutil

import (
	"bytes"
	"io"
	"mime"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: lenientCharsetReader}

// lenientCharsetReader falls back to passing the bytes through as UTF-8 when the label is not a
// known charset.
func lenientCharsetReader(label string, input io.Reader) (io.Reader, error) {
	r, err := charset.Reader(label, input)
	if err != nil {
		return input, nil
	}
	return r, nil
}

// DecodeHeader decodes RFC 2047 encoded-words in a raw header value.
func DecodeHeader(raw string) string {
	s, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		s = raw
	}
	return strings.ToValidUTF8(s, "�")
}

// GetHeader returns the decoded values of the named header joined by sep, or "" when absent.
// Each fragment is trimmed before joining.
func GetHeader(h textproto.MIMEHeader, name, sep string) string {
	values := h.Values(name)
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strings.TrimSpace(DecodeHeader(v)))
	}
	return strings.Join(parts, sep)
}

// ParseDateTime parses an RFC 5322 date.  Missing or unparseable input yields now, and a warning
// is written to logger.
func ParseDateTime(logger zerolog.Logger, raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		logger.Warn().Msg("No Date header found, using current time")
		return now
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		logger.Warn().Err(err).Str("date", raw).Msg("Unparseable Date header, using current time")
		return now
	}
	return t
}

// ParseAddressList parses a comma separated address header.  Entries the RFC 5322 parser rejects
// are kept with their raw text as the address.
func ParseAddressList(raw string) []*mail.Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if addrs, err := gomail.ParseAddressList(raw); err == nil {
		return addrs
	}

	addrs := make([]*mail.Address, 0, 2)
	for _, piece := range strings.Split(raw, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if a, err := gomail.ParseAddress(piece); err == nil {
			addrs = append(addrs, a)
			continue
		}
		addrs = append(addrs, &mail.Address{Address: DecodeHeader(piece)})
	}
	return addrs
}

// DecodeBytes converts b from the named charset to UTF-8.  An empty or unknown label is treated
// as UTF-8, and invalid sequences are replaced with U+FFFD.
func DecodeBytes(b []byte, label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return strings.ToValidUTF8(string(b), "�")
	}
	r, err := charset.Reader(label, bytes.NewReader(b))
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	// On a read error, keep whatever decoded cleanly.
	out, _ := io.ReadAll(r)
	return strings.ToValidUTF8(string(out), "�")
}

// DecodeBodyPart returns the payload of a MIME part as text.  enmime has already converted text/*
// parts to UTF-8 while parsing; other parts are decoded from their declared charset.
func DecodeBodyPart(p *enmime.Part) string {
	if strings.HasPrefix(strings.ToLower(p.ContentType), "text/") {
		return DecodeBytes(p.Content, "utf-8")
	}
	return DecodeBytes(p.Content, p.Charset)
}
