package test

import (
	"fmt"
	"strings"
	"time"
)

// MessageOption adjusts a message built by Message.
type MessageOption func(*messageSpec)

type messageSpec struct {
	id      string
	from    string
	to      string
	subject string
	date    time.Time
	headers []string
	body    string
}

// WithHeader adds a raw header line.
func WithHeader(name, value string) MessageOption {
	return func(s *messageSpec) { s.headers = append(s.headers, name+": "+value) }
}

// WithSubject sets the Subject.
func WithSubject(subject string) MessageOption {
	return func(s *messageSpec) { s.subject = subject }
}

// WithDate sets the Date header.
func WithDate(date time.Time) MessageOption {
	return func(s *messageSpec) { s.date = date }
}

// WithBody sets the plain text body.
func WithBody(body string) MessageOption {
	return func(s *messageSpec) { s.body = body }
}

// Message builds a simple plain text message with the given Message-ID.
func Message(id string, opts ...MessageOption) []byte {
	s := &messageSpec{
		id:      id,
		from:    "Some B. Else <somebodyelse@example.com>",
		to:      "Some Body <somebody@example.com>",
		subject: "Test message " + id,
		date:    time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		body:    "Test Body",
	}
	for _, o := range opts {
		o(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", s.id)
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.from, s.to, s.subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.date.Format(time.RFC1123Z))
	for _, h := range s.headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n" + s.body + "\r\n")
	return []byte(b.String())
}
