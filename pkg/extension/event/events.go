package event

import (
	"net/mail"
	"time"
)

// Action decides what happens to a message offered to BeforeMessageStored listeners.
type Action int

const (
	// ActionDefault leaves the decision to mailvault's own policy.
	ActionDefault Action = iota
	// ActionStore stores the message, even if policy would have skipped it.
	ActionStore
	// ActionSkip drops the message without storing it.
	ActionSkip
)

// InboundMessage describes a normalized message about to be stored.
type InboundMessage struct {
	Account   string
	Mailbox   string
	MessageID string
	From      *mail.Address
	To        []*mail.Address
	Subject   string
	Size      int64
	Spam      bool
}

// StoreDecision is the response of a BeforeMessageStored listener.
type StoreDecision struct {
	Action Action
	Reason string
}

// MessageMetadata contains the basic header data for a message event.
type MessageMetadata struct {
	Account     string
	Mailbox     string
	MessageID   string
	From        *mail.Address
	To          []*mail.Address
	Date        time.Time
	Subject     string
	Size        int64
	Spam        bool
	Attachments int
}

// CycleSummary is the outcome of one fetch cycle over a mailbox.
type CycleSummary struct {
	ID         string
	Account    string
	Mailbox    string
	Criterion  string
	Started    time.Time
	Duration   time.Duration
	Fetched    int
	Stored     int
	Duplicates int
	Skipped    int
	Failed     int
	Error      string
}
