// Package model holds the JSON types of the mailvault monitor API.
package model

import (
	"time"
)

// JSONHealthV1 is the recorded health of one account or mailbox.
type JSONHealthV1 struct {
	Scope       string     `json:"scope"`
	Key         string     `json:"key"`
	Healthy     bool       `json:"healthy"`
	LastError   string     `json:"last-error,omitempty"`
	LastErrorAt *time.Time `json:"last-error-at,omitempty"`
	UpdatedAt   time.Time  `json:"updated-at"`
}

// JSONAccountV1 describes a configured account, without credentials.
type JSONAccountV1 struct {
	ID        string           `json:"id"`
	Address   string           `json:"address"`
	Protocol  string           `json:"protocol"`
	Server    string           `json:"server"`
	Healthy   bool             `json:"healthy"`
	LastError string           `json:"last-error,omitempty"`
	Mailboxes []*JSONMailboxV1 `json:"mailboxes"`
}

// JSONMailboxV1 describes a configured mailbox.
type JSONMailboxV1 struct {
	Name            string `json:"name"`
	Healthy         bool   `json:"healthy"`
	LastError       string `json:"last-error,omitempty"`
	SaveRaw         bool   `json:"save-raw"`
	SaveAttachments bool   `json:"save-attachments"`
	SaveHTML        bool   `json:"save-html"`
}

// JSONMessageHeaderV1 contains the basic header data for an archived message
type JSONMessageHeaderV1 struct {
	Account     string    `json:"account"`
	Mailbox     string    `json:"mailbox"`
	MessageID   string    `json:"message-id"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	PosixMillis int64     `json:"posix-millis"`
	Size        int64     `json:"size"`
	Spam        bool      `json:"spam"`
	Attachments int       `json:"attachments"`
}

// JSONCycleV1 summarizes a completed fetch cycle.
type JSONCycleV1 struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Mailbox    string    `json:"mailbox"`
	Criterion  string    `json:"criterion"`
	Started    time.Time `json:"started"`
	Millis     int64     `json:"duration-millis"`
	Fetched    int       `json:"fetched"`
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// JSONMonitorEventV1 is a monitor websocket frame; Variant is "message" or "cycle".
type JSONMonitorEventV1 struct {
	Variant string               `json:"variant"`
	Header  *JSONMessageHeaderV1 `json:"header,omitempty"`
	Cycle   *JSONCycleV1         `json:"cycle,omitempty"`
}
