// Package account holds the mail account and mailbox configuration handed to the fetch engine.
package account

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Protocol identifies the wire protocol used to reach an account.
type Protocol string

// Supported protocols.
const (
	IMAP     Protocol = "IMAP"
	IMAPTLS  Protocol = "IMAP_SSL"
	POP3     Protocol = "POP3"
	POP3TLS  Protocol = "POP3_SSL"
	Exchange Protocol = "EXCHANGE"
	JMAP     Protocol = "JMAP"
)

// DefaultTimeout bounds each network operation when an account does not set its own.
const DefaultTimeout = 30 * time.Second

var defaultPorts = map[Protocol]int{
	IMAP:     143,
	IMAPTLS:  993,
	POP3:     110,
	POP3TLS:  995,
	Exchange: 443,
	JMAP:     443,
}

// ParseProtocol converts a case-insensitive protocol tag into a Protocol.
func ParseProtocol(s string) (Protocol, bool) {
	p := Protocol(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case "IMAP4":
		p = IMAP
	case "IMAP4_SSL", "IMAPS":
		p = IMAPTLS
	case "POP3S":
		p = POP3TLS
	}
	_, ok := defaultPorts[p]
	return p, ok
}

// Health tracks whether the last operation against an account or mailbox succeeded.  The zero
// value is healthy.  Cycles on different mailboxes of one account report concurrently, so all
// access goes through the methods.
type Health struct {
	mu      sync.RWMutex
	failed  bool
	lastErr string
	lastAt  time.Time
}

// Report records the outcome of an operation finished at at.  A nil err marks the state healthy
// and keeps the previous error for reference.
func (h *Health) Report(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = err != nil
	if err != nil {
		h.lastErr = err.Error()
		h.lastAt = at
	}
}

// Healthy reports whether the last recorded operation succeeded.
func (h *Health) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.failed
}

// LastError returns the most recent error message and when it was reported.
func (h *Health) LastError() (string, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr, h.lastAt
}

// Account is a remote mail account.  The lifecycle belongs to the configuration collaborator;
// the fetch engine only reads it, apart from Health.
type Account struct {
	ID            string
	Address       string
	Password      string
	Token         string
	Host          string
	Port          int
	Protocol      Protocol
	Timeout       time.Duration
	AllowInsecure bool
	Mailboxes     []*Mailbox
	Health        Health
}

// Addr returns host:port for the account, applying the protocol default port.
func (a *Account) Addr() string {
	port := a.Port
	if port == 0 {
		port = defaultPorts[a.Protocol]
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(port))
}

// OperationTimeout returns the configured per-operation timeout, or DefaultTimeout.
func (a *Account) OperationTimeout() time.Duration {
	if a.Timeout <= 0 {
		return DefaultTimeout
	}
	return a.Timeout
}

// Mailbox returns the named mailbox of this account, or nil.
func (a *Account) Mailbox(name string) *Mailbox {
	for _, mb := range a.Mailboxes {
		if mb.Name == name {
			return mb
		}
	}
	return nil
}

// AddMailbox attaches a new mailbox to the account, returning the existing one if the name is
// already known.
func (a *Account) AddMailbox(name string) *Mailbox {
	if mb := a.Mailbox(name); mb != nil {
		return mb
	}
	mb := &Mailbox{
		Account:         a,
		Name:            name,
		SaveRaw:         true,
		SaveAttachments: true,
	}
	a.Mailboxes = append(a.Mailboxes, mb)
	return mb
}

func (a *Account) String() string {
	return a.ID + " (" + a.Address + " via " + string(a.Protocol) + ")"
}

// Mailbox is a named folder under an Account.  Identity is (account, name).
type Mailbox struct {
	Account         *Account
	Name            string
	SaveRaw         bool
	SaveAttachments bool
	SaveHTML        bool
	Health          Health
}

// Owner returns the account the mailbox belongs to, nil for a detached mailbox.
func (m *Mailbox) Owner() *Account {
	return m.Account
}

// BelongsTo reports whether the mailbox is owned by the given account.
func (m *Mailbox) BelongsTo(a *Account) bool {
	if m == nil || m.Account == nil || a == nil {
		return false
	}
	return m.Account == a || m.Account.ID == a.ID
}

// Key returns a string uniquely identifying the mailbox across accounts.
func (m *Mailbox) Key() string {
	if m.Account == nil {
		return "/" + m.Name
	}
	return m.Account.ID + "/" + m.Name
}

func (m *Mailbox) String() string {
	return m.Key()
}
