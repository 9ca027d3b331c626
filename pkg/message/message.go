// Package message turns raw RFC 5322 bytes into the protocol independent Email record that the
// rest of mailvault archives.
package message

import (
	"net/mail"
	"time"

	"github.com/inbucket/mailvault/pkg/extension/event"
)

// Role is the relationship of a correspondent to a message, named after the header it came from.
type Role string

// Correspondent roles, in extraction order.
const (
	RoleFrom                      Role = "from"
	RoleTo                        Role = "to"
	RoleCc                        Role = "cc"
	RoleBcc                       Role = "bcc"
	RoleSender                    Role = "sender"
	RoleReplyTo                   Role = "reply-to"
	RoleResentFrom                Role = "resent-from"
	RoleResentTo                  Role = "resent-to"
	RoleResentCc                  Role = "resent-cc"
	RoleResentBcc                 Role = "resent-bcc"
	RoleResentSender              Role = "resent-sender"
	RoleResentReplyTo             Role = "resent-reply-to"
	RoleEnvelopeTo                Role = "envelope-to"
	RoleDeliveredTo               Role = "delivered-to"
	RoleReturnPath                Role = "return-path"
	RoleReturnReceiptTo           Role = "return-receipt-to"
	RoleDispositionNotificationTo Role = "disposition-notification-to"
)

// Roles lists every correspondent role.  Adding a role here is enough for it to be extracted.
var Roles = []Role{
	RoleFrom, RoleTo, RoleCc, RoleBcc, RoleSender, RoleReplyTo,
	RoleResentFrom, RoleResentTo, RoleResentCc, RoleResentBcc, RoleResentSender,
	RoleResentReplyTo, RoleEnvelopeTo, RoleDeliveredTo, RoleReturnPath, RoleReturnReceiptTo,
	RoleDispositionNotificationTo,
}

// Correspondent is one address found in a role header.
type Correspondent struct {
	Role    Role
	Name    string
	Address string
}

// MailAddress converts the correspondent to a net/mail address.
func (c Correspondent) MailAddress() *mail.Address {
	return &mail.Address{Name: c.Name, Address: c.Address}
}

// Attachment is a binary part of a message, also used for inline images.
type Attachment struct {
	FileName    string
	ContentType string
	ContentID   string
	Disposition string
	Size        int64
	Content     []byte
}

// MailingList holds the List-* headers of a message.
type MailingList struct {
	ID              string
	Name            string
	Owner           string
	Subscribe       string
	Unsubscribe     string
	UnsubscribePost string
	Post            string
	Help            string
	Archive         string
}

// Email is the canonical, protocol independent form of a message.  It is created once per raw
// message by a Normalizer and not modified afterwards.
type Email struct {
	MessageID      string
	Date           time.Time
	Subject        string
	PlainBody      string
	HTMLBody       string
	HTMLRendering  string
	Size           int64
	Headers        map[string]string
	IsSpam         bool
	Attachments    []*Attachment
	InlineImages   []*Attachment
	Correspondents []Correspondent
	InReplyTo      []string
	References     []string
	MailingList    *MailingList
	Raw            []byte
}

// From returns the first From correspondent, or nil.  It is the one mailing list data is
// attached to.
func (e *Email) From() *Correspondent {
	for i := range e.Correspondents {
		if e.Correspondents[i].Role == RoleFrom {
			return &e.Correspondents[i]
		}
	}
	return nil
}

// ByRole returns the correspondents with the given role, in header order.
func (e *Email) ByRole(role Role) []Correspondent {
	var out []Correspondent
	for _, c := range e.Correspondents {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// Metadata builds the extension event payload for this email.
func (e *Email) Metadata(accountID, mailbox string) event.MessageMetadata {
	meta := event.MessageMetadata{
		Account:     accountID,
		Mailbox:     mailbox,
		MessageID:   e.MessageID,
		Date:        e.Date,
		Subject:     e.Subject,
		Size:        e.Size,
		Spam:        e.IsSpam,
		Attachments: len(e.Attachments),
	}
	if from := e.From(); from != nil {
		meta.From = from.MailAddress()
	}
	for _, c := range e.ByRole(RoleTo) {
		meta.To = append(meta.To, c.MailAddress())
	}
	return meta
}

// Inbound builds the BeforeMessageStored payload for this email.
func (e *Email) Inbound(accountID, mailbox string) event.InboundMessage {
	meta := e.Metadata(accountID, mailbox)
	return event.InboundMessage{
		Account:   accountID,
		Mailbox:   mailbox,
		MessageID: e.MessageID,
		From:      meta.From,
		To:        meta.To,
		Subject:   e.Subject,
		Size:      e.Size,
		Spam:      e.IsSpam,
	}
}
