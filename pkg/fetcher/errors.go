package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrForeignMailbox indicates a mailbox of another account was handed to a fetcher.
	ErrForeignMailbox = errors.New("mailbox does not belong to the fetcher's account")

	// ErrUnsupportedCriterion indicates the fetcher cannot translate the criterion.
	ErrUnsupportedCriterion = errors.New("fetching criterion not supported by protocol")

	// ErrProtocolMismatch indicates an account was handed to the fetcher of another protocol.
	ErrProtocolMismatch = errors.New("account protocol does not match fetcher")

	// ErrNotSupported indicates the protocol has no way to perform the operation.
	ErrNotSupported = errors.New("operation not supported by protocol")

	// ErrNotConnected indicates an operation was attempted before Connect or after Close.
	ErrNotConnected = errors.New("fetcher is not connected")
)

// AccountError reports a failure of the account or its connection: bad credentials, an
// unreachable host, an expired session.
type AccountError struct {
	Op  string
	Err error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account error during %s: %v", e.Op, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// MailboxError reports a failed operation on one folder of the account.
type MailboxError struct {
	Op      string
	Mailbox string
	Err     error
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("mailbox %q error during %s: %v", e.Mailbox, e.Op, e.Err)
}

func (e *MailboxError) Unwrap() error {
	return e.Err
}

// BadServerResponseError reports a server reply that did not have the expected shape.
type BadServerResponseError struct {
	Op       string
	Response string
}

func (e *BadServerResponseError) Error() string {
	return fmt.Sprintf("bad server response to %s: %s", e.Op, e.Response)
}

// AccountErr wraps err as an AccountError unless it is nil or already classified.
func AccountErr(op string, err error) error {
	if err == nil || isClassified(err) {
		return err
	}
	return &AccountError{Op: op, Err: err}
}

// MailboxErr wraps err as a MailboxError unless it is nil or already classified.
func MailboxErr(op, mailbox string, err error) error {
	if err == nil || isClassified(err) {
		return err
	}
	return &MailboxError{Op: op, Mailbox: mailbox, Err: err}
}

// IsAccountError reports whether err, or an error it wraps, is an AccountError.
func IsAccountError(err error) bool {
	var ae *AccountError
	return errors.As(err, &ae)
}

// IsMailboxError reports whether err, or an error it wraps, is a MailboxError.
func IsMailboxError(err error) bool {
	var me *MailboxError
	return errors.As(err, &me)
}

func isClassified(err error) bool {
	return IsAccountError(err) || IsMailboxError(err)
}
