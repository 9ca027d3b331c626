// Package sqlite records canonical emails and account health in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/message"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Link kinds stored in email_links.
const (
	LinkInReplyTo  = "in-reply-to"
	LinkReferences = "references"
)

// Store implements storage.Persister and storage.HealthRecorder.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var (
	_ storage.Persister      = &Store{}
	_ storage.HealthRecorder = &Store{}
)

// Link is a reference from one email to another message id.  Target is the message id of the
// linked email once it is known, or empty.
type Link struct {
	Kind      string `db:"kind"`
	MessageID string `db:"message_id"`
	Target    string `db:"target"`
}

// Open opens (or creates) the database at path and applies any pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// Serialize access on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any outstanding migrations in
// order.
func (s *Store) runMigrations() error {
	currentVersion := 0
	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Exists reports whether the mailbox already holds an email with messageID.
func (s *Store) Exists(ctx context.Context, mb *account.Mailbox, messageID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM emails WHERE account = ? AND mailbox = ? AND message_id = ?",
		accountID(mb), mb.Name, messageID)
	if err != nil {
		return false, fmt.Errorf("checking email %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Store records the email, its attachments, correspondents, mailing list and links.  Links are
// resolved against emails of the same account, and earlier emails pointing at this one are
// back-filled.
func (s *Store) Store(
	ctx context.Context,
	mb *account.Mailbox,
	email *message.Email,
	files storage.Files,
) (bool, error) {
	headers, err := json.Marshal(email.Headers)
	if err != nil {
		return false, fmt.Errorf("marshaling headers of %s: %w", email.MessageID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	acct := accountID(mb)
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			account, mailbox, message_id, date_unix, subject,
			plain_body, html_body, size, is_spam, headers,
			raw_path, html_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct, mb.Name, email.MessageID, email.Date.Unix(), email.Subject,
		email.PlainBody, email.HTMLBody, email.Size, email.IsSpam, string(headers),
		files.Raw, files.HTML,
	)
	if err != nil {
		return false, fmt.Errorf("inserting email %s: %w", email.MessageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}

	for i, a := range email.Attachments {
		path := ""
		if i < len(files.Attachments) {
			path = files.Attachments[i]
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (
				email_id, file_name, content_type, content_id, disposition, size, path
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, a.FileName, a.ContentType, a.ContentID, a.Disposition, a.Size, path)
		if err != nil {
			return false, fmt.Errorf("inserting attachment %q: %w", a.FileName, err)
		}
	}

	for _, c := range email.Correspondents {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO correspondents (email_id, role, name, address) VALUES (?, ?, ?, ?)",
			id, string(c.Role), c.Name, c.Address)
		if err != nil {
			return false, fmt.Errorf("inserting correspondent %q: %w", c.Address, err)
		}
	}

	if ml := email.MailingList; ml != nil && ml.ID != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mailing_lists (
				email_id, list_id, name, owner, subscribe, unsubscribe,
				unsubscribe_post, post, help, archive
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, ml.ID, ml.Name, ml.Owner, ml.Subscribe, ml.Unsubscribe,
			ml.UnsubscribePost, ml.Post, ml.Help, ml.Archive)
		if err != nil {
			return false, fmt.Errorf("inserting mailing list %q: %w", ml.ID, err)
		}
	}

	if err := insertLinks(ctx, tx, id, LinkInReplyTo, email.InReplyTo); err != nil {
		return false, err
	}
	if err := insertLinks(ctx, tx, id, LinkReferences, email.References); err != nil {
		return false, err
	}

	// Resolve this email's links.
	_, err = tx.ExecContext(ctx, `
		UPDATE email_links SET target_id = (
			SELECT e.id FROM emails e
			WHERE e.account = ? AND e.message_id = email_links.message_id AND e.id <> ?
			ORDER BY e.id LIMIT 1
		)
		WHERE email_id = ?`,
		acct, id, id)
	if err != nil {
		return false, fmt.Errorf("resolving links of %s: %w", email.MessageID, err)
	}

	// Back-fill links waiting for this email.
	_, err = tx.ExecContext(ctx, `
		UPDATE email_links SET target_id = ?
		WHERE target_id IS NULL AND message_id = ? AND email_id IN (
			SELECT id FROM emails WHERE account = ?
		)`,
		id, email.MessageID, acct)
	if err != nil {
		return false, fmt.Errorf("back-filling links to %s: %w", email.MessageID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing email %s: %w", email.MessageID, err)
	}
	return true, nil
}

// insertLinks records the message ids an email refers to.
func insertLinks(ctx context.Context, tx *sqlx.Tx, id int64, kind string, ids []string) error {
	for _, mid := range ids {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO email_links (email_id, kind, message_id) VALUES (?, ?, ?)",
			id, kind, mid)
		if err != nil {
			return fmt.Errorf("inserting %s link %q: %w", kind, mid, err)
		}
	}
	return nil
}

// Links returns the links of an email, with resolved targets.
func (s *Store) Links(ctx context.Context, mb *account.Mailbox, messageID string) ([]Link, error) {
	var links []Link
	err := s.db.SelectContext(ctx, &links, `
		SELECT l.kind, l.message_id, COALESCE(t.message_id, '') AS target
		FROM email_links l
		JOIN emails e ON e.id = l.email_id
		LEFT JOIN emails t ON t.id = l.target_id
		WHERE e.account = ? AND e.mailbox = ? AND e.message_id = ?
		ORDER BY l.kind, l.message_id`,
		accountID(mb), mb.Name, messageID)
	if err != nil {
		return nil, fmt.Errorf("listing links of %s: %w", messageID, err)
	}
	return links, nil
}

// Emails lists the emails of a mailbox in date order.
func (s *Store) Emails(ctx context.Context, mb *account.Mailbox) ([]storage.Record, error) {
	var rows []struct {
		MessageID string `db:"message_id"`
		DateUnix  int64  `db:"date_unix"`
		Subject   string `db:"subject"`
		RawPath   string `db:"raw_path"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT message_id, date_unix, subject, raw_path
		FROM emails
		WHERE account = ? AND mailbox = ?
		ORDER BY date_unix, id`,
		accountID(mb), mb.Name)
	if err != nil {
		return nil, fmt.Errorf("listing emails of %s: %w", mb, err)
	}
	records := make([]storage.Record, len(rows))
	for i, r := range rows {
		records[i] = storage.Record{
			MessageID: r.MessageID,
			Date:      time.Unix(r.DateUnix, 0).UTC(),
			Subject:   r.Subject,
			RawPath:   r.RawPath,
		}
	}
	return records, nil
}

// RawPath returns the raw blob path of an email.
func (s *Store) RawPath(ctx context.Context, mb *account.Mailbox, messageID string) (string, error) {
	var path string
	err := s.db.GetContext(ctx, &path,
		"SELECT raw_path FROM emails WHERE account = ? AND mailbox = ? AND message_id = ?",
		accountID(mb), mb.Name, messageID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && path == "") {
		return "", fmt.Errorf("%w: %s in %s", storage.ErrNoRecord, messageID, mb)
	}
	if err != nil {
		return "", fmt.Errorf("reading raw path of %s: %w", messageID, err)
	}
	return path, nil
}

// Attachments returns the attachment names and blob paths of an email, in message order.
func (s *Store) Attachments(
	ctx context.Context,
	mb *account.Mailbox,
	messageID string,
) ([]message.Attachment, []string, error) {
	var rows []struct {
		FileName    string `db:"file_name"`
		ContentType string `db:"content_type"`
		ContentID   string `db:"content_id"`
		Disposition string `db:"disposition"`
		Size        int64  `db:"size"`
		Path        string `db:"path"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.file_name, a.content_type, a.content_id, a.disposition, a.size, a.path
		FROM attachments a
		JOIN emails e ON e.id = a.email_id
		WHERE e.account = ? AND e.mailbox = ? AND e.message_id = ?
		ORDER BY a.id`,
		accountID(mb), mb.Name, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing attachments of %s: %w", messageID, err)
	}
	atts := make([]message.Attachment, len(rows))
	paths := make([]string, len(rows))
	for i, r := range rows {
		atts[i] = message.Attachment{
			FileName:    r.FileName,
			ContentType: r.ContentType,
			ContentID:   r.ContentID,
			Disposition: r.Disposition,
			Size:        r.Size,
		}
		paths[i] = r.Path
	}
	return atts, paths, nil
}

func accountID(mb *account.Mailbox) string {
	if mb.Account == nil {
		return ""
	}
	return mb.Account.ID
}
