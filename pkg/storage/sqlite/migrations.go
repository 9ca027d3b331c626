package sqlite

// migration is one step of the schema.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.  Versions are sequential from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account     TEXT    NOT NULL,
	mailbox     TEXT    NOT NULL,
	message_id  TEXT    NOT NULL,
	date_unix   INTEGER NOT NULL,
	subject     TEXT    NOT NULL DEFAULT '',
	plain_body  TEXT    NOT NULL DEFAULT '',
	html_body   TEXT    NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	is_spam     INTEGER NOT NULL DEFAULT 0,
	headers     TEXT    NOT NULL DEFAULT '{}',
	raw_path    TEXT    NOT NULL DEFAULT '',
	html_path   TEXT    NOT NULL DEFAULT '',
	UNIQUE (account, mailbox, message_id)
);

CREATE INDEX IF NOT EXISTS idx_emails_account_message
	ON emails(account, message_id);

CREATE TABLE IF NOT EXISTS attachments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id     INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	file_name    TEXT    NOT NULL,
	content_type TEXT    NOT NULL,
	content_id   TEXT    NOT NULL DEFAULT '',
	disposition  TEXT    NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	path         TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS correspondents (
	email_id INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	role     TEXT    NOT NULL,
	name     TEXT    NOT NULL DEFAULT '',
	address  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS mailing_lists (
	email_id         INTEGER PRIMARY KEY REFERENCES emails(id) ON DELETE CASCADE,
	list_id          TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	owner            TEXT NOT NULL DEFAULT '',
	subscribe        TEXT NOT NULL DEFAULT '',
	unsubscribe      TEXT NOT NULL DEFAULT '',
	unsubscribe_post TEXT NOT NULL DEFAULT '',
	post             TEXT NOT NULL DEFAULT '',
	help             TEXT NOT NULL DEFAULT '',
	archive          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS email_links (
	email_id   INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	kind       TEXT    NOT NULL,
	message_id TEXT    NOT NULL,
	target_id  INTEGER REFERENCES emails(id) ON DELETE SET NULL,
	PRIMARY KEY (email_id, kind, message_id)
);

CREATE INDEX IF NOT EXISTS idx_email_links_message
	ON email_links(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS health (
	scope         TEXT    NOT NULL,
	key           TEXT    NOT NULL,
	healthy       INTEGER NOT NULL,
	last_error    TEXT    NOT NULL DEFAULT '',
	last_error_at INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
