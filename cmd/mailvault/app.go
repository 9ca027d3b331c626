package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/extension/luahost"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/inbucket/mailvault/pkg/message"
	"github.com/inbucket/mailvault/pkg/orchestrator"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/inbucket/mailvault/pkg/storage/sqlite"
	"github.com/rs/zerolog/log"
)

// app holds the services shared by every subcommand.
type app struct {
	conf     *config.Root
	accounts []*account.Account
	records  *sqlite.Store
	extHost  *extension.Host
	orch     *orchestrator.Orchestrator
	closeLog func()
}

// newApp processes configuration, opens the log, loads accounts and wires the orchestrator.
func newApp() (*app, error) {
	conf, err := config.Process()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	closeLog, err := openLog(conf.LogLevel, *logfile, *logjson)
	if err != nil {
		return nil, fmt.Errorf("log error: %w", err)
	}
	a := &app{conf: conf, closeLog: closeLog}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	startupLog := log.With().Str("phase", "startup").Logger()
	startupLog.Debug().Str("version", config.Version).Str("buildDate", config.BuildDate).
		Msg("Mailvault starting")

	path := a.conf.Accounts
	if *accountsFile != "" {
		path = *accountsFile
	}
	accounts, err := account.LoadFile(path)
	if err != nil {
		return fmt.Errorf("loading accounts from %q: %w", path, err)
	}
	for _, acct := range accounts {
		if acct.Timeout == 0 {
			acct.Timeout = a.conf.Fetch.Timeout
		}
	}
	a.accounts = accounts

	blobs, err := storage.FromConfig(a.conf.Storage)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.conf.Storage.Database), 0o755); err != nil {
		return err
	}
	records, err := sqlite.Open(a.conf.Storage.Database)
	if err != nil {
		return fmt.Errorf("opening record database: %w", err)
	}
	a.records = records

	a.extHost = extension.NewHost()
	if _, err := luahost.New(log.Logger, a.conf.Lua, a.extHost); err != nil {
		return fmt.Errorf("lua extension: %w", err)
	}

	normalizer := message.NewNormalizer(
		message.Options{IgnoreTypes: a.conf.Fetch.IgnoreTypes},
		log.With().Str("module", "message").Logger())
	a.orch = orchestrator.New(normalizer, records, records, blobs, a.extHost, orchestrator.Options{
		SkipSpam: a.conf.Fetch.SkipSpam,
		Fetch:    fetcher.Options{BatchSize: a.conf.Fetch.BatchSize},
	})
	return nil
}

// Close releases the record database and flushes the log.
func (a *app) Close() {
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			log.Error().Err(err).Str("module", "storage").Msg("Failed to close record database")
		}
	}
	a.closeLog()
}

// account returns the account with the given id.
func (a *app) account(id string) (*account.Account, error) {
	for _, acct := range a.accounts {
		if acct.ID == id {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("unknown account %q", id)
}

// mailbox resolves an "account/mailbox" reference.  Mailbox names may contain slashes.
func (a *app) mailbox(ref string) (*account.Mailbox, error) {
	id, name, ok := strings.Cut(ref, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("mailbox %q must be given as account/mailbox", ref)
	}
	acct, err := a.account(id)
	if err != nil {
		return nil, err
	}
	mb := acct.Mailbox(name)
	if mb == nil {
		return nil, fmt.Errorf("account %q has no mailbox %q", id, name)
	}
	return mb, nil
}

// selectMailboxes resolves refs into mailboxes: an "account" ref selects all of its
// mailboxes, no refs selects every mailbox.
func (a *app) selectMailboxes(refs []string) ([]*account.Mailbox, error) {
	var mbs []*account.Mailbox
	if len(refs) == 0 {
		for _, acct := range a.accounts {
			mbs = append(mbs, acct.Mailboxes...)
		}
		return mbs, nil
	}
	for _, ref := range refs {
		if !strings.Contains(ref, "/") {
			acct, err := a.account(ref)
			if err != nil {
				return nil, err
			}
			mbs = append(mbs, acct.Mailboxes...)
			continue
		}
		mb, err := a.mailbox(ref)
		if err != nil {
			return nil, err
		}
		mbs = append(mbs, mb)
	}
	return mbs, nil
}
