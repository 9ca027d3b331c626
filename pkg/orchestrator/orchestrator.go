// Package orchestrator drives fetch cycles: it opens a fetcher for a mailbox, normalizes every
// retrieved message, and hands the results to the blob and record stores.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/extension/event"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/inbucket/mailvault/pkg/fetcher/registry"
	"github.com/inbucket/mailvault/pkg/message"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoAccount indicates a mailbox that is not attached to an account.
var ErrNoAccount = errors.New("mailbox has no account")

// Opener builds and connects a fetcher for an account.
type Opener func(ctx context.Context, acct *account.Account, opts fetcher.Options) (fetcher.Fetcher, error)

// Outcome is what happened to one message.
type Outcome int

// Message outcomes.
const (
	Stored Outcome = iota
	Duplicate
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case Skipped:
		return "skipped"
	}
	return "failed"
}

// CycleResult summarizes one fetch cycle, or one import.
type CycleResult struct {
	ID         string
	Account    string
	Mailbox    string
	Criterion  criterion.Criterion
	Started    time.Time
	Duration   time.Duration
	Fetched    int
	Stored     int
	Duplicates int
	Skipped    int
	Failed     int
}

func (r *CycleResult) add(o Outcome) {
	switch o {
	case Stored:
		r.Stored++
	case Duplicate:
		r.Duplicates++
	case Skipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Options configure an Orchestrator.
type Options struct {
	// SkipSpam drops messages flagged as spam unless an extension asks to store them.
	SkipSpam bool
	// Fetch is handed to every fetcher.
	Fetch fetcher.Options
}

// Orchestrator runs fetch cycles and the operations built on stored messages.  It is safe for
// concurrent use as long as each call works on a different mailbox, including mailboxes of one
// account.
type Orchestrator struct {
	open       Opener
	normalizer *message.Normalizer
	records    storage.Persister
	health     storage.HealthRecorder
	blobs      storage.Store
	extHost    *extension.Host
	opts       Options
	logger     zerolog.Logger
}

// New creates an Orchestrator.  A nil health recorder disables health persistence; in-memory
// account and mailbox flags are still updated.
func New(
	normalizer *message.Normalizer,
	records storage.Persister,
	health storage.HealthRecorder,
	blobs storage.Store,
	extHost *extension.Host,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		open:       registry.Open,
		normalizer: normalizer,
		records:    records,
		health:     health,
		blobs:      blobs,
		extHost:    extHost,
		opts:       opts,
		logger:     log.With().Str("module", "orchestrator").Logger(),
	}
}

// RunCycle fetches the messages of mb matching c and stores each one.  A failure to reach the
// account or mailbox aborts the cycle and marks it unhealthy; problems with single messages are
// counted and logged.
func (o *Orchestrator) RunCycle(
	ctx context.Context,
	mb *account.Mailbox,
	c criterion.Criterion,
) (*CycleResult, error) {
	res := o.newResult(mb)
	res.Criterion = c
	logger := o.logger.With().Str("cycle", res.ID).Str("mailbox", mb.Key()).
		Str("criterion", c.String()).Logger()
	if mb.Account == nil {
		return res, ErrNoAccount
	}
	acct := mb.Account

	err := func() error {
		f, err := o.open(ctx, acct, o.opts.Fetch)
		if err != nil {
			return err
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Debug().Err(err).Msg("Close failed")
			}
		}()

		raws, err := f.FetchEmails(ctx, mb, c)
		if err != nil {
			return err
		}
		res.Fetched = len(raws)
		logger.Debug().Int("count", len(raws)).Msg("Fetched messages")
		for _, raw := range raws {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.add(o.ingest(ctx, mb, raw, logger))
		}
		return nil
	}()
	res.Duration = time.Since(res.Started)

	o.report(ctx, acct, mb, err)
	record(res, err)
	o.emitCycle(res, err)
	if err != nil {
		logger.Warn().Err(err).Msg("Fetch cycle failed")
		return res, err
	}
	logger.Info().Int("fetched", res.Fetched).Int("stored", res.Stored).
		Int("duplicates", res.Duplicates).Int("skipped", res.Skipped).Int("failed", res.Failed).
		Dur("duration", res.Duration).Msg("Fetch cycle completed")
	return res, nil
}

// ingest normalizes and stores a single raw message.
func (o *Orchestrator) ingest(
	ctx context.Context,
	mb *account.Mailbox,
	raw []byte,
	logger zerolog.Logger,
) Outcome {
	email, err := o.normalizer.Normalize(raw)
	if err != nil {
		logger.Warn().Err(err).Int("size", len(raw)).Msg("Failed to normalize message")
		return Failed
	}
	logger = logger.With().Str("messageID", email.MessageID).Logger()

	exists, err := o.records.Exists(ctx, mb, email.MessageID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check for duplicate")
		return Failed
	}
	if exists {
		return Duplicate
	}

	store := !(email.IsSpam && o.opts.SkipSpam)
	inbound := email.Inbound(mb.Account.ID, mb.Name)
	if decision := o.extHost.Events.BeforeMessageStored.Emit(&inbound); decision != nil {
		switch decision.Action {
		case event.ActionSkip:
			logger.Debug().Str("reason", decision.Reason).Msg("Extension skipped message")
			store = false
		case event.ActionStore:
			store = true
		}
	}
	if !store {
		return Skipped
	}

	files, err := o.saveBlobs(ctx, mb, email)
	if err != nil {
		o.removeBlobs(files, logger)
		logger.Warn().Err(err).Msg("Failed to save message files")
		return Failed
	}
	stored, err := o.records.Store(ctx, mb, email, files)
	if err != nil || !stored {
		o.removeBlobs(files, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to record message")
			return Failed
		}
		return Duplicate
	}

	meta := email.Metadata(mb.Account.ID, mb.Name)
	o.extHost.Events.AfterMessageStored.Emit(&meta)
	return Stored
}

// saveBlobs writes the files the mailbox save policy asks for.  On error the returned Files
// holds what was written so far.
func (o *Orchestrator) saveBlobs(
	ctx context.Context,
	mb *account.Mailbox,
	email *message.Email,
) (storage.Files, error) {
	var files storage.Files
	base := strings.Trim(email.MessageID, "<>")
	var err error
	if mb.SaveRaw {
		files.Raw, err = o.blobs.Write(ctx, storage.KindRaw, base+".eml",
			bytes.NewReader(email.Raw))
		if err != nil {
			return files, fmt.Errorf("writing raw message: %w", err)
		}
	}
	if mb.SaveHTML && email.HTMLRendering != "" {
		files.HTML, err = o.blobs.Write(ctx, storage.KindRendering, base+".html",
			strings.NewReader(email.HTMLRendering))
		if err != nil {
			return files, fmt.Errorf("writing rendering: %w", err)
		}
	}
	if mb.SaveAttachments {
		for _, a := range email.Attachments {
			p, err := o.blobs.Write(ctx, storage.KindAttachment, a.FileName,
				bytes.NewReader(a.Content))
			if err != nil {
				return files, fmt.Errorf("writing attachment %q: %w", a.FileName, err)
			}
			files.Attachments = append(files.Attachments, p)
		}
	}
	return files, nil
}

// removeBlobs deletes files written for a message that was not recorded.
func (o *Orchestrator) removeBlobs(files storage.Files, logger zerolog.Logger) {
	paths := append([]string{files.Raw, files.HTML}, files.Attachments...)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := o.blobs.Remove(p); err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("Failed to remove orphaned file")
		}
	}
}

// report updates account and mailbox health after an operation.  Only errors that reached the
// server count; validation errors leave health untouched.  A nil mb reports the account only.
func (o *Orchestrator) report(ctx context.Context, acct *account.Account, mb *account.Mailbox, err error) {
	switch {
	case err == nil:
		o.setAccount(ctx, acct, nil)
		if mb != nil {
			o.setMailbox(ctx, mb, nil)
		}
	case fetcher.IsAccountError(err):
		o.setAccount(ctx, acct, err)
	case fetcher.IsMailboxError(err):
		o.setAccount(ctx, acct, nil)
		if mb != nil {
			o.setMailbox(ctx, mb, err)
		}
	}
}

func (o *Orchestrator) setAccount(ctx context.Context, acct *account.Account, err error) {
	acct.Health.Report(err, time.Now())
	if o.health != nil {
		if herr := o.health.ReportAccount(context.WithoutCancel(ctx), acct, err); herr != nil {
			o.logger.Warn().Err(herr).Str("account", acct.ID).Msg("Failed to record health")
		}
	}
}

func (o *Orchestrator) setMailbox(ctx context.Context, mb *account.Mailbox, err error) {
	mb.Health.Report(err, time.Now())
	if o.health != nil {
		if herr := o.health.ReportMailbox(context.WithoutCancel(ctx), mb, err); herr != nil {
			o.logger.Warn().Err(herr).Str("mailbox", mb.Key()).Msg("Failed to record health")
		}
	}
}

func (o *Orchestrator) emitCycle(res *CycleResult, err error) {
	summary := event.CycleSummary{
		ID:         res.ID,
		Account:    res.Account,
		Mailbox:    res.Mailbox,
		Criterion:  res.Criterion.String(),
		Started:    res.Started,
		Duration:   res.Duration,
		Fetched:    res.Fetched,
		Stored:     res.Stored,
		Duplicates: res.Duplicates,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
	}
	if err != nil {
		summary.Error = err.Error()
	}
	o.extHost.Events.AfterCycleCompleted.Emit(&summary)
}

func (o *Orchestrator) newResult(mb *account.Mailbox) *CycleResult {
	res := &CycleResult{
		ID:      uuid.NewString(),
		Mailbox: mb.Name,
		Started: time.Now(),
	}
	if mb.Account != nil {
		res.Account = mb.Account.ID
	}
	return res
}
