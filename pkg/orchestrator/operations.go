package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/container"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/inbucket/mailvault/pkg/storage"
)

// TestAccount connects to the account and checks the session is usable.
func (o *Orchestrator) TestAccount(ctx context.Context, acct *account.Account) error {
	err := o.withFetcher(ctx, acct, func(f fetcher.Fetcher) error {
		return f.Test(ctx, nil)
	})
	o.report(ctx, acct, nil, err)
	return err
}

// TestMailbox connects to the mailbox account and checks the mailbox can be opened.
func (o *Orchestrator) TestMailbox(ctx context.Context, mb *account.Mailbox) error {
	if mb.Account == nil {
		return ErrNoAccount
	}
	err := o.withFetcher(ctx, mb.Account, func(f fetcher.Fetcher) error {
		return f.Test(ctx, mb)
	})
	o.report(ctx, mb.Account, mb, err)
	return err
}

// ListMailboxes returns the mailbox names the server reports for the account.
func (o *Orchestrator) ListMailboxes(ctx context.Context, acct *account.Account) ([]string, error) {
	var names []string
	err := o.withFetcher(ctx, acct, func(f fetcher.Fetcher) error {
		var err error
		names, err = f.FetchMailboxes(ctx)
		return err
	})
	o.report(ctx, acct, nil, err)
	return names, err
}

// Restore uploads a stored message back into its mailbox on the server.
func (o *Orchestrator) Restore(ctx context.Context, mb *account.Mailbox, messageID string) error {
	if mb.Account == nil {
		return ErrNoAccount
	}
	path, err := o.records.RawPath(ctx, mb, messageID)
	if err != nil {
		return err
	}
	raw, err := storage.ReadAll(o.blobs, path)
	if err != nil {
		return err
	}
	return o.withFetcher(ctx, mb.Account, func(f fetcher.Fetcher) error {
		return f.Restore(ctx, mb, raw)
	})
}

// Import reads a container file and stores every message in it.  Duplicates are counted, not
// reported as errors.
func (o *Orchestrator) Import(
	ctx context.Context,
	mb *account.Mailbox,
	path string,
	format container.Format,
) (*CycleResult, error) {
	if mb.Account == nil {
		return nil, ErrNoAccount
	}
	res := o.newResult(mb)
	logger := o.logger.With().Str("import", res.ID).Str("mailbox", mb.Key()).
		Str("file", path).Logger()
	_, err := container.ImportFile(ctx, path, format, func(raw []byte) error {
		res.Fetched++
		res.add(o.ingest(ctx, mb, raw, logger))
		return nil
	})
	res.Duration = time.Since(res.Started)
	record(res, err)
	if err != nil {
		logger.Warn().Err(err).Msg("Import failed")
		return res, err
	}
	logger.Info().Int("read", res.Fetched).Int("stored", res.Stored).
		Int("duplicates", res.Duplicates).Msg("Import completed")
	return res, nil
}

// Export writes every stored message of mb with a raw file into a container at dest.
func (o *Orchestrator) Export(
	ctx context.Context,
	mb *account.Mailbox,
	dest string,
	format container.Format,
) (*container.ExportResult, error) {
	format, err := container.ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	records, err := o.records.Emails(ctx, mb)
	if err != nil {
		return nil, err
	}
	items := make([]container.Item, len(records))
	for i, r := range records {
		items[i] = container.Item{
			Name: r.MessageID,
			Date: r.Date,
			Open: func() (io.ReadCloser, error) {
				if r.RawPath == "" {
					return nil, storage.ErrNotExist
				}
				return o.blobs.Open(r.RawPath)
			},
		}
	}
	exp := container.NewExporter(mb.Name)
	res, err := exp.ExportFile(ctx, dest, format, items)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("mailbox", mb.Key()).Str("file", dest).Int("written", res.Written).
		Int("skipped", len(res.Skipped)).Msg("Export completed")
	return res, nil
}

// withFetcher opens a fetcher for acct, runs f, and always closes the fetcher.
func (o *Orchestrator) withFetcher(
	ctx context.Context,
	acct *account.Account,
	f func(fetcher.Fetcher) error,
) error {
	ft, err := o.open(ctx, acct, o.opts.Fetch)
	if err != nil {
		return err
	}
	defer func() {
		_ = ft.Close()
	}()
	return f(ft)
}
