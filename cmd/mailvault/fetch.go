package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/gammazero/workerpool"
	"github.com/google/subcommands"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

type fetchCmd struct {
	criterion string
	arg       string
	workers   int
	progress  bool
}

func (*fetchCmd) Name() string {
	return "fetch"
}

func (*fetchCmd) Synopsis() string {
	return "fetch and archive messages"
}

func (*fetchCmd) Usage() string {
	return `fetch [-criterion <tag>] [-arg <value>] [account | account/mailbox]...:
	run one fetch cycle for each selected mailbox, all mailboxes by default
`
}

func (f *fetchCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&f.criterion, "criterion", "", "Fetching criterion, defaults to MAILVAULT_FETCH_CRITERION")
	fs.StringVar(&f.arg, "arg", "", "Argument of the fetching criterion")
	fs.IntVar(&f.workers, "workers", 0, "Mailboxes fetched in parallel, defaults to MAILVAULT_FETCH_WORKERS")
	fs.BoolVar(&f.progress, "progress", false, "Display a progress bar")
}

func (f *fetchCmd) Execute(
	ctx context.Context, fs *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	tag := f.criterion
	if tag == "" {
		tag = a.conf.Fetch.Criterion
	}
	c, err := criterion.Parse(tag, f.arg)
	if err != nil {
		return usage(err.Error())
	}
	mbs, err := a.selectMailboxes(fs.Args())
	if err != nil {
		return usage(err.Error())
	}
	workers := f.workers
	if workers <= 0 {
		workers = a.conf.Fetch.Workers
	}

	results := fetchAll(ctx, a.orch, mbs, c, workers, f.progress)
	status := subcommands.ExitSuccess
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("%s: %v\n", r.mailbox.Key(), r.err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: fetched %d, stored %d, duplicates %d, skipped %d, failed %d\n",
			r.mailbox.Key(), r.res.Fetched, r.res.Stored, r.res.Duplicates, r.res.Skipped,
			r.res.Failed)
	}
	return status
}

type fetchResult struct {
	mailbox *account.Mailbox
	res     *orchestrator.CycleResult
	err     error
}

// fetchAll runs one cycle per mailbox on a bounded worker pool.  Results keep the order of mbs.
func fetchAll(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
	mbs []*account.Mailbox,
	c criterion.Criterion,
	workers int,
	progress bool,
) []fetchResult {
	results := make([]fetchResult, len(mbs))
	var bar *progressbar.ProgressBar
	if progress {
		bar = progressbar.Default(int64(len(mbs)), "fetching")
	}

	wp := workerpool.New(max(workers, 1))
	for i, mb := range mbs {
		wp.Submit(func() {
			res, err := orch.RunCycle(ctx, mb, c)
			results[i] = fetchResult{mailbox: mb, res: res, err: err}
			if bar != nil {
				if err := bar.Add(1); err != nil {
					log.Debug().Err(err).Msg("Progress bar failed")
				}
			}
		})
	}
	wp.StopWait()
	if bar != nil {
		_ = bar.Finish()
	}
	return results
}
