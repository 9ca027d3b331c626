package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

type testCmd struct{}

func (*testCmd) Name() string {
	return "test"
}

func (*testCmd) Synopsis() string {
	return "check accounts and mailboxes can be reached"
}

func (*testCmd) Usage() string {
	return `test [account | account/mailbox]...:
	connect to each account, or open each mailbox, and report the outcome
`
}

func (t *testCmd) SetFlags(f *flag.FlagSet) {}

func (t *testCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	refs := f.Args()
	if len(refs) == 0 {
		for _, acct := range a.accounts {
			refs = append(refs, acct.ID)
		}
	}
	status := subcommands.ExitSuccess
	for _, ref := range refs {
		if err := a.test(ctx, ref); err != nil {
			fmt.Printf("%s: FAILED: %v\n", ref, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: OK\n", ref)
	}
	return status
}

func (a *app) test(ctx context.Context, ref string) error {
	if acct, err := a.account(ref); err == nil {
		return a.orch.TestAccount(ctx, acct)
	}
	mb, err := a.mailbox(ref)
	if err != nil {
		return err
	}
	return a.orch.TestMailbox(ctx, mb)
}

type mailboxesCmd struct{}

func (*mailboxesCmd) Name() string {
	return "mailboxes"
}

func (*mailboxesCmd) Synopsis() string {
	return "list the mailboxes of an account"
}

func (*mailboxesCmd) Usage() string {
	return `mailboxes <account>:
	list the mailbox names reported by the server
`
}

func (m *mailboxesCmd) SetFlags(f *flag.FlagSet) {}

func (m *mailboxesCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	id := f.Arg(0)
	if id == "" {
		return usage("account required")
	}
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	acct, err := a.account(id)
	if err != nil {
		return usage(err.Error())
	}
	names, err := a.orch.ListMailboxes(ctx, acct)
	if err != nil {
		return fatal("Listing mailboxes failed", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}
