package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"
	"github.com/inbucket/mailvault/pkg/container"
	"github.com/schollz/progressbar/v3"
)

type restoreCmd struct{}

func (*restoreCmd) Name() string {
	return "restore"
}

func (*restoreCmd) Synopsis() string {
	return "upload archived messages back to the server"
}

func (*restoreCmd) Usage() string {
	return `restore <account/mailbox> <message-id>...:
	append the archived raw messages to their mailbox on the server
`
}

func (r *restoreCmd) SetFlags(f *flag.FlagSet) {}

func (r *restoreCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		return usage("mailbox and message id required")
	}
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	mb, err := a.mailbox(f.Arg(0))
	if err != nil {
		return usage(err.Error())
	}
	for _, id := range f.Args()[1:] {
		if err := a.orch.Restore(ctx, mb, id); err != nil {
			return fatal("Restore of "+id+" failed", err)
		}
		fmt.Printf("%s: restored\n", id)
	}
	return subcommands.ExitSuccess
}

type exportCmd struct {
	format string
}

func (*exportCmd) Name() string {
	return "export"
}

func (*exportCmd) Synopsis() string {
	return "write archived messages to a mailbox container"
}

func (*exportCmd) Usage() string {
	return `export [-format <tag>] <account/mailbox> <file>:
	export every archived raw message of the mailbox
`
}

func (e *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.format, "format", string(container.Mbox), "Container format: "+formatList())
}

func (e *exportCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage("mailbox and destination file required")
	}
	format, err := container.ParseFormat(e.format)
	if err != nil {
		return usage(err.Error())
	}
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	mb, err := a.mailbox(f.Arg(0))
	if err != nil {
		return usage(err.Error())
	}
	res, err := a.orch.Export(ctx, mb, f.Arg(1), format)
	if err != nil {
		return fatal("Export failed", err)
	}
	fmt.Printf("%s: wrote %d messages, skipped %d\n", f.Arg(1), res.Written, len(res.Skipped))
	for _, name := range res.Skipped {
		fmt.Printf("  skipped %s\n", name)
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	format string
}

func (*importCmd) Name() string {
	return "import"
}

func (*importCmd) Synopsis() string {
	return "archive the messages of mailbox containers"
}

func (*importCmd) Usage() string {
	return `import [-format <tag>] <account/mailbox> <file>...:
	read each container file and archive its messages into the mailbox
`
}

func (i *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.format, "format", string(container.Mbox), "Container format: "+formatList())
}

func (i *importCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		return usage("mailbox and at least one file required")
	}
	format, err := container.ParseFormat(i.format)
	if err != nil {
		return usage(err.Error())
	}
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	mb, err := a.mailbox(f.Arg(0))
	if err != nil {
		return usage(err.Error())
	}
	files := f.Args()[1:]
	bar := progressbar.Default(int64(len(files)), "importing")
	stored, duplicates, failed := 0, 0, 0
	for _, path := range files {
		res, err := a.orch.Import(ctx, mb, path, format)
		if err != nil {
			_ = bar.Clear()
			return fatal("Import of "+path+" failed", err)
		}
		stored += res.Stored
		duplicates += res.Duplicates
		failed += res.Failed
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Printf("\nstored %d, duplicates %d, failed %d\n", stored, duplicates, failed)
	return subcommands.ExitSuccess
}

func formatList() string {
	formats := container.Formats()
	tags := make([]string, len(formats))
	for i, f := range formats {
		tags[i] = string(f)
	}
	return strings.Join(tags, ", ")
}
