package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/inbucket/mailvault/pkg/rest"
	"github.com/inbucket/mailvault/pkg/rest/client"
	"github.com/inbucket/mailvault/pkg/server/web"
	"github.com/rs/zerolog/log"
)

type serveCmd struct {
	criterion string
	arg       string
	interval  time.Duration
}

func (*serveCmd) Name() string {
	return "serve"
}

func (*serveCmd) Synopsis() string {
	return "run the monitor server and periodic fetch cycles"
}

func (*serveCmd) Usage() string {
	return `serve [-interval <duration>] [-criterion <tag>] [-arg <value>]:
	serve health and the live message stream over HTTP, fetching every mailbox each interval
`
}

func (s *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.criterion, "criterion", "", "Fetching criterion, defaults to MAILVAULT_FETCH_CRITERION")
	f.StringVar(&s.arg, "arg", "", "Argument of the fetching criterion")
	f.DurationVar(&s.interval, "interval", 5*time.Minute, "Time between fetch rounds, 0 disables fetching")
}

func (s *serveCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fatal("Startup failed", err)
	}
	defer a.Close()

	tag := s.criterion
	if tag == "" {
		tag = a.conf.Fetch.Criterion
	}
	c, err := criterion.Parse(tag, s.arg)
	if err != nil {
		return usage(err.Error())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	rootCtx, rootCancel := context.WithCancel(ctx)
	defer rootCancel()

	msgHub := msghub.New(a.conf.Web.MonitorHistory, a.extHost)
	go msgHub.Start(rootCtx)
	server := web.NewServer(a.conf.Web, msgHub, a.records, a.accounts)
	rest.SetupRoutes(server)
	if err := server.Start(rootCtx, func() {}); err != nil {
		return fatal("Monitor server failed", err)
	}

	if s.interval > 0 {
		go a.fetchLoop(rootCtx, c, s.interval)
	}

	// Loop until a signal or fatal server error.
	for {
		select {
		case sig := <-sigChan:
			log.Info().Str("phase", "shutdown").Str("signal", sig.String()).
				Msgf("Received %v, shutting down", sig)
			rootCancel()
			return subcommands.ExitSuccess
		case err := <-server.Notify():
			log.Error().Str("phase", "shutdown").Err(err).Msg("Monitor server stopped")
			rootCancel()
			return subcommands.ExitFailure
		}
	}
}

// fetchLoop runs a fetch round over every mailbox each interval until ctx is canceled.
func (a *app) fetchLoop(ctx context.Context, c criterion.Criterion, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	mbs, _ := a.selectMailboxes(nil)
	for {
		fetchAll(ctx, a.orch, mbs, c, a.conf.Fetch.Workers, false)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type statusCmd struct {
	server string
}

func (*statusCmd) Name() string {
	return "status"
}

func (*statusCmd) Synopsis() string {
	return "show account health from a running monitor server"
}

func (*statusCmd) Usage() string {
	return `status [-server <url>]:
	query the monitor server for account and mailbox health
`
}

func (s *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.server, "server", "http://127.0.0.1:9000", "Base URL of the monitor server")
}

func (s *statusCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := client.New(s.server, client.WithClientOptsTimeout(10*time.Second))
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return fatal("REST call failed", err)
	}
	status := subcommands.ExitSuccess
	for _, acct := range accounts {
		fmt.Printf("%s (%s %s): %s\n", acct.ID, acct.Protocol, acct.Server,
			healthText(acct.Healthy, acct.LastError))
		if !acct.Healthy {
			status = subcommands.ExitFailure
		}
		for _, mb := range acct.Mailboxes {
			fmt.Printf("  %s: %s\n", mb.Name, healthText(mb.Healthy, mb.LastError))
			if !mb.Healthy {
				status = subcommands.ExitFailure
			}
		}
	}
	return status
}

func healthText(healthy bool, lastError string) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy: " + lastError
}
