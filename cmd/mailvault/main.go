// Package main implements the mailvault command line: fetch cycles, account checks, container
// import and export, and the monitor server.
package main

import (
	"bufio"
	"context"
	"expvar"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailvault/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	// Blob store implementations register themselves by name.
	_ "github.com/inbucket/mailvault/pkg/storage/file"
	_ "github.com/inbucket/mailvault/pkg/storage/mem"
)

var (
	// version contains the build version number, populated during linking.
	version = "undefined"

	// date contains the build date, populated during linking.
	date = "undefined"
)

var (
	accountsFile = flag.String("accounts", "", "Account definitions file, overrides MAILVAULT_ACCOUNTS.")
	logfile      = flag.String("logfile", "stderr", "Write out log into the specified file.")
	logjson      = flag.Bool("logjson", false, "Logs are written in JSON format.")
	envHelp      = flag.Bool("envhelp", false, "Displays help on env variables.")
)

func init() {
	// Process uptime for the monitor.
	startTime := time.Now()
	expvar.Publish("uptime", expvar.Func(func() any {
		return time.Since(startTime) / time.Second
	}))

	// Goroutine count for the monitor.
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
}

func main() {
	subcommands.ImportantFlag("accounts")
	subcommands.ImportantFlag("logfile")

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&fetchCmd{}, "fetch")
	subcommands.Register(&testCmd{}, "accounts")
	subcommands.Register(&mailboxesCmd{}, "accounts")
	subcommands.Register(&restoreCmd{}, "archive")
	subcommands.Register(&exportCmd{}, "archive")
	subcommands.Register(&importCmd{}, "archive")
	subcommands.Register(&serveCmd{}, "monitor")
	subcommands.Register(&statusCmd{}, "monitor")

	flag.Parse()
	if *envHelp {
		config.Usage()
		return
	}
	config.Version = version
	config.BuildDate = date

	os.Exit(int(subcommands.Execute(context.Background())))
}

// openLog configures zerolog output, returns func to close logfile.
func openLog(level string, logfile string, json bool) (close func(), err error) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		return nil, fmt.Errorf("log level %q not one of: debug, info, warn, error", level)
	}
	close = func() {}
	var w io.Writer
	color := runtime.GOOS != "windows"
	switch logfile {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		logf, err := os.OpenFile(logfile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
		if err != nil {
			return nil, err
		}
		bw := bufio.NewWriter(logf)
		w = bw
		color = false
		close = func() {
			_ = bw.Flush()
			_ = logf.Close()
		}
	}
	w = zerolog.SyncWriter(w)
	if json {
		log.Logger = log.Output(w)
		return close, nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:     w,
		NoColor: !color,
	})
	return close, nil
}

func fatal(msg string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
