package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/store"
)

// app carries the global flags and the logger built from them.
type app struct {
	dbFile    string
	logLevel  string
	logFormat string
	log       zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gorelay-server",
		Short:         "Relay chat messages between authenticated clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(cmd.ErrOrStderr(), a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.dbFile, "db", "d", envOr("GORELAY_DB", "server.db"), "SQLite database file")
	flags.StringVar(&a.logLevel, "log-level", envOr("GORELAY_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", envOr("GORELAY_LOG_FORMAT", logging.FormatConsole), "log format (console, json)")

	root.AddCommand(newRunCommand(a), newRegisterCommand(a), newHistoryCommand(a))
	return root
}

// openStore opens the database named by --db.
func (a *app) openStore(ctx context.Context) (*store.SQLite, error) {
	st, err := store.OpenSQLite(ctx, a.dbFile, store.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.dbFile, err)
	}
	return st, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
