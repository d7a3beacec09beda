package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/gorelay/internal/client"
	"github.com/Tyrowin/gorelay/internal/logging"
)

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
	var (
		address  string
		port     int
		username string
		password string
		saveDir  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "gorelay-client",
		Short:         "Chat through a gorelay server",
		Long:          "Type a line to send it. Commands: .file <path>, .image <path>, .quit",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(cmd.ErrOrStderr(), logLevel, logging.FormatConsole)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Waiting for login...")
			c, err := client.Dial(cmd.Context(), net.JoinHostPort(address, strconv.Itoa(port)), username, password,
				client.WithOutput(out),
				client.WithSaveDir(saveDir),
				client.WithLogger(log),
			)
			if errors.Is(err, client.ErrLoginFailed) {
				return fmt.Errorf("login failed for %q", username)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Login successful.")

			// Interrupts close the connection, which ends Run.
			stop := context.AfterFunc(cmd.Context(), func() { _ = c.Close() })
			defer stop()
			if err := c.Run(cmd.InOrStdin()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&address, "address", "a", "127.0.0.1", "address of the server")
	flags.IntVarP(&port, "port", "P", 11111, "port of the server")
	flags.StringVarP(&username, "username", "u", "", "your username")
	flags.StringVarP(&password, "password", "p", "", "your password")
	flags.StringVar(&saveDir, "save-dir", ".", "directory for received images/ and files/")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
