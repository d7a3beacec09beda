package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/store"
)

func newRunCommand(a *app) *cobra.Command {
	cfg := server.NewConfigFromEnv()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					a.log.Error().Err(err).Msg("Closing database failed")
				}
			}()

			a.log.Info().Str("address", cfg.ListenAddr()).Str("http", cfg.HTTPAddress).Str("db", a.dbFile).Msg("Starting gorelay server")
			return server.New(cfg, st, a.log).ListenAndServe(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Address, "address", "a", cfg.Address, "address to listen on")
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP port to listen on")
	flags.StringVar(&cfg.HTTPAddress, "http-address", cfg.HTTPAddress, "listen address for health, metrics and WebSocket (empty disables)")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "origins allowed to open WebSocket connections (* allows all)")
	flags.Uint32Var(&cfg.MaxDatagramSize, "max-datagram-size", cfg.MaxDatagramSize, "largest accepted datagram payload in bytes (0 is unlimited)")
	flags.IntVar(&cfg.OutboundQueueSize, "outbound-queue", cfg.OutboundQueueSize, "frames queued per recipient before it is evicted")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for a single write to a client")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections silent for this long (0 disables)")
	flags.IntVar(&cfg.RateLimit.Burst, "rate-limit-burst", cfg.RateLimit.Burst, "messages a client may send in a burst")
	flags.DurationVar(&cfg.RateLimit.RefillInterval, "rate-limit-interval", cfg.RateLimit.RefillInterval, "time to refill a full burst")
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Register(ctx, username, password); err != nil {
				if errors.Is(err, store.ErrUserExists) {
					return fmt.Errorf("user %q is already registered", username)
				}
				return err
			}
			a.log.Info().Str("username", username).Msg("User registered")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "name of the new user")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password of the new user")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent stored messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			records, err := st.Messages(ctx, limit)
			if err != nil {
				return err
			}
			// Oldest first, like a chat window.
			for i := len(records) - 1; i >= 0; i-- {
				printRecord(cmd.OutOrStdout(), records[i])
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages to print")
	return cmd
}

func printRecord(w io.Writer, r store.Record) {
	ts := r.CreatedAt.Local().Format(time.DateTime)
	switch c := r.Message.Content.(type) {
	case protocol.Text:
		fmt.Fprintf(w, "%s [%s] %s\n", ts, r.Message.Sender, string(c))
	case protocol.Image:
		fmt.Fprintf(w, "%s [%s] <image, %d bytes>\n", ts, r.Message.Sender, len(c))
	case protocol.File:
		fmt.Fprintf(w, "%s [%s] <file %s, %d bytes>\n", ts, r.Message.Sender, c.Name, len(c.Data))
	}
}
