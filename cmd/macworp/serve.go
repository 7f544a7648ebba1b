package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macworp/macworp-client/internal/gateway"
	"github.com/macworp/macworp-client/internal/guard"
	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/socket"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the client to a local browser",
		Long: `Start the local gateway on MACWORP_FRONTEND_INTERFACE:MACWORP_FRONTEND_PORT.
Every route except /ping and /login checks the session first. Metrics are
served on MACWORP_METRICS_ADDR when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.MetricsAddr != "" {
				metricsServer := &http.Server{
					Addr:    a.cfg.MetricsAddr,
					Handler: metrics.Handler(),
				}
				go func() {
					logging.Info("metrics server listening", zap.String("addr", a.cfg.MetricsAddr))
					if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
						logging.Error("metrics server error", zap.Error(err))
					}
				}()
				defer metricsServer.Close()
			}

			// The gateway always checks sessions; the browser is the user.
			g := guard.New(a.client, a.store, true)
			srv := gateway.NewServer(a.client, a.retriever, a.errs, g)
			return srv.Run(ctx, a.cfg.ListenAddr())
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print backend push messages",
		Long: `Connect to the backend socket and print every message until interrupted.
The messages are printed as received.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(cmd.Context(), "/socket"); err != nil {
				return err
			}
			token, _ := a.store.Get()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := socket.Dial(ctx, socket.Config{
				URL:                a.cfg.WebSocketURL,
				Token:              token,
				InsecureSkipVerify: a.cfg.SkipCertVerification,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			for msg := range conn.Messages(ctx) {
				fmt.Fprintln(a.out, string(msg.Data))
			}
			if err := conn.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
