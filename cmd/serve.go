package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/doctorai/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API (and the Telegram bot when a token is configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		withBot, _ := cmd.Flags().GetBool("bot")
		if addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, st, err := newService(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		checks := map[string]server.HealthChecker{}
		if st != nil {
			checks["store"] = server.HealthCheckFunc(st.Ping)
		}

		handler := server.NewRouter(svc, server.Options{
			Environment:    cfg.Environment,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxConcurrent:  cfg.Server.MaxConcurrent,
			StaticDir:      cfg.Server.StaticDir,
			Checks:         checks,
			Logger:         logger,
		})

		srv := &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout(),
			WriteTimeout: cfg.WriteTimeout(),
			ErrorLog:     zap.NewStdLog(logger),
		}

		var runBot func(context.Context) error
		switch {
		case withBot && cfg.Bot.Token != "":
			b, err := newBot(svc)
			if err != nil {
				return err
			}
			runBot = b.Run
		case withBot:
			logger.Info("telegram bot disabled: no token configured")
		}

		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Serve(gctx, srv, ln, cfg.ShutdownTimeout(), logger)
		})
		if runBot != nil {
			g.Go(func() error { return runBot(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("bot", true, "Also run the Telegram bot when TELEGRAM_BOT_TOKEN is set")
}
