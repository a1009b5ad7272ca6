package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multi-agent/agent-shell/internal/host"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var (
		listen  string
		session string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcript host API without a window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if session != "" {
				cfg.SessionID = session
			}
			if cfg.LogDir != "" {
				if err := logger.InitWithFile(cfg.LogEnv, cfg.LogDir); err != nil {
					logger.Warn("file logging unavailable", logger.FieldError, err)
				}
				defer logger.ShutdownFileHandler()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, err := host.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			logger.Info("transcriptctl: serving",
				logger.FieldListen, cfg.ListenAddr,
				logger.FieldSessionID, h.Session.ID())
			return runHost(ctx, h)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides AGENT_SHELL_LISTEN)")
	cmd.Flags().StringVar(&session, "session", "", "resume a persisted session by ID")
	return cmd
}

func runHost(ctx context.Context, h *host.Host) error {
	if err := h.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
