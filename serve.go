package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/api"
	"github.com/video-stream/transcriber/internal/auth"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP transcription service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := buildServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			if !cfg.HasCredential() {
				logger.Warn("OPENAI_API_KEY is not set; transcription requests will fail")
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps := api.Deps{Runner: svc.pipeline, Logger: logger}
			if svc.runs != nil {
				deps.Runs = svc.runs
			}
			if cfg.JWTSecret != "" {
				deps.JWT = auth.NewJWTService(cfg.JWTSecret)
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           api.NewRouter(runCtx, cfg, deps),
				ReadHeaderTimeout: 30 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server",
					zap.String("addr", server.Addr),
					zap.String("upload_dir", cfg.UploadDir),
					zap.String("response_format", cfg.TranscriptionFormat),
					zap.Bool("auth", deps.JWT != nil),
					zap.Bool("ledger", deps.Runs != nil))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-runCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
