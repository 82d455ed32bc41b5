package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aragossa/tablescrub/internal/config"
	"github.com/aragossa/tablescrub/pkg/jobs"
	"github.com/aragossa/tablescrub/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		Long: `Serve accepts multipart uploads on POST /v1/jobs, scrubs them with the same
pipeline as the filter, and keeps each output on disk until it is deleted.
Every /v1 route requires "Authorization: Bearer <serve.secret>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg.Serve)
		},
	}
	cmd.Flags().String("addr", config.DefaultAddr, "listen address")
	cmd.Flags().Int("max-upload-mb", config.DefaultMaxUploadMB, "upload size limit in MiB")
	_ = a.v.BindPFlag(config.KeyServeAddr, cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag(config.KeyServeMaxUploadMB, cmd.Flags().Lookup("max-upload-mb"))
	return cmd
}

func runServe(ctx context.Context, cfg config.ServeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := jobs.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := jobs.NewService(store, cfg.TempDir)
	if err != nil {
		return err
	}
	srv := server.NewServer(svc, cfg.Secret, cfg.MaxUploadBytes())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("temp_dir", cfg.TempDir).
			Str("db_path", cfg.DBPath).
			Int("max_upload_mb", cfg.MaxUploadMB).
			Msg("server_started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
