package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"flowsync/internal/app"
)

func newServeCommand(global *globalFlags, std streams) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(global, std)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			application, err := app.New(ctx, cfg, log)
			if err != nil {
				log.Critical("app: init failed", "err", err)
				return err
			}

			srv := application.HTTPServer()
			log.Info("http: listening", "addr", srv.Addr)

			serverErrCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErrCh <- err
				}
				close(serverErrCh)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				log.Info("app: shutdown signal received")
			case err := <-serverErrCh:
				if err != nil {
					log.Critical("http: server failed", "addr", srv.Addr, "err", err)
					runErr = err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http: graceful shutdown failed", "err", err)
				runErr = errors.Join(runErr, err)
			}

			if err := application.Close(); err != nil {
				log.Error("app: close failed", "err", err)
				runErr = errors.Join(runErr, err)
			}

			if runErr == nil {
				log.Info("app: stopped")
			}
			return runErr
		},
	}
}
