package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/uebax/internal/api"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			deps := api.Deps{
				Recorder: a.rec,
				Events:   a.events,
				Alerts:   a.alerts,
				Reporter: a.reporter,
				Pingers:  a.pingers,
			}
			if a.loader != nil {
				a.loader.OnChange(a.applyConfig)
				deps.Reload = a.reload
				stopWatch, err := a.loader.Watch()
				if err != nil {
					slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
				} else {
					defer stopWatch()
				}
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr:         addr,
				Handler:      api.New(deps),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				slog.Info("server starting", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errc:
				return err
			case <-quit:
			}
			slog.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}
