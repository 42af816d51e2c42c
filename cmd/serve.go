package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/interfaces/dropfolder"
	"caseimport/internal/interfaces/httpapi"
	"caseimport/internal/usecase/importer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and the HTTP API",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *importer.Service, pool *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = app.Config.HTTP.Addr
		}
		grace, _ := cmd.Flags().GetDuration("shutdown-grace")

		pool.Start(ctx)
		defer stopPool(ctx, pool, grace)

		if app.Config.Watch.Dir != "" {
			w, err := dropfolder.New(dropfolder.Config{
				Dir:      app.Config.Watch.Dir,
				Debounce: app.Config.Watch.Debounce,
			}, svc)
			if err != nil {
				return errs.Wrap(err, "create drop folder watcher")
			}
			go func() {
				if err := w.Run(ctx); err != nil {
					logging.Error(ctx, "drop folder watcher stopped", slog.Any("err", errs.Loggable(err)))
				}
			}()
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(httpapi.NewHandler(svc)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			serveErr <- server.ListenAndServe()
		}()
		logging.Info(ctx, "http api listening", slog.String("addr", addr))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "serving on %s\n", addr); err != nil {
			return errs.Wrap(err, "write serve output")
		}

		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errs.Wrap(err, "serve http")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "http shutdown failed", slog.Any("err", errs.Loggable(err)))
		}
		logging.Info(ctx, "serve stopped")
		return nil
	}),
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the worker pool",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, _ *importer.Service, pool *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		grace, _ := cmd.Flags().GetDuration("shutdown-grace")

		pool.Start(ctx)
		<-ctx.Done()
		logging.Info(ctx, "stopping workers")
		stopPool(ctx, pool, grace)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	serveCmd.Flags().String("addr", "", "Listen address, defaults to http.addr")
	serveCmd.Flags().Duration("shutdown-grace", 30*time.Second, "Time running jobs get to finish on shutdown")
	workerCmd.Flags().Duration("shutdown-grace", 30*time.Second, "Time running jobs get to finish on shutdown")
}
