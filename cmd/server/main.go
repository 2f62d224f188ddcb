// Command server runs the preservation repository behind its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	entitystore "github.com/preservio/entitystore"
	"github.com/preservio/entitystore/apiServer"
	"github.com/preservio/entitystore/internal/config"
	"github.com/preservio/entitystore/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	listen     string
	dataDir    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "entitystore",
		Short:         "Versioned storage for intellectual entities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.listen, "listen", "", "listen address, overrides the config file")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "storage root, overrides the config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	return cmd
}

// load merges the config file with the flag overrides.
func (o *options) load() (config.Config, error) {
	conf, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.listen != "" {
		conf.Listen = o.listen
	}
	if o.dataDir != "" {
		conf.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		conf.LogLevel = o.logLevel
	}
	return conf, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}

func openRepository(conf config.Config, log *slog.Logger) (*entitystore.Repository, error) {
	return entitystore.New(entitystore.Config{
		DataDir:           conf.DataDir,
		Logger:            log,
		AsyncPollInterval: conf.Async.PollInterval.Std(),
		AsyncJitterBase:   conf.Async.JitterBase.Std(),
		AsyncJitterSpread: conf.Async.JitterSpread.Std(),
	})
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the repository and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			level, err := parseLevel(conf.LogLevel)
			if err != nil {
				return err
			}
			log := logging.New(level)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			repo, err := openRepository(conf, log)
			if err != nil {
				return err
			}
			if err := repo.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(context.Background()); err != nil {
					log.Error("repository shutdown failed", "error", err)
				}
			}()

			httpServer := &http.Server{
				Addr:    conf.Listen,
				Handler: apiServer.New(repo, apiServer.WithLogger(log)),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("serving", "addr", conf.Listen, "dataDir", conf.DataDir)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newPurgeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop every stored entity, version and datastream",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			level, err := parseLevel(conf.LogLevel)
			if err != nil {
				return err
			}
			log := logging.New(level)

			repo, err := openRepository(conf, log)
			if err != nil {
				return err
			}
			if err := repo.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = repo.Close(context.Background()) }()

			if err := repo.Purge(cmd.Context()); err != nil {
				return err
			}
			log.Info("store purged", "dataDir", conf.DataDir)
			return nil
		},
	}
}
