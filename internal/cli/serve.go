package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ulfur/nightshift/internal/app"
	"github.com/ulfur/nightshift/internal/config"
	"github.com/ulfur/nightshift/internal/logging"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve <config-file>",
	Short: "Run the nightshiftd daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(args[0])
	},
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		return fmt.Errorf("%d config validation error(s)", len(errs))
	}

	log := logging.Default()

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("assembling daemon: %w", err)
	}

	if ids := a.RecoverInflight(); len(ids) > 0 {
		log.Warn("recovered interrupted prompts from a previous process", "count", len(ids), "ids", ids)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go watchConfig(ctx, configPath, a, log)

	return a.Run(ctx)
}

// watchConfig reloads the project registry whenever the config file
// changes on disk, so project paths and scope manifests can be updated
// without restarting the daemon. Everything else in Config (listen
// address, agent command, branch discipline) only takes effect on the
// next restart.
func watchConfig(ctx context.Context, configPath string, a *app.App, log *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config hot-reload disabled: could not start watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		log.Warn("config hot-reload disabled: could not watch file", "path", configPath, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := config.Load(configPath)
			if err != nil {
				log.Warn("config reload failed, keeping previous project registry", "error", err)
				continue
			}
			if errs := config.Validate(reloaded); len(errs) > 0 {
				log.Warn("reloaded config failed validation, keeping previous project registry", "errors", errs)
				continue
			}
			a.Registry.Reload(reloaded.Projects)
			log.Info("project registry reloaded", "projects", reloaded.ProjectNames())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
