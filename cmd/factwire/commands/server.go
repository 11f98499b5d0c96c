package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/logger"
	"github.com/teranos/factwire/server"
)

// ServerCmd runs the engine behind the HTTP and WebSocket server
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Run the fact engine and its HTTP/WebSocket server",
	Long: `Run the fact engine: producers poll their sources, admitted changes are
stored and journaled, and every change is pushed to WebSocket subscribers
on /ws. REST queries live under /api, metrics on /metrics.

The project am.toml is watched; validator settings are applied live.`,
	RunE: runServer,
}

var serverFlags struct {
	port   int
	dbPath string
}

func init() {
	ServerCmd.Flags().IntVar(&serverFlags.port, "port", 0, "Listen port (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverFlags.dbPath, "db-path", "", "Database path (overrides database.path)")
}

func runServer(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		// Servers log lifecycle by default
		verbosity = logger.VerbosityInfo
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}

	cfg, err := loadConfig(serverFlags.dbPath)
	if err != nil {
		return err
	}
	if serverFlags.port > 0 {
		cfg.Server.Port = serverFlags.port
	}

	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start engine")
	}

	watcher := startConfigWatcher(e.ApplyConfig)
	if watcher != nil {
		defer watcher.Stop()
	}

	printStartupBanner(cfg, verbosity)

	srv := server.New(e, cfg, server.WithLogger(logger.Logger.Named("server")))
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	pterm.Info.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startConfigWatcher watches the project am.toml, if there is one
func startConfigWatcher(apply func(*am.Config) error) *am.ConfigWatcher {
	path := am.FindProjectConfig()
	if path == "" {
		return nil
	}
	log := logger.Logger.Named("config")
	cw, err := am.NewConfigWatcher(path, log)
	if err != nil {
		log.Warnw("Config watching disabled", logger.FieldError, err)
		return nil
	}
	cw.OnReload(apply)
	am.SetGlobalWatcher(cw)
	cw.Start()
	log.Infow("Watching config", logger.FieldPath, path)
	return cw
}
