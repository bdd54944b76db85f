package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskdeck/internal/config"
	"taskdeck/internal/logging"
	"taskdeck/internal/netstat"
	"taskdeck/internal/orchestrator"
	"taskdeck/internal/remote"
	"taskdeck/internal/repository"
	"taskdeck/internal/storage"
	"taskdeck/internal/ui"
)

type app struct {
	configPath string
	remoteURL  string
	cfg        config.Config
	logger     *log.Logger
	closers    []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "taskdeck",
		Short:         "A terminal to-do list with live sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Name() == "serve")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/taskdeck/config.toml)")
	root.PersistentFlags().StringVar(&a.remoteURL, "remote", "", "sync server URL; overrides remote_url")

	root.AddCommand(
		serveCmd(a),
		listCmd(a),
		addCmd(a),
		clearCompletedCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskdeck: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config and sets up logging. The server logs to stderr;
// everything else logs to the rotating file so the terminal stays clean.
func (a *app) load(console bool) error {
	path := a.configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.remoteURL != "" {
		cfg.RemoteURL = a.remoteURL
	}
	a.cfg = cfg

	if console {
		a.logger = logging.NewConsole(os.Stderr, cfg.LogLevel)
		return nil
	}
	logger, closer, err := logging.NewFile(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	return nil
}

// backend opens the local database, or a client for the sync server when a
// remote URL is configured.
func (a *app) backend() (repository.Backend, error) {
	if a.cfg.RemoteURL != "" {
		return remote.NewClient(a.cfg.RemoteURL, a.cfg.Token, logging.Component(a.logger, "remote")), nil
	}
	store, err := storage.Open(a.cfg.DBPath, logging.Component(a.logger, "storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, store)
	return store, nil
}

// connectivity returns the source for the mutation precheck. A local
// database is always reachable; a sync server is probed.
func (a *app) connectivity(ctx context.Context) netstat.Source {
	if a.cfg.RemoteURL == "" {
		return netstat.Static{Connected: true, InternetReachable: true}
	}
	probe := a.cfg.ProbeURL
	if probe == "" {
		probe = remote.HealthURL(a.cfg.RemoteURL)
	}
	monitor := netstat.NewMonitor(probe, a.cfg.ProbeIntervalDuration(), logging.Component(a.logger, "netstat"))
	monitor.Refresh(ctx)
	return monitor
}

func (a *app) wire(ctx context.Context) (*repository.Repository, *orchestrator.Orchestrator, *netstat.Monitor, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, nil, nil, err
	}
	repo := repository.New(backend, logging.Component(a.logger, "repository"))
	source := a.connectivity(ctx)
	orch := orchestrator.New(repo, source, a.cfg.MutationTimeoutDuration(), logging.Component(a.logger, "orchestrator"))
	monitor, _ := source.(*netstat.Monitor)
	return repo, orch, monitor, nil
}

func (a *app) runTUI(ctx context.Context) error {
	repo, orch, monitor, err := a.wire(ctx)
	if err != nil {
		return err
	}
	deps := ui.Deps{
		Tasks:  repo,
		Orch:   orch,
		Net:    netstat.Static{Connected: true, InternetReachable: true},
		Config: a.cfg,
		Log:    logging.Component(a.logger, "ui"),
	}
	if monitor != nil {
		deps.Net = monitor
		deps.NetChanges = monitor.Changes()
		go monitor.Run(ctx)
	}
	a.logger.WithField("remote", a.cfg.RemoteURL).Info("starting")
	return ui.Run(ctx, deps)
}
