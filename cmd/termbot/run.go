package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/config"
	"github.com/asheshgoplani/termbot/internal/health"
	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/retry"
	"github.com/asheshgoplani/termbot/internal/statedb"
	"github.com/asheshgoplani/termbot/internal/telegram"
	"github.com/asheshgoplani/termbot/internal/tmux"
	"github.com/asheshgoplani/termbot/internal/web"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot (default)",
	Long: `Run the Telegram bot until interrupted.

Configuration is read from ~/.termbot/config.toml (or --config), then .env,
then the environment. TELEGRAM_BOT_TOKEN and AUTHORIZED_USERS are required.

Send SIGUSR1 to dump the in-memory log buffer next to the log file.`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Log.Level = "debug"
		cfg.Log.ToStderr = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bridgeConfig(cfg *config.Config) (bridge.Config, error) {
	mode, err := bridge.ParseMode(cfg.Bridge.Mode)
	if err != nil {
		return bridge.Config{}, err
	}
	workDir := cfg.Bridge.DefaultWorkDir
	if workDir == "" {
		workDir, _ = os.UserHomeDir()
	}
	return bridge.Config{
		Mode:             mode,
		PollInterval:     cfg.PollInterval(),
		MaxLines:         cfg.Bridge.TerminalLines,
		MaxLineWidth:     cfg.Bridge.MaxLineWidth,
		MinBurstInterval: cfg.MinBurstInterval(),
		FlushDelay:       cfg.FlushDelay(),
		DefaultWorkDir:   workDir,
	}, nil
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	brCfg, err := bridgeConfig(cfg)
	if err != nil {
		return err
	}

	logDir, err := cfg.LogDir()
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging(logDir))
	defer logging.Shutdown()
	mainLog := logging.ForComponent(logging.CompBridge)
	mainLog.Info("termbot_starting",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
		slog.String("mode", string(brCfg.Mode)),
		slog.String("config", cfg.Path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go dumpOnSignal(ctx, logDir)

	var db *statedb.StateDB
	if !cfg.State.Disabled {
		path, err := cfg.StateDBPath()
		if err != nil {
			return err
		}
		db, err = openState(path, brCfg.Mode)
		if err != nil {
			return fmt.Errorf("open state %s: %w", path, err)
		}
		defer db.Close()
		if err := claimInstance(db); err != nil {
			return err
		}
		defer releaseInstance(db)
	}

	client := tmux.NewClient()
	policy := retry.Default()
	api, err := telegram.Dial(ctx, cfg.Telegram.Token, policy)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(cfg.HealthInterval())
	gw := telegram.NewGateway(api, telegram.WithSentHook(monitor.RecordMessageSent))

	var out bridge.Gateway = gw
	var mirror *web.Mirror
	if cfg.Web.Listen != "" {
		mirror = web.NewMirror(gw)
		out = mirror
	}

	opts := []bridge.Option{bridge.WithSessions(client)}
	if db != nil {
		opts = append(opts, bridge.WithStore(connStore{db: db}))
	}
	br := bridge.New(client, out, brCfg, opts...)
	defer br.Close()
	gw.SetAutoEnter(br.AutoEnter)

	if db != nil {
		restored, dropped := restoreConnections(db, br)
		mainLog.Info("connections_restored", slog.Int("restored", restored), slog.Int("dropped", dropped))
	}

	auth := telegram.NewAuthorizer(cfg.Telegram.AuthorizedUsers)
	bot := telegram.NewBot(api, gw, br, client, auth,
		telegram.WithHealth(monitor),
		telegram.WithRetryPolicy(policy),
		telegram.WithPollTimeout(cfg.Telegram.PollTimeout))
	monitor.SetReconnect(bot.Reconnect)

	if cfg.Path != "" {
		watcher, err := config.NewWatcher(cfg.Path, func(next *config.Config) {
			auth.Replace(next.Telegram.AuthorizedUsers)
		})
		if err != nil {
			mainLog.Warn("config_watch_disabled", slog.String("error", err.Error()))
		} else if err := watcher.Start(); err != nil {
			mainLog.Warn("config_watch_disabled", slog.String("error", err.Error()))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	monitor.Start(gctx)
	defer monitor.Stop()

	g.Go(func() error { return bot.Run(gctx) })

	if db != nil {
		g.Go(func() error { return heartbeatLoop(gctx, db) })
	}

	if cfg.Web.Listen != "" {
		srv := web.NewServer(web.Config{ListenAddr: cfg.Web.Listen, Token: cfg.Web.Token}, monitor, br, mirror)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	mainLog.Info("termbot_stopped", slog.Int("connections", len(br.Snapshot())))
	return err
}

// dumpOnSignal writes the log ring buffer to logDir on every SIGUSR1.
func dumpOnSignal(ctx context.Context, logDir string) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	dumpLog := logging.ForComponent(logging.CompBridge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			path := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				dumpLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				dumpLog.Info("crash_dump_written", slog.String("path", path))
			}
		}
	}
}
