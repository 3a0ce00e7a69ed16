package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	adminapi "github.com/lynxe/lynxe-go/pkg/admin-api"
	"github.com/lynxe/lynxe-go/pkg/mcpcache"
	"github.com/lynxe/lynxe-go/pkg/mcpconn"
	"github.com/lynxe/lynxe-go/pkg/mcpstore"
	"github.com/lynxe/lynxe-go/pkg/mcptool"
	"github.com/lynxe/lynxe-go/pkg/version"
)

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

// appConfig holds the resolved runtime configuration. Values come from
// flags, LYNXE_* environment variables, or the flag defaults, in that
// order of precedence.
type appConfig struct {
	Servers   string
	Listen    string
	LogLevel  string
	LogFormat string

	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	MaxRetries       int
	RebuildDelay     time.Duration
	HealthInterval   time.Duration
	PendingThreshold int32
	CloseTimeout     time.Duration
	DrainTimeout     time.Duration

	ClientName     string
	InitTimeout    time.Duration
	RequestTimeout time.Duration
	PingTimeout    time.Duration

	WatchConfig   bool
	WatchDebounce time.Duration
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lynxed",
		Short:         "lynxed keeps a cache of live MCP server connections and serves an admin API over them",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := loadConfigFile(); err != nil {
				return err
			}
			return run(cmd.Context(), bindConfig())
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to a YAML config file (keys match flag names)")
	flags.StringP("servers", "s", "mcp-servers.json", "path to the MCP server definition file")
	flags.String("listen", ":8700", "admin API listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log output format (json or console)")
	flags.StringSlice("allowed-origins", []string{"*"}, "CORS origins allowed on the admin API")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for HTTP shutdown")
	flags.Int("max-retries", 3, "extra call attempts after a connection-related failure")
	flags.Duration("rebuild-delay", 100*time.Millisecond, "pause between closing a dead connection and redialing")
	flags.Duration("health-check-interval", 5*time.Second, "delay between liveness sweeps per connected server")
	flags.Int32("pending-threshold", 100, "in-flight request count above which a connection is recycled")
	flags.Duration("close-timeout", 5*time.Second, "graceful close budget per connection")
	flags.Duration("drain-timeout", 5*time.Second, "shutdown budget per background task family")
	flags.String("client-name", "lynxe", "client name sent during the MCP initialize handshake")
	flags.Duration("init-timeout", 120*time.Second, "connection establishment budget, including the MCP handshake")
	flags.Duration("request-timeout", 60*time.Second, "default budget for requests issued to a server")
	flags.Duration("ping-timeout", 2*time.Second, "budget for liveness probes")
	flags.Bool("watch-config", true, "reload the server file when it changes on disk")
	flags.Duration("watch-debounce", 250*time.Millisecond, "quiet period folding bursts of file events into one reload")

	viper.SetEnvPrefix("LYNXE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfigFile reads the optional --config YAML file into viper.
// Explicit flags and LYNXE_* environment variables still win over file
// values.
func loadConfigFile() error {
	path := strings.TrimSpace(viper.GetString("config"))
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func bindConfig() appConfig {
	return appConfig{
		Servers:          viper.GetString("servers"),
		Listen:           viper.GetString("listen"),
		LogLevel:         viper.GetString("log-level"),
		LogFormat:        viper.GetString("log-format"),
		AllowedOrigins:   viper.GetStringSlice("allowed-origins"),
		ShutdownTimeout:  viper.GetDuration("shutdown-timeout"),
		MaxRetries:       viper.GetInt("max-retries"),
		RebuildDelay:     viper.GetDuration("rebuild-delay"),
		HealthInterval:   viper.GetDuration("health-check-interval"),
		PendingThreshold: viper.GetInt32("pending-threshold"),
		CloseTimeout:     viper.GetDuration("close-timeout"),
		DrainTimeout:     viper.GetDuration("drain-timeout"),
		ClientName:       viper.GetString("client-name"),
		InitTimeout:      viper.GetDuration("init-timeout"),
		RequestTimeout:   viper.GetDuration("request-timeout"),
		PingTimeout:      viper.GetDuration("ping-timeout"),
		WatchConfig:      viper.GetBool("watch-config"),
		WatchDebounce:    viper.GetDuration("watch-debounce"),
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}

func run(ctx context.Context, cfg appConfig) error {
	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	info := version.Current()
	logger.Info("starting lynxed",
		zap.String("version", info.Version),
		zap.String("servers", cfg.Servers),
		zap.String("listen", cfg.Listen),
		zap.Int("pid", os.Getpid()))

	store, err := mcpstore.Open(cfg.Servers, mcpstore.Options{Logger: logger.Named("store")})
	if err != nil {
		return err
	}

	// The session-exit hook closes over manager. The variable is set
	// before the cache dispatches its first dial, and every dial
	// happens on a goroutine started after that, so the read is safe.
	var manager *mcpcache.Manager
	connFactory := mcpconn.NewFactory(mcpconn.FactoryOptions{
		ClientName:     cfg.ClientName,
		ClientVersion:  info.Version,
		InitTimeout:    cfg.InitTimeout,
		RequestTimeout: cfg.RequestTimeout,
		PingTimeout:    cfg.PingTimeout,
		Logger:         logger.Named("conn"),
		OnSessionExit: func(name string, err error) {
			manager.HandleConnectionError(name)
		},
	})
	factory := mcpcache.FactoryFunc(func(ctx context.Context, config *mcpconn.ServerConfig) (mcpcache.Handle, error) {
		svc, err := connFactory.Connect(ctx, config)
		if err != nil {
			return nil, err
		}
		return svc, nil
	})

	manager, err = mcpcache.NewManager(factory, store, mcpcache.Options{
		MaxRetries:          cfg.MaxRetries,
		RebuildDelay:        cfg.RebuildDelay,
		HealthCheckInterval: cfg.HealthInterval,
		PendingThreshold:    cfg.PendingThreshold,
		CloseTimeout:        cfg.CloseTimeout,
		DrainTimeout:        cfg.DrainTimeout,
		Logger:              logger.Named("cache"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warn("connection cache shutdown incomplete", zap.Error(err))
		}
	}()
	manager.Initialize(ctx)
	// First access dispatches a background dial per configured server.
	manager.Services()

	router, err := mcptool.NewRouter(manager, mcptool.Options{Logger: logger.Named("tools")})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mcpcache.NewStatsCollector(manager),
	)

	server, err := adminapi.NewServer(manager, store, router, adminapi.Options{
		Addr:            cfg.Listen,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Registry:        registry,
		Logger:          logger.Named("http"),
	})
	if err != nil {
		return err
	}

	if cfg.WatchConfig {
		watcher, err := store.Watch(cfg.WatchDebounce, func() {
			manager.TriggerCacheReload(context.Background())
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	if err := server.ListenAndServe(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown signal received")
			return nil
		}
		return err
	}
	return nil
}
