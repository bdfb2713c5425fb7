package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schedengine/internal/api"
	"schedengine/internal/dispatcher"
	"schedengine/internal/executor"
	"schedengine/internal/lockfile"
	"schedengine/internal/recovery"
	"schedengine/internal/scheduler"
	"schedengine/internal/store"
	"schedengine/internal/util"
	"schedengine/internal/wizard"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for engine state data
	DefaultStateDir = "/var/lib/schedengine"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "schedengine.db"
	// DefaultAPIAddr is the default management API listen address
	DefaultAPIAddr = ":8080"
	// DefaultTickSpec fires the dispatch scan every minute
	DefaultTickSpec = "* * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("schedengine failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("schedengine exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	DbDriver    string
	ExecutorURL string
	NotifyURL   string
	APIAddr     string
	TickSpec    string
	LockTTL     time.Duration
	ExecRate    float64
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	dbDriver    *string
	executorURL *string
	notifyURL   *string
	apiAddr     *string
	tickSpec    *string
	execRate    *float64
	lockTTL     time.Duration
}

// initializeLogger sets up structured logging honoring $LOG_LEVEL
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    os.Getenv("SCHEDENGINE_STATE_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DbDriver:    os.Getenv("DB_DRIVER"),
		ExecutorURL: os.Getenv("EXECUTOR_URL"),
		NotifyURL:   os.Getenv("NOTIFY_URL"),
		APIAddr:     os.Getenv("API_ADDR"),
		TickSpec:    os.Getenv("TICK_SPEC"),
		LockTTL:     util.ParseDurationEnv("LOCK_TTL", dispatcher.DefaultLockTTL),
		ExecRate:    util.ParseFloatEnv("EXEC_RATE", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SCHEDENGINE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.TickSpec == "" {
		config.TickSpec = DefaultTickSpec
	}

	slog.Debug("environment variables loaded",
		"SCHEDENGINE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DB_DRIVER", config.DbDriver,
		"EXECUTOR_URL_SET", config.ExecutorURL != "",
		"NOTIFY_URL_SET", config.NotifyURL != "",
		"API_ADDR", config.APIAddr,
		"TICK_SPEC", config.TickSpec,
		"LOCK_TTL", config.LockTTL,
		"EXEC_RATE", config.ExecRate)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for engine data (overrides $SCHEDENGINE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		dbDriver:    flag.String("db-driver", config.DbDriver, "database driver, sqlite or postgres (overrides $DB_DRIVER)"),
		executorURL: flag.String("executor-url", config.ExecutorURL, "executor endpoint URL (overrides $EXECUTOR_URL)"),
		notifyURL:   flag.String("notify-url", config.NotifyURL, "notification endpoint URL (overrides $NOTIFY_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "management API address (overrides $API_ADDR)"),
		tickSpec:    flag.String("tick-spec", config.TickSpec, "cron expression for the dispatch tick (overrides $TICK_SPEC)"),
		execRate:    flag.Float64("exec-rate", config.ExecRate, "max executor calls per second, 0 for unthrottled (overrides $EXEC_RATE)"),
		lockTTL:     config.LockTTL,
	}

	flag.Parse()

	// Keep the default SQLite path in step with an overridden state directory.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"dbDriver", *flags.dbDriver,
		"executorURL_set", *flags.executorURL != "",
		"notifyURL_set", *flags.notifyURL != "",
		"apiAddr", *flags.apiAddr,
		"tickSpec", *flags.tickSpec,
		"execRate", *flags.execRate)

	return flags
}

// openStore selects and opens the storage backend.
func openStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	if driver == "" {
		driver = store.DetectDSNType(*flags.dbDSN)
	}
	switch driver {
	case "postgres":
		slog.Debug("Configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		slog.Debug("Configuring SQLite store", "db_path", *flags.dbDSN)
		return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
}

func run(flags Flags) error {
	// One engine instance per state directory.
	dirLock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer dirLock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var exec dispatcher.Executor
	if *flags.executorURL != "" {
		exec = executor.NewHTTPExecutor(*flags.executorURL)
	} else {
		slog.Warn("No executor URL configured, actions will only be logged")
		exec = executor.LogExecutor{}
	}
	var notifier dispatcher.Notifier
	if *flags.notifyURL != "" {
		notifier = executor.NewHTTPNotifier(*flags.notifyURL)
	} else {
		notifier = executor.LogNotifier{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp := dispatcher.New(st, exec, notifier, dispatcher.Config{
		LockTTL:             flags.lockTTL,
		ExecutionsPerSecond: *flags.execRate,
	})

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	jobID, err := sched.AddJob(*flags.tickSpec, func() {
		if err := disp.Tick(ctx, time.Now().UTC()); err != nil {
			slog.Error("dispatch tick failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	// Repair state left behind by the previous process before the first tick
	// can act on it.
	if _, err := recovery.Run(st, time.Now().UTC(), jobID); err != nil {
		return err
	}

	server := api.NewServer(st, wizard.NewManager(st))
	slog.Info("Bootstrapping schedengine", "api_addr", *flags.apiAddr, "tick_spec", *flags.tickSpec)
	return server.Run(ctx, *flags.apiAddr)
}
