package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/licensor/internal/audit"
	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/metrics"
	"github.com/faucetdb/licensor/internal/service"
	"github.com/faucetdb/licensor/internal/store"
	"github.com/faucetdb/licensor/internal/store/memory"
	"github.com/faucetdb/licensor/internal/store/mongostore"
	"github.com/faucetdb/licensor/internal/store/redisstore"
	"github.com/faucetdb/licensor/internal/store/sqlstore"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// LICENSOR_DATA_DIR env var, or ~/.licensor as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("LICENSOR_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".licensor")
}

// openConfigStore opens the SQLite config store under the data dir.
func openConfigStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// --- configuration ---

// loadConfig reads the YAML file viper located (if any) on top of the
// defaults, then applies LICENSOR_* environment overrides.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if cfgFile != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *config.YAMLConfig) {
	str := func(key string, dst *string) {
		if envSet(key) {
			*dst = viper.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if envSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	list := func(key string, dst *[]string) {
		if envSet(key) {
			*dst = splitList(viper.GetString(key))
		}
	}
	flag := func(key string, dst *bool) {
		if envSet(key) {
			*dst = viper.GetBool(key)
		}
	}

	str("server.host", &cfg.Server.Host)
	num("server.port", &cfg.Server.Port)
	str("server.max_body_size", &cfg.Server.MaxBodySize)
	list("server.cors.origins", &cfg.Server.CORS.Origins)
	num("server.rate_limit.client_rpm", &cfg.Server.RateLimit.ClientRPM)
	num("server.rate_limit.key_rpm", &cfg.Server.RateLimit.KeyRPM)
	str("store.driver", &cfg.Store.Driver)
	str("store.dsn", &cfg.Store.DSN)
	str("store.database", &cfg.Store.Database)
	str("store.key_prefix", &cfg.Store.KeyPrefix)
	num("engine.max_attempts", &cfg.Engine.MaxAttempts)
	num("engine.max_bulk", &cfg.Engine.MaxBulk)
	num("audit.buffer", &cfg.Audit.Buffer)
	list("audit.kafka.brokers", &cfg.Audit.Kafka.Brokers)
	str("audit.kafka.topic", &cfg.Audit.Kafka.Topic)
	str("auth.jwt_secret", &cfg.Auth.JWTSecret)
	str("auth.jwt_expiry", &cfg.Auth.JWTExpiry)
	flag("metrics.enabled", &cfg.Metrics.Enabled)
	str("metrics.refresh_interval", &cfg.Metrics.RefreshInterval)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
}

// envSet reports whether the LICENSOR_* variable for key is present.
func envSet(key string) bool {
	_, ok := os.LookupEnv(envName(key))
	return ok
}

func envName(key string) string {
	return "LICENSOR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// --- license store ---

// newStoreRegistry creates a registry with every supported backend.
func newStoreRegistry() *store.Registry {
	registry := store.NewRegistry()
	registry.RegisterDriver("memory", memory.Open)
	for _, d := range sqlstore.Drivers() {
		registry.RegisterDriver(d, sqlstore.Open)
	}
	registry.RegisterDriver("redis", redisstore.Open)
	registry.RegisterDriver("mongo", mongostore.Open)
	return registry
}

// storeConfig translates the YAML store section. SQLite defaults to a file
// next to the config store.
func storeConfig(cfg config.StoreConfig) store.Config {
	sc := store.DefaultConfig()
	sc.Driver = cfg.Driver
	sc.DSN = cfg.DSN
	if cfg.Database != "" {
		sc.Database = cfg.Database
	}
	if cfg.KeyPrefix != "" {
		sc.KeyPrefix = cfg.KeyPrefix
	}
	if cfg.MaxOpenConns > 0 {
		sc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		sc.MaxIdleConns = cfg.MaxIdleConns
	}
	if sc.Driver == "sqlite" && sc.DSN == "" {
		sc.DSN = filepath.Join(resolveDataDir(), "licenses.db")
	}
	return sc
}

// --- runtime wiring ---

// app bundles the long-lived components shared by serve, mcp and the
// license subcommands.
type app struct {
	cfg        *config.YAMLConfig
	logger     *slog.Logger
	store      *config.Store
	licenses   store.Store
	audit      *audit.Async
	kafka      *audit.KafkaSink
	kafkaQueue *audit.Async
	metrics    *metrics.Collector
	engine     *license.Engine
}

// openApp opens the config store and the license store and builds the
// engine with its audit pipeline. withMetrics attaches a Prometheus
// collector as the engine observer.
func openApp(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger, withMetrics bool) (*app, error) {
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cs, err := openConfigStore()
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: cs}

	a.licenses, err = newStoreRegistry().Open(ctx, storeConfig(cfg.Store))
	if err != nil {
		cs.Close()
		return nil, err
	}
	logger.Info("license store opened", "driver", cfg.Store.Driver)

	var primary audit.Sink = audit.NewLogSink(logger)
	if us, ok := a.licenses.(store.UsageStore); ok {
		primary = us
	}
	if len(cfg.Audit.Kafka.Brokers) > 0 {
		a.kafka, err = audit.NewKafkaSink(cfg.Audit.Kafka.Brokers, cfg.Audit.Kafka.Topic)
		if err != nil {
			a.licenses.Close()
			cs.Close()
			return nil, err
		}
		logger.Info("streaming usage log to kafka", "brokers", cfg.Audit.Kafka.Brokers, "topic", cfg.Audit.Kafka.Topic)
	}

	var asyncOpts []audit.AsyncOption
	opts := []license.Option{
		license.WithAuthorizer(service.NewAuthorizer(cs, logger)),
		license.WithLogger(logger),
		license.WithMaxAttempts(cfg.Engine.MaxAttempts),
		license.WithMaxBulk(cfg.Engine.MaxBulk),
	}
	if withMetrics {
		a.metrics = metrics.New(metrics.ResolveInstanceID(ctx, cs))
		opts = append(opts, license.WithObserver(a.metrics))
		asyncOpts = append(asyncOpts, audit.WithDropHook(a.metrics.AuditDropped))
	}
	// Each sink drains its own queue so a slow broker never delays History.
	a.audit = audit.NewAsync(primary, cfg.Audit.Buffer, logger, asyncOpts...)
	sinks := audit.Multi{a.audit}
	if a.kafka != nil {
		a.kafkaQueue = audit.NewAsync(a.kafka, cfg.Audit.Buffer, logger, asyncOpts...)
		sinks = append(sinks, a.kafkaQueue)
	}
	opts = append(opts, license.WithAuditSink(sinks))

	a.engine = license.New(a.licenses, opts...)
	return a, nil
}

// closeAudit flushes queued usage entries and closes the Kafka writer.
func (a *app) closeAudit() error {
	err := a.audit.Close()
	if a.kafka != nil {
		a.kafkaQueue.Close()
		if kerr := a.kafka.Close(); kerr != nil && err == nil {
			err = kerr
		}
	}
	return err
}

// Close flushes the audit pipeline and closes both stores.
func (a *app) Close() error {
	if err := a.closeAudit(); err != nil {
		a.logger.Warn("close audit pipeline", "error", err)
	}
	if err := a.licenses.Close(); err != nil {
		a.logger.Warn("close license store", "error", err)
	}
	return a.store.Close()
}

// cliCaller identifies the local operator in the usage log.
func cliCaller() license.Caller {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return license.Caller{Identity: "cli:" + name, Admin: true}
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "licensor.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "licensor.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
