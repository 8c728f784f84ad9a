package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/licensor/internal/metrics"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/server"
	"github.com/faucetdb/licensor/internal/service"
	"github.com/faucetdb/licensor/internal/stats"
)

const banner = `
 _     ___ ____ _____ _   _ ____   ___  ____
| |   |_ _/ ___| ____| \ | / ___| / _ \|  _ \
| |    | | |   |  _| |  \| \___ \| | | | |_) |
| |___ | | |___| |___| |\  |___) | |_| |  _ <
|_____|___\____|_____|_| \_|____/ \___/|_| \_\
`

const devJWTSecret = "licensor-dev-secret-change-me"

type serveOptions struct {
	port       int
	host       string
	dev        bool
	background bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Licensor API server",
		Long: `Start the HTTP server that exposes the client endpoints (activate, sync),
the authenticated license administration API, /metrics and /openapi.json.`,
		Example: `  licensor serve
  licensor serve --port 9090 --dev
  licensor serve --background   # detach and write a PID file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.background {
				return runServeBackground()
			}
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&opts.host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "Enable development mode (debug logging, CORS *)")
	cmd.Flags().BoolVar(&opts.background, "background", false, "Run the server detached from the terminal")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = opts.host
	}
	if opts.dev {
		cfg.Server.CORS.Origins = []string{"*"}
	}

	logger := newLogger(cfg.Logging, opts.dev)

	bodyLimit, err := cfg.Server.BodyLimit()
	if err != nil {
		return err
	}
	grace, err := cfg.Server.ShutdownGrace()
	if err != nil {
		return err
	}
	sessionTTL, err := cfg.Auth.SessionTTL()
	if err != nil {
		return err
	}
	refreshEvery, err := cfg.Metrics.Interval()
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, cfg.Metrics.Enabled)
	if err != nil {
		return err
	}
	defer a.store.Close()
	logger.Info("config store initialized", "path", resolveDataDir())

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		if !opts.dev {
			logger.Warn("auth.jwt_secret is not set; using the development secret")
		}
		jwtSecret = devJWTSecret
	}
	authSvc := service.NewAuthService(a.store, jwtSecret)

	hasAdmin, err := a.store.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: licensor admin create")
	}

	srvOpts := []server.Option{
		server.WithShutdownHook(a.closeAudit),
	}
	if a.metrics != nil {
		refresher := metrics.NewRefresher(a.metrics, func(ctx context.Context) (model.Statistics, error) {
			return stats.Compute(ctx, a.licenses, time.Now().UTC())
		}, refreshEvery, logger)
		refresher.Start()
		srvOpts = append(srvOpts,
			server.WithMetrics(a.metrics),
			server.WithShutdownHook(func() error { refresher.Shutdown(); return nil }),
		)
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: grace,
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     bodyLimit,
		ClientRPM:       cfg.Server.RateLimit.ClientRPM,
		KeyRPM:          cfg.Server.RateLimit.KeyRPM,
		APIKeyHeader:    cfg.Auth.APIKeyHeader,
		SessionTTL:      sessionTTL,
	}
	if cfg.Server.TLS.Enabled {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}

	srv := server.New(srvCfg, a.engine, a.licenses, a.store, authSvc, logger, srvOpts...)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	fmt.Printf("→ Licensor %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s:%d\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ License store: %s\n", cfg.Store.Driver)
	fmt.Printf("→ OpenAPI:    %s://%s:%d/openapi.json\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     %s://%s:%d/healthz\n", scheme, srvCfg.Host, srvCfg.Port)
	if a.metrics != nil {
		fmt.Printf("→ Metrics:    %s://%s:%d/metrics\n", scheme, srvCfg.Host, srvCfg.Port)
	}
	fmt.Println()

	return srv.ListenAndServe()
}

// runServeBackground re-executes the binary without --background, detached
// from the terminal, with output appended to the log file.
func runServeBackground() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[1:] {
		if arg == "--background" || arg == "--background=true" {
			continue
		}
		args = append(args, arg)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	if err := writePID(pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	child.Process.Release()

	fmt.Printf("Licensor server started in the background (PID %d)\n", pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop it with: licensor stop")
	return nil
}
