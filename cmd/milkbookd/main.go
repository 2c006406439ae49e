package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dairyworks/milkbook/internal/auth"
	"github.com/dairyworks/milkbook/internal/httpapi"
	"github.com/dairyworks/milkbook/internal/session"
	"github.com/dairyworks/milkbook/internal/store/gormstore"
	"github.com/dairyworks/milkbook/pkg/billing"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagRedisAddr         = "redis-addr"
	flagSessionSigningKey = "session-signing-key"
	flagSessionTokenTTL   = "session-token-ttl"
	flagAllowedOrigins    = "allowed-origins"
	flagGoogleClientID    = "google-client-id"
	flagLoginURL          = "login-url"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyRedisAddr         = "redis_addr"
	configKeySessionSigningKey = "session_signing_key"
	configKeySessionTokenTTL   = "session_token_ttl"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyGoogleClientID    = "google_client_id"
	configKeyLoginURL          = "login_url"

	defaultDatabaseURL    = "sqlite:///tmp/milkbook.db"
	defaultHTTPListenAddr = ":8090"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	RedisAddr         string
	SessionSigningKey string
	SessionTokenTTL   time.Duration
	AllowedOrigins    string
	GoogleClientID    string
	LoginURL          string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "milkbookd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "milkbookd",
		Short:         "Milk production and billing HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "Database connection string (sqlite:// or postgres://)")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for cross-device session notifications (optional)")
	cmd.Flags().String(flagSessionSigningKey, "", "HMAC signing key for session tokens")
	cmd.Flags().Duration(flagSessionTokenTTL, session.DefaultTokenTTL, "Session token lifetime")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagGoogleClientID, "", "Google OAuth client id for login verification")
	cmd.Flags().String(flagLoginURL, "", "Redirect target for unauthenticated browser requests")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "HTTP_LISTEN_ADDR",
		configKeyRedisAddr:         "REDIS_ADDR",
		configKeySessionSigningKey: "SESSION_SIGNING_KEY",
		configKeySessionTokenTTL:   "SESSION_TOKEN_TTL",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeyGoogleClientID:    "GOOGLE_CLIENT_ID",
		configKeyLoginURL:          "LOGIN_URL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyRedisAddr:         flagRedisAddr,
		configKeySessionSigningKey: flagSessionSigningKey,
		configKeySessionTokenTTL:   flagSessionTokenTTL,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeyGoogleClientID:    flagGoogleClientID,
		configKeyLoginURL:          flagLoginURL,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.RedisAddr = viper.GetString(configKeyRedisAddr)
	cfg.SessionSigningKey = viper.GetString(configKeySessionSigningKey)
	cfg.SessionTokenTTL = viper.GetDuration(configKeySessionTokenTTL)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.GoogleClientID = viper.GetString(configKeyGoogleClientID)
	cfg.LoginURL = viper.GetString(configKeyLoginURL)

	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	billingService, err := billing.NewService(store, clock,
		billing.WithOperationLogger(newZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("billing service init: %w", err)
	}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return fmt.Errorf("notifier init: %w", err)
	}
	defer func() { _ = closeNotifier() }()

	issuer, err := session.NewTokenIssuer([]byte(cfg.SessionSigningKey), "milkbook", cfg.SessionTokenTTL, time.Now)
	if err != nil {
		return fmt.Errorf("token issuer init: %w", err)
	}
	writer := session.NewWriter(store, notifier)

	var verifier httpapi.IdentityVerifier
	if cfg.GoogleClientID != "" {
		googleVerifier, verifierErr := auth.NewGoogleVerifier(cfg.GoogleClientID)
		if verifierErr != nil {
			return fmt.Errorf("google verifier init: %w", verifierErr)
		}
		verifier = googleVerifier
	}

	server, err := httpapi.New(httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionTokenTTL:   cfg.SessionTokenTTL,
		GoogleClientID:    cfg.GoogleClientID,
		LoginURL:          cfg.LoginURL,
	}, billingService, store, writer, issuer, verifier, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	return server.Run(ctx)
}

func buildNotifier(ctx context.Context, redisAddr string, logger *zap.Logger) (session.Notifier, func() error, error) {
	if redisAddr == "" {
		hub := session.NewHub()
		return hub, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return session.NewRedisNotifier(client, logger), client.Close, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "milkbook.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func newZapOperationLogger(logger *zap.Logger) *zapOperationLogger {
	return &zapOperationLogger{logger: logger}
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry billing.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.String("customer_id", entry.CustomerID.String()),
		zap.String("status", entry.Status),
	}
	if entry.BillID.String() != "" {
		fields = append(fields, zap.String("bill_id", entry.BillID.String()))
	}
	if !entry.Date.IsZero() {
		fields = append(fields, zap.String("date", entry.Date.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Float64("amount", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("billing operation failed", fields...)
		return
	}
	adapter.logger.Info("billing operation", fields...)
}
