package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/feastbook/authcore"
	"github.com/feastbook/authcore/httpapi"
	"github.com/feastbook/authcore/stores/pgstore"
	"github.com/feastbook/authcore/stores/redisstore"
)

var (
	// Version information (set via ldflags)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/authcored/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authcored %s (commit: %s)\n", Version, Commit)
		os.Exit(0)
	}

	cfg, err := LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info().Str("version", Version).Str("config", *configPath).Msg("starting authcored")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts, members, cleanup, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open principal stores")
	}
	defer cleanup()

	sink, closeSink, err := openAuditSink(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit sink")
	}
	defer closeSink()

	engineCfg := authcore.DefaultConfig()
	engineCfg.Token.PrivateKey = []byte(cfg.Token.SigningKey)
	if cfg.Token.Issuer != "" {
		engineCfg.Token.Issuer = cfg.Token.Issuer
		engineCfg.TOTP.Issuer = cfg.Token.Issuer
	}
	if cfg.Token.SessionTTL > 0 {
		engineCfg.Token.SessionTTL = cfg.Token.SessionTTL
	}
	if cfg.Token.TemporaryTTL > 0 {
		engineCfg.Token.TemporaryTTL = cfg.Token.TemporaryTTL
	}
	engineCfg.Audit.BufferSize = cfg.Audit.BufferSize

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithAccountStore(accounts).
		WithMemberStore(members).
		WithAuditSink(sink).
		Build()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}
	defer engine.Close()

	if cfg.Bootstrap.AdminUsername != "" {
		if err := bootstrapAdmin(ctx, engine, accounts, cfg, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap admin account")
		}
	}

	app := fiber.New(fiber.Config{AppName: "authcored"})
	httpapi.NewServer(engine, logger).Register(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("listening")
		if err := app.Listen(cfg.Server.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete cleanly")
	}

	if dropped := engine.AuditDropped(); dropped > 0 {
		logger.Warn().Uint64("dropped", dropped).Msg("audit events were dropped under load")
	}
	logger.Info().Msg("stopped")
}

func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Log.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger
	return logger
}

// openStores builds the account and member stores for the configured backend
// and returns a cleanup func that releases the underlying connections.
func openStores(ctx context.Context, cfg *Config, logger zerolog.Logger) (authcore.PrincipalStore, authcore.MemberStore, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info().Str("addr", cfg.Store.RedisAddr).Msg("connected to redis")
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close redis client")
			}
		}
		return redisstore.NewAccountStore(client), redisstore.NewMemberStore(client), cleanup, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres ping: %w", err)
		}
		if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		logger.Info().Msg("connected to postgres")
		return pgstore.NewAccountStore(pool), pgstore.NewMemberStore(pool), pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openAuditSink returns a line-JSON file sink when a log path is configured,
// otherwise an adapter that emits events through the process logger.
func openAuditSink(cfg *Config, logger zerolog.Logger) (authcore.AuditSink, func(), error) {
	if cfg.Audit.LogPath == "" {
		return &zerologSink{log: logger.With().Str("component", "audit").Logger()}, func() {}, nil
	}

	file, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	closeFile := func() {
		if err := file.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close audit log")
		}
	}
	return authcore.NewJSONWriterSink(file), closeFile, nil
}

// zerologSink writes audit events as structured log lines.
type zerologSink struct {
	log zerolog.Logger
}

func (s *zerologSink) Emit(_ context.Context, event authcore.AuditEvent) {
	entry := s.log.Info()
	if !event.Success {
		entry = s.log.Warn()
	}
	entry = entry.
		Time("at", event.Timestamp).
		Str("event", event.EventType).
		Bool("success", event.Success)
	if event.PrincipalID != "" {
		entry = entry.Str("principal", event.PrincipalID).Str("variant", string(event.Variant))
	}
	if event.Username != "" {
		entry = entry.Str("username", event.Username)
	}
	if event.SessionID != "" {
		entry = entry.Str("session", event.SessionID)
	}
	if event.IP != "" {
		entry = entry.Str("ip", event.IP)
	}
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	for k, v := range event.Metadata {
		entry = entry.Str(k, v)
	}
	entry.Msg("audit event")
}

// bootstrapAdmin creates the initial admin account when the configured
// username does not exist yet. Safe to leave configured across restarts.
func bootstrapAdmin(ctx context.Context, engine *authcore.Engine, accounts authcore.PrincipalStore, cfg *Config, logger zerolog.Logger) error {
	available, err := engine.CheckUsername(ctx, cfg.Bootstrap.AdminUsername, "")
	if err != nil {
		return err
	}
	if !available {
		logger.Debug().Str("username", cfg.Bootstrap.AdminUsername).Msg("bootstrap admin already exists")
		return nil
	}

	hash, err := engine.HashPassword(cfg.Bootstrap.AdminPassword)
	if err != nil {
		return err
	}
	admin := &authcore.Principal{
		ID:           uuid.NewString(),
		Variant:      authcore.VariantAccount,
		Username:     cfg.Bootstrap.AdminUsername,
		DisplayName:  cfg.Bootstrap.AdminUsername,
		Role:         authcore.RoleAdmin,
		Active:       true,
		LoginEnabled: true,
		PasswordHash: hash,
	}
	if err := accounts.Create(ctx, admin); err != nil {
		return err
	}
	logger.Info().Str("username", admin.Username).Str("id", admin.ID).Msg("bootstrap admin account created")
	return nil
}
