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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/gramgate/gramgate/internal/attempt"
	"github.com/gramgate/gramgate/internal/authflow"
	"github.com/gramgate/gramgate/internal/instagram"
	"github.com/gramgate/gramgate/internal/messaging"
	"github.com/gramgate/gramgate/internal/session"
	"github.com/gramgate/gramgate/internal/store"
	"github.com/gramgate/gramgate/internal/util"
	"github.com/gramgate/gramgate/internal/vault"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GramGate state data
	DefaultStateDir = "/var/lib/gramgate"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "gramgate.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping GramGate")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"redis_set", *flags.redisAddr != "",
		"telegram_set", *flags.telegramToken != "",
		"twilio_set", *flags.twilioSID != "")

	if err := run(flags); err != nil {
		slog.Error("GramGate failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GramGate exited successfully")
}

// Config holds environment configuration
type Config struct {
	MasterSecret   string
	SessionSecret  string
	DatabaseURL    string
	StateDir       string
	RedisAddr      string
	TelegramToken  string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	TwilioContacts string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	redisAddr     *string
	telegramToken *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	masterSecret  *string
	sessionSecret *string
	twilioContact *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		MasterSecret:   os.Getenv("GRAMGATE_MASTER_SECRET"),
		SessionSecret:  os.Getenv("GRAMGATE_SESSION_SECRET"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("GRAMGATE_STATE_DIR"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioContacts: os.Getenv("TWILIO_RECIPIENTS"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GRAMGATE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	return config
}

// parseCommandLineFlags parses command line flags with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "Directory for state data (SQLite database)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "Database DSN (postgres:// URL or SQLite file path; empty for in-memory)"),
		redisAddr:     flag.String("redis-addr", config.RedisAddr, "Redis address for distributed attempt tracking (empty for in-process)"),
		telegramToken: flag.String("telegram-token", config.TelegramToken, "Telegram bot token (empty to use the console transport)"),
		twilioSID:     flag.String("twilio-sid", config.TwilioSID, "Twilio account SID for SMS reset token delivery"),
		twilioToken:   flag.String("twilio-token", config.TwilioToken, "Twilio auth token"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio sender phone number"),
		masterSecret:  flag.String("master-secret", config.MasterSecret, "Master secret for credential encryption (required)"),
		sessionSecret: flag.String("session-secret", config.SessionSecret, "Secret for signing session tokens (empty disables tokens)"),
		twilioContact: flag.String("twilio-recipients", config.TwilioContacts, "Comma-separated userID=phone pairs for SMS delivery"),
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := vault.New(*flags.masterSecret, util.ParseIntEnv("GRAMGATE_KDF_ITERATIONS", vault.MinKDFIterations))
	if err != nil {
		return err
	}

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	policy := buildAttemptPolicy(flags)
	provider := instagram.NewHTTPClient()

	engine := authflow.NewEngine(st, v, provider, policy,
		authflow.WithIdleTimeout(util.ParseDurationEnv("GRAMGATE_IDLE_TIMEOUT", authflow.DefaultIdleTimeout)),
		authflow.WithResetTokenTTL(util.ParseDurationEnv("GRAMGATE_RESET_TOKEN_TTL", authflow.DefaultResetTokenTTL)),
	)

	var tokens *session.Manager
	if *flags.sessionSecret != "" {
		tokens, err = session.NewManager(*flags.sessionSecret, util.ParseDurationEnv("GRAMGATE_SESSION_TTL", session.DefaultTTL))
		if err != nil {
			return err
		}
	} else {
		slog.Warn("No session secret configured, session tokens disabled")
	}
	auth := authflow.NewService(engine, tokens)

	transport, err := buildTransport(flags)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return err
	}
	defer transport.Stop(context.Background())

	limiter := attempt.NewMemoryRateLimiter(attempt.RateConfig{
		MaxRequests: util.ParseIntEnv("GRAMGATE_RATE_LIMIT", 0),
	})

	dispatcher := messaging.NewDispatcher(transport, auth, limiter, buildTokenSender(flags))

	slog.Info("GramGate running")
	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildStore selects a storage backend from the DSN: postgres URLs go to
// PostgreSQL, file paths to SQLite, and an empty DSN to process memory.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Warn("No database DSN configured, using in-memory store; data is lost on restart")
		return store.NewInMemoryStore(), nil
	}
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		if !strings.ContainsRune(dsn, os.PathSeparator) {
			dsn = filepath.Join(*flags.stateDir, dsn)
		}
		slog.Info("Using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

func buildAttemptPolicy(flags Flags) attempt.Policy {
	cfg := attempt.Config{
		Threshold:     util.ParseIntEnv("GRAMGATE_LOGIN_THRESHOLD", 0),
		BlockDuration: util.ParseDurationEnv("GRAMGATE_BLOCK_DURATION", 0),
	}
	if *flags.redisAddr != "" {
		slog.Info("Using Redis attempt policy", "addr", *flags.redisAddr)
		client := redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
		return attempt.NewRedisPolicy(client, cfg)
	}
	return attempt.NewMemoryPolicy(cfg)
}

func buildTransport(flags Flags) (messaging.Service, error) {
	if *flags.telegramToken != "" {
		return messaging.NewTelegramService(*flags.telegramToken)
	}
	slog.Warn("No Telegram bot token configured, using console transport")
	return messaging.NewConsoleService(nil, nil), nil
}

// buildTokenSender prefers SMS delivery when Twilio is configured and falls
// back to printing the token (with a QR code) on the operator terminal.
func buildTokenSender(flags Flags) messaging.TokenSender {
	terminal := messaging.NewTerminalTokenSender(nil)
	if *flags.twilioSID == "" {
		return terminal
	}
	sms, err := messaging.NewTwilioTokenSender(*flags.twilioSID, *flags.twilioToken, *flags.twilioFrom, parseRecipients(*flags.twilioContact))
	if err != nil {
		slog.Error("Twilio configuration invalid, falling back to terminal delivery", "error", err)
		return terminal
	}
	slog.Info("Reset tokens delivered via Twilio SMS")
	return messaging.NewChainTokenSender(sms, terminal)
}

// parseRecipients parses "userID=+15551234,userID2=+15555678".
func parseRecipients(raw string) map[string]string {
	directory := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			slog.Warn("Skipping malformed recipient entry", "entry", pair)
			continue
		}
		directory[parts[0]] = parts[1]
	}
	return directory
}
