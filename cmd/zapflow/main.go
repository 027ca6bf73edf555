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

	"github.com/zapflow/zapflow/internal/api"
	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/genai"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/util"
	"github.com/zapflow/zapflow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ZapFlow state data
	DefaultStateDir = "/var/lib/zapflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "zapflow.db"
	// DefaultJWTIssuer is the issuer claim stamped into session tokens
	DefaultJWTIssuer = "zapflow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	secret := *flags.jwtSecret
	if secret == "" {
		secret = util.RandomHex(64)
		slog.Warn("No ZAPFLOW_JWT_SECRET set, using an ephemeral secret; sessions will not survive restarts")
	}
	tokens, err := auth.NewService(secret, DefaultJWTIssuer, 0)
	if err != nil {
		slog.Error("Failed to initialize token service", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Messaging is optional: without Twilio credentials the dashboard still
	// works, it just cannot answer live WhatsApp traffic.
	msgService, responder := buildMessaging(flags, st)
	if msgService != nil {
		apiOpts = append(apiOpts, api.WithMessagingService(msgService))
		if err := msgService.Start(ctx); err != nil {
			slog.Error("Failed to start messaging service", "error", err)
			os.Exit(1)
		}
		defer msgService.Stop()
		if responder != nil {
			go responder.Run(ctx)
		}
	}

	if gaClient := buildGenAIClient(flags); gaClient != nil {
		apiOpts = append(apiOpts, api.WithGenAIClient(gaClient))
	}

	slog.Info("Bootstrapping ZapFlow with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)

	server := api.NewServer(st, tokens, apiOpts...)
	if err := server.Run(ctx); err != nil {
		slog.Error("ZapFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ZapFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	JWTSecret   string
	OpenAIKey   string
	APIAddr     string
	ProjectID   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	jwtSecret *string
	openaiKey *string
	apiAddr   *string
	projectID *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.BoolEnv("ZAPFLOW_DEBUG", false) {
		level = slog.LevelDebug
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("ZAPFLOW_STATE_DIR"),
		JWTSecret:   os.Getenv("ZAPFLOW_JWT_SECRET"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		ProjectID:   os.Getenv("ZAPFLOW_PROJECT_ID"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ZAPFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ZAPFLOW_STATE_DIR", config.StateDir,
		"ZAPFLOW_JWT_SECRET_SET", config.JWTSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ZAPFLOW_PROJECT_ID", config.ProjectID)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for ZapFlow data (overrides $ZAPFLOW_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		jwtSecret: flag.String("jwt-secret", config.JWTSecret, "JWT signing secret (overrides $ZAPFLOW_JWT_SECRET)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		projectID: flag.String("project-id", config.ProjectID, "project answering live WhatsApp traffic (overrides $ZAPFLOW_PROJECT_ID)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"jwtSecretSet", *flags.jwtSecret != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"projectID", *flags.projectID)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// openStore opens the store matching the configured DSN type.
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgres")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessaging wires the Twilio sender, service and responder when
// credentials are present. Returns nils when messaging is not configured.
func buildMessaging(flags Flags, st store.Store) (messaging.Service, *messaging.Responder) {
	if os.Getenv("TWILIO_ACCOUNT_SID") == "" {
		slog.Debug("No Twilio credentials, messaging disabled")
		return nil, nil
	}

	sender, err := whatsapp.NewClient()
	if err != nil {
		slog.Warn("Twilio client unavailable, messaging disabled", "error", err)
		return nil, nil
	}
	svc := messaging.NewTwilioService(sender)

	projectID := strings.TrimSpace(*flags.projectID)
	if projectID == "" {
		slog.Warn("No project configured for live traffic, inbound messages will not be answered")
		return svc, nil
	}
	responder, err := messaging.NewResponder(svc, st, projectID)
	if err != nil {
		slog.Warn("Responder unavailable", "error", err)
		return svc, nil
	}
	return svc, responder
}

// buildGenAIClient constructs the GenAI client when an API key is available.
func buildGenAIClient(flags Flags) *genai.Client {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Debug("GenAI client not configured", "error", err)
		return nil
	}
	return client
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
