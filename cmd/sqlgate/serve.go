package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"sqlgate"
	"sqlgate/internal/pgstore"
)

// passwordPlaceholder in a configured connection string is replaced with an
// interactively prompted password, so secrets stay out of config files.
const passwordPlaceholder = "${PASSWORD}"

func runServe() error {
	ctx := context.Background()

	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serverConfig.Server.Port <= 0 {
		panic("sqlgate: server.port must be > 0")
	}

	// 2. Setup logger
	logger := setupLogger(serverConfig.Logging)

	// 3. Resolve connection strings: env overrides config, placeholder
	// passwords are prompted.
	resolveConnStrings(serverConfig)

	// 4. Build registry and pipeline
	registry, err := sqlgate.NewRegistry(serverConfig.Registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	defer func() {
		if err := registry.DisconnectCached(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to disconnect system client")
		}
	}()

	sink, store, err := setupAuditStore(ctx, serverConfig, logger)
	if err != nil {
		return err
	}

	var settings sqlgate.SettingsStore
	switch {
	case serverConfig.Settings != nil:
		settings = sqlgate.StaticSettings{Settings: *serverConfig.Settings}
	case store != nil:
		settings = store
	}

	pipeline, err := sqlgate.NewPipeline(registry, settings, sink, serverConfig.Pipeline.PipelineConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// 5. Test the system connection
	logger.Info().Msg("testing database connection")
	client, err := registry.ResolveSystem()
	if err != nil {
		return fmt.Errorf("failed to resolve system connection: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Str("provider", client.ProviderName()).Msg("database connection test successful")

	// 6. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("sqlgate", version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	sqlgate.RegisterMCPTools(mcpServer, pipeline, logger)

	// 7. Start HTTP server with optional health check
	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("sqlgate: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Create StreamableHTTPServer with custom http.Server
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Manually register the MCP handler: Start() does NOT register
	// when a custom *http.Server is provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting sqlgate server")
	return streamableServer.Start(addr)
}

func loadServerConfig() (*sqlgate.ServerConfig, error) {
	configPath := os.Getenv("SQLGATE_CONFIG_PATH")
	if configPath == "" {
		configPath = ".sqlgate/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config sqlgate.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// resolveConnStrings applies SQLGATE_CONNSTRING_<PROVIDER> env overrides and
// prompts for placeholder passwords.
func resolveConnStrings(config *sqlgate.ServerConfig) {
	if config.Registry.ConnStrings == nil {
		config.Registry.ConnStrings = map[sqlgate.Identity]string{}
	}
	for id, conn := range config.Registry.ConnStrings {
		envKey := "SQLGATE_CONNSTRING_" + strings.ToUpper(string(id))
		if fromEnv := os.Getenv(envKey); fromEnv != "" {
			config.Registry.ConnStrings[id] = fromEnv
			continue
		}
		if strings.Contains(conn, passwordPlaceholder) {
			password := promptPassword(fmt.Sprintf("Password for %s: ", id))
			config.Registry.ConnStrings[id] = strings.ReplaceAll(conn, passwordPlaceholder, password)
		}
	}
}

// setupAuditStore builds the audit sink and, when configured, the durable
// settings store sharing the same pool.
func setupAuditStore(ctx context.Context, config *sqlgate.ServerConfig, logger zerolog.Logger) (sqlgate.AuditSink, *pgstore.Store, error) {
	if config.Audit.ConnString == "" {
		return sqlgate.NopSink{}, nil, nil
	}
	pool, err := pgxpool.New(ctx, config.Audit.ConnString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audit store pool: %w", err)
	}
	store := pgstore.New(pool, logger)
	if config.Audit.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
	}
	return store, store, nil
}

func setupLogger(config sqlgate.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
