package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "queryforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "QUERYFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "QUERYFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "QUERYFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "QUERYFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "QUERYFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "QUERYFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "QUERYFORGE_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.StatementTimeout, "QUERYFORGE_PG_STATEMENT_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.TitleModel, "QUERYFORGE_TITLE_MODEL")
	setString(&cfg.Logging.Level, "QUERYFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "QUERYFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "QUERYFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "QUERYFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "QUERYFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "QUERYFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "QUERYFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "QUERYFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "QUERYFORGE_RATE_MAX_IDLE_TIME")
	setFloat64(&cfg.Rate.TurnCost, "QUERYFORGE_RATE_TURN_COST")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "QUERYFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "QUERYFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "QUERYFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.WorkspaceTTL, "QUERYFORGE_CACHE_WORKSPACE_TTL")

	// Conversation
	setInt(&cfg.Conversation.WindowSize, "QUERYFORGE_CHAT_WINDOW_SIZE")
	setInt(&cfg.Conversation.CharBudget, "QUERYFORGE_CHAT_CHAR_BUDGET")
	setDuration(&cfg.Conversation.TurnTimeout, "QUERYFORGE_CHAT_TURN_TIMEOUT")
	setInt(&cfg.Conversation.MaxTurns, "QUERYFORGE_CHAT_MAX_TURNS")
	setDuration(&cfg.Conversation.TitleTimeout, "QUERYFORGE_CHAT_TITLE_TIMEOUT")
	setInt(&cfg.Conversation.RowLimit, "QUERYFORGE_CHAT_ROW_LIMIT")
	setInt(&cfg.Conversation.QueryWorkers, "QUERYFORGE_CHAT_QUERY_WORKERS")

	// Datasources
	setDuration(&cfg.Datasources.QueryTimeout, "QUERYFORGE_DS_QUERY_TIMEOUT")
	setInt(&cfg.Datasources.SampleSize, "QUERYFORGE_DS_SAMPLE_SIZE")
	setString(&cfg.Datasources.BigQueryCredentialsFile, "QUERYFORGE_BIGQUERY_CREDENTIALS_FILE")
	setInt64(&cfg.Datasources.MaxBytesBilled, "QUERYFORGE_BIGQUERY_MAX_BYTES_BILLED")

	// Auth
	setBool(&cfg.Auth.Enabled, "QUERYFORGE_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "QUERYFORGE_JWT_SECRET")
	setString(&cfg.Auth.DefaultUserID, "QUERYFORGE_DEFAULT_USER_ID")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "QUERYFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "QUERYFORGE_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "QUERYFORGE_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "QUERYFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "QUERYFORGE_OTEL_SAMPLE_RATE")

	setString(&cfg.SecretsFile, "QUERYFORGE_SECRETS_FILE")

	// MCP
	setBool(&cfg.MCP.Enabled, "QUERYFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "QUERYFORGE_MCP_ADDR")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Postgres.StatementTimeout < 0 {
		return errors.New("postgres.statement_timeout must not be negative")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Rate.TurnCost < 0 || cfg.Rate.TurnCost+1 > float64(cfg.Rate.Burst) {
		return errors.New("rate.turn_cost must be between 0 and rate.burst - 1")
	}
	if cfg.Conversation.WindowSize < 1 {
		return errors.New("conversation.window_size must be >= 1")
	}
	if cfg.Conversation.CharBudget < 1 {
		return errors.New("conversation.char_budget must be >= 1")
	}
	if cfg.Conversation.TurnTimeout <= 0 {
		return errors.New("conversation.turn_timeout must be > 0")
	}
	if cfg.Conversation.MaxTurns < 1 {
		return errors.New("conversation.max_turns must be >= 1")
	}
	if cfg.Conversation.QueryWorkers < 1 {
		return errors.New("conversation.query_workers must be >= 1")
	}
	if cfg.Datasources.QueryTimeout <= 0 {
		return errors.New("datasources.query_timeout must be > 0")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" && len(cfg.Auth.APIKeys) == 0 {
		return errors.New("auth.enabled requires auth.jwt_secret or auth.api_keys")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
