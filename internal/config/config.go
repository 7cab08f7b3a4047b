package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port              string
	BaseURL           string
	TrustProxyHeaders bool
}

type StorageConfig struct {
	Root           string
	MaxLetterBytes int64
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
}

// Config is the typed view of the application settings. Database, Redis,
// JWT and argon2 keys stay in viper and are read by their own packages.
type Config struct {
	Server          ServerConfig
	Storage         StorageConfig
	Telemetry       TelemetryConfig
	SweeperInterval time.Duration
	SeedEnabled     bool
	SeedPassword    string
}

var envBindings = map[string]string{
	"server.port":              "PORT",
	"server.base_url":          "SERVER_BASE_URL",
	"server.trust_proxy":       "TRUST_PROXY_HEADERS",
	"database.host":            "DATABASE_HOST",
	"database.port":            "DATABASE_PORT",
	"database.user":            "DATABASE_USER",
	"database.password":        "DATABASE_PASSWORD",
	"database.name":            "DATABASE_NAME",
	"database.ssl_mode":        "DATABASE_SSL_MODE",
	"redis.host":               "REDIS_HOST",
	"redis.port":               "REDIS_PORT",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"jwt.secret_key":           "JWT_SECRET_KEY",
	"jwt.expiry_hours":         "JWT_EXPIRY_HOURS",
	"argon2.time":              "ARGON2_TIME",
	"argon2.memory":            "ARGON2_MEMORY",
	"argon2.threads":           "ARGON2_THREADS",
	"argon2.key_length":        "ARGON2_KEY_LENGTH",
	"argon2.salt_length":       "ARGON2_SALT_LENGTH",
	"storage.root":             "STORAGE_ROOT",
	"storage.max_letter_bytes": "STORAGE_MAX_LETTER_BYTES",
	"sweeper.interval":         "SWEEPER_INTERVAL",
	"telemetry.otlp_endpoint":  "OTEL_EXPORTER_OTLP_ENDPOINT",
	"telemetry.service_name":   "OTEL_SERVICE_NAME",
	"telemetry.insecure":       "OTEL_EXPORTER_OTLP_INSECURE",
	"seed.enabled":             "SEED_ENABLED",
	"seed.password":            "SEED_PASSWORD",
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("server.trust_proxy", false)

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("storage.root", "./storage")
	viper.SetDefault("storage.max_letter_bytes", 2<<20)
	viper.SetDefault("sweeper.interval", time.Hour)

	viper.SetDefault("telemetry.service_name", "smartdigilab-backend")
	viper.SetDefault("telemetry.insecure", true)

	viper.SetDefault("seed.enabled", false)
	viper.SetDefault("seed.password", "password")
}

// promoteFileKeys maps .env entries such as JWT_SECRET_KEY onto their dotted
// keys. They land below environment bindings and above built-in defaults.
func promoteFileKeys() {
	for key, env := range envBindings {
		fileKey := strings.ToLower(env)
		if viper.InConfig(fileKey) {
			viper.SetDefault(key, viper.Get(fileKey))
		}
	}
}

// Load reads the given .env file (a missing file is fine), binds the
// environment and returns the typed settings.
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	promoteFileKeys()

	cfg := &Config{
		Server: ServerConfig{
			Port:              viper.GetString("server.port"),
			BaseURL:           viper.GetString("server.base_url"),
			TrustProxyHeaders: viper.GetBool("server.trust_proxy"),
		},
		Storage: StorageConfig{
			Root:           viper.GetString("storage.root"),
			MaxLetterBytes: viper.GetInt64("storage.max_letter_bytes"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
			ServiceName:  viper.GetString("telemetry.service_name"),
			Insecure:     viper.GetBool("telemetry.insecure"),
		},
		SweeperInterval: viper.GetDuration("sweeper.interval"),
		SeedEnabled:     viper.GetBool("seed.enabled"),
		SeedPassword:    viper.GetString("seed.password"),
	}

	if viper.GetString("jwt.secret_key") == "" {
		return nil, errors.New("jwt.secret_key (JWT_SECRET_KEY) must be set")
	}
	if cfg.Storage.MaxLetterBytes <= 0 {
		return nil, fmt.Errorf("storage.max_letter_bytes must be positive, got %d", cfg.Storage.MaxLetterBytes)
	}

	return cfg, nil
}
