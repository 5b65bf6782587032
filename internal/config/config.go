package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// SupportedLanguages are the CoNLL 2017 model languages the service can be
// started with.
var SupportedLanguages = []string{"en", "es", "fr", "it", "pt", "de"}

type AppConfig struct {
	Env                    Environment
	LogLevel               string
	Host                   string
	ServerPort             int
	RawBodyLog             bool
	HttpTimeoutSeconds     int
	ShutdownTimeoutSeconds int
	MaxConnections         int
	MaxBodyBytes           int
}

type SyntaxConfig struct {
	Language     string
	ModelDir     string
	ManifestFile string
}

type PythonConfig struct {
	Interpreter string
	ConfigDir   string
}

type PipelineConfig struct {
	WorkerCount           int
	TimeoutMs             int
	StartupTimeoutSeconds int
	Python                PythonConfig
}

type Config struct {
	App      AppConfig
	Syntax   SyntaxConfig
	Pipeline PipelineConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "development")
	env := parseEnvironment(appEnv)

	logLevel := getLogLevel(env)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultPythonDir := filepath.Join(homeDir, ".config", "gcnl-lite")

	return &Config{
		App: AppConfig{
			Env:                    env,
			LogLevel:               logLevel,
			Host:                   getEnv("APP_HOST", "0.0.0.0"),
			ServerPort:             getEnvInt("APP_SERVER_PORT", 7000),
			RawBodyLog:             getEnvBool("APP_RAW_BODY_LOG", false),
			HttpTimeoutSeconds:     getEnvInt("APP_HTTP_TIMEOUT_SECONDS", 60),
			ShutdownTimeoutSeconds: getEnvInt("APP_SHUTDOWN_TIMEOUT_SECONDS", 5),
			MaxConnections:         getEnvInt("APP_MAX_CONNECTIONS", 0),
			MaxBodyBytes:           getEnvInt("APP_MAX_BODY_BYTES", 10<<20),
		},
		Syntax: SyntaxConfig{
			Language:     getEnv("SYNTAX_LANGUAGE", ""),
			ModelDir:     getEnv("SYNTAX_MODEL_DIR", ""),
			ManifestFile: getEnv("SYNTAX_MANIFEST", ""),
		},
		Pipeline: PipelineConfig{
			WorkerCount:           getEnvInt("PIPELINE_WORKER_COUNT", 1),
			TimeoutMs:             getEnvInt("PIPELINE_TIMEOUT_MS", 30000),
			StartupTimeoutSeconds: getEnvInt("PIPELINE_STARTUP_TIMEOUT_SECONDS", 120),
			Python: PythonConfig{
				Interpreter: getEnv("PIPELINE_PYTHON", "python3"),
				ConfigDir:   getEnv("PIPELINE_PYTHON_CONFIG_DIR", defaultPythonDir),
			},
		},
	}, nil
}

func (c *Config) Validate() error {
	if c.Syntax.Language == "" {
		return fmt.Errorf("a language is required (SYNTAX_LANGUAGE or first argument)")
	}
	if !slices.Contains(SupportedLanguages, c.Syntax.Language) {
		return fmt.Errorf("unsupported language %q, expected one of %s",
			c.Syntax.Language, strings.Join(SupportedLanguages, ", "))
	}
	if c.Syntax.ModelDir == "" {
		return fmt.Errorf("a model directory is required (SYNTAX_MODEL_DIR or second argument)")
	}
	info, err := os.Stat(c.Syntax.ModelDir)
	if err != nil {
		return fmt.Errorf("model directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("model directory %s is not a directory", c.Syntax.ModelDir)
	}
	if c.App.ServerPort <= 0 || c.App.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.App.ServerPort)
	}
	if c.App.MaxBodyBytes < 0 {
		return fmt.Errorf("APP_MAX_BODY_BYTES must not be negative, got %d", c.App.MaxBodyBytes)
	}
	if c.Pipeline.WorkerCount < 1 {
		return fmt.Errorf("PIPELINE_WORKER_COUNT must be at least 1, got %d", c.Pipeline.WorkerCount)
	}
	if c.Pipeline.TimeoutMs < 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT_MS must not be negative, got %d", c.Pipeline.TimeoutMs)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *AppConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.ServerPort)
}

func parseEnvironment(envStr string) Environment {
	env := Environment(strings.ToLower(envStr))

	switch env {
	case Development, Production:
		return env
	default:
		return Development
	}
}

func getLogLevel(env Environment) string {
	if env == Production {
		return getEnv("APP_LOG_LEVEL", "info")
	}

	return getEnv("APP_LOG_LEVEL", "debug")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value == "true" {
		return true
	}
	return defaultValue
}
