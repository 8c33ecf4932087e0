package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/timo-math/adaptive-backend/internal/adaptive"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type PredictorConfig struct {
	Mode    string // off, mock, anthropic
	Model   string
	APIKey  string
	Timeout time.Duration
}

type Config struct {
	Port         string
	LogMode      string
	JWTSecret    string
	DB           DBConfig
	RedisAddr    string
	PoolCacheTTL time.Duration
	Predictor    PredictorConfig
	Engine       adaptive.Params
}

// Load reads .env (if present), the environment, and the optional engine
// YAML file named by ENGINE_CONFIG_PATH.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogMode:   getEnv("LOG_MODE", "dev"),
		JWTSecret: getEnv("JWT_SECRET", "timo-dev-signing-key"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "timo_user"),
			Password: getEnv("DB_PASSWORD", "timo_password"),
			Name:     getEnv("DB_NAME", "timo_adaptive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		PoolCacheTTL: getDuration("POOL_CACHE_TTL", 10*time.Minute),
		Predictor: PredictorConfig{
			Mode:    getEnv("PREDICTOR_MODE", "off"),
			Model:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			Timeout: getDuration("PREDICTOR_TIMEOUT", 3*time.Second),
		},
	}

	engine, err := LoadEngineParams(os.Getenv("ENGINE_CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine

	return cfg, nil
}

// LoadEngineParams returns the default parameters overlaid with the YAML
// file at path. An empty path means defaults only. Keys absent from the
// file keep their default values.
func LoadEngineParams(path string) (adaptive.Params, error) {
	params := adaptive.DefaultParams()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read engine config: %w", err)
	}
	if err := ParseEngineParams(data, &params); err != nil {
		return params, err
	}
	return params, nil
}

// ParseEngineParams decodes YAML over params and validates the result.
func ParseEngineParams(data []byte, params *adaptive.Params) error {
	if err := yaml.Unmarshal(data, params); err != nil {
		return fmt.Errorf("parse engine config: %w", err)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
