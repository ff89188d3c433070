package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DevJWTSecret is the AUTH_JWT_SECRET default. Only development accepts it.
const DevJWTSecret = "dev-secret-change-me"

// ErrInsecureJWTSecret is returned outside development when AUTH_JWT_SECRET
// is unset or left at DevJWTSecret.
var ErrInsecureJWTSecret = errors.New("AUTH_JWT_SECRET must be set outside development")

type Config struct {
	App struct {
		ENV string `env:"APP_ENV" env-default:"development"`
	}

	Log struct {
		Level     string `env:"LOG_LEVEL" env-default:"info"`
		Format    string `env:"LOG_FORMAT" env-default:"text"`
		Component string `env:"LOG_COMPONENT" env-default:"chaperone"`
		Source    bool   `env:"LOG_SOURCE" env-default:"false"`
	}

	DB struct {
		Driver   string `env:"DB_DRIVER" env-default:"mysql"`
		DSN      string `env:"MYSQL_DSN"`
		Host     string `env:"DB_HOST" env-default:"localhost"`
		Port     string `env:"DB_PORT" env-default:"3306"`
		User     string `env:"DB_USER" env-default:"root"`
		Password string `env:"DB_PASSWORD" env-default:"root"`
		Name     string `env:"DB_NAME" env-default:"chaperone"`
		LogSQL   bool   `env:"DB_LOG_SQL" env-default:"false"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" env-default:"0"`
	}

	GRPC struct {
		Host string `env:"GRPC_HOST" env-default:"127.0.0.1"`
		Port string `env:"GRPC_PORT" env-default:"50051"`
	}

	HTTP struct {
		Host           string        `env:"HTTP_HOST" env-default:"0.0.0.0"`
		Port           string        `env:"HTTP_PORT" env-default:"8080"`
		RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"10s"`
		AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	}

	Auth struct {
		JWTSecret string        `env:"AUTH_JWT_SECRET" env-default:"dev-secret-change-me"`
		TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL" env-default:"24h"`
	}

	Storage struct {
		Region        string        `env:"AWS_REGION" env-default:"eu-west-1"`
		Bucket        string        `env:"S3_BUCKET_NAME" env-default:"chaperone-attachments"`
		Endpoint      string        `env:"S3_ENDPOINT"`
		PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" env-default:"5m"`
	}
}

// New reads the configuration from the environment, falling back to the
// env-default tags. A MySQL DSN is assembled from the DB_* parts when
// MYSQL_DSN is not set. Outside development a real AUTH_JWT_SECRET is required.
func New() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	if cfg.DB.DSN == "" && cfg.DB.Driver == "mysql" {
		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if !cfg.IsDevelopment() && (secret == "" || secret == DevJWTSecret) {
		return nil, ErrInsecureJWTSecret
	}

	return cfg, nil
}

// MustNew is New for entrypoints that cannot continue without config.
func MustNew() *Config {
	cfg, err := New()
	if err != nil {
		panic(err)
	}
	return cfg
}

// IsDevelopment reports whether demo seeding and verbose defaults apply.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.ENV, "development")
}
