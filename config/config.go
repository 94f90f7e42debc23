package config

import (
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/services/ai"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"11000"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

type DatabaseConfig struct {
	Host            string `env:"MAILPILOT_POSTGRES_HOST,required"`
	Port            string `env:"MAILPILOT_POSTGRES_PORT,required"`
	User            string `env:"MAILPILOT_POSTGRES_USER,required"`
	DBName          string `env:"MAILPILOT_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILPILOT_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILPILOT_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILPILOT_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILPILOT_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILPILOT_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILPILOT_POSTGRES_SSL_MODE" envDefault:"require"`
}

type PollingConfig struct {
	// AccountTimeout bounds one account's fetch cycle within a sweep, in
	// seconds.
	AccountTimeout int `env:"POLL_ACCOUNT_TIMEOUT_SECONDS" envDefault:"120"`
}

type AIServiceConfig = ai.AIConfig
