package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StoreDriver_Memory   = "memory"
	StoreDriver_Postgres = "postgres"

	LogFormat_Text = "text"
	LogFormat_JSON = "json"
)

var currencyRE = regexp.MustCompile(`^[a-z]{3}$`)

// New loads envFile (if it exists) into the process environment and then
// parses Config from it. Variables already set win over the file.
func New(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			logrus.Debugf("no env file found at %s", envFile)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	App       App
	Stripe    Stripe
	Payments  Payments
	Lamp      Lamp
	Store     Store
	Postgres  Postgres
	Kafka     Kafka
	GRPC      GRPC
	RateLimit RateLimit
}

type App struct {
	Port      string `env:"APP_PORT" envDefault:"3001"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

type Stripe struct {
	WebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	SignatureTolerance time.Duration `env:"STRIPE_SIGNATURE_TOLERANCE" envDefault:"300s"`
}

type Payments struct {
	DefaultCurrency   string  `env:"PAYMENTS_DEFAULT_CURRENCY" envDefault:"usd"`
	DefaultTestAmount float64 `env:"PAYMENTS_DEFAULT_TEST_AMOUNT" envDefault:"10"`
	HistoryLimit      int     `env:"PAYMENTS_HISTORY_LIMIT" envDefault:"5"`
}

type Lamp struct {
	ActivationDuration time.Duration `env:"LAMP_ACTIVATION_DURATION" envDefault:"500ms"`
	DwellDuration      time.Duration `env:"LAMP_DWELL_DURATION" envDefault:"5s"`
	CooldownDuration   time.Duration `env:"LAMP_COOLDOWN_DURATION" envDefault:"500ms"`
	HistorySize        int           `env:"LAMP_HISTORY_SIZE" envDefault:"5"`
}

type Store struct {
	Driver string `env:"STORE_DRIVER" envDefault:"memory"`
}

type Postgres struct {
	Host           string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port           string `env:"POSTGRES_PORT" envDefault:"5432"`
	User           string `env:"POSTGRES_USER" envDefault:"user"`
	Password       string `env:"POSTGRES_PASSWORD" envDefault:"pass"`
	DBName         string `env:"POSTGRES_DATABASE" envDefault:"lamp"`
	SSLMode        string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MigrateOnStart bool   `env:"POSTGRES_MIGRATE_ON_START" envDefault:"true"`
}

// DSN is the key/value form sqlx.Connect takes.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL is the form golang-migrate expects.
func (p Postgres) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type Kafka struct {
	Enabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	Topic   string `env:"KAFKA_TOPIC" envDefault:"payments.received"`
	Encoder string `env:"KAFKA_ENCODER" envDefault:"json"`
}

type RateLimit struct {
	// per client IP on the test payment endpoint; 0 disables
	TestPaymentBurst     float64 `env:"RATE_LIMIT_TEST_PAYMENT_BURST" envDefault:"10"`
	TestPaymentPerSecond float64 `env:"RATE_LIMIT_TEST_PAYMENT_PER_SECOND" envDefault:"2"`
}

type GRPC struct {
	// empty disables the gRPC health server
	HealthPort string `env:"GRPC_HEALTH_PORT"`
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriver_Memory, StoreDriver_Postgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Kafka.Encoder {
	case "json", "avro", "proto":
	default:
		return fmt.Errorf("unknown kafka encoder %q", c.Kafka.Encoder)
	}
	if c.Payments.HistoryLimit <= 0 || c.Lamp.HistorySize <= 0 {
		return errors.New("history sizes must be positive")
	}
	if c.Payments.DefaultTestAmount < 0 {
		return fmt.Errorf("default test amount %v is negative", c.Payments.DefaultTestAmount)
	}
	c.Payments.DefaultCurrency = strings.ToLower(strings.TrimSpace(c.Payments.DefaultCurrency))
	if !currencyRE.MatchString(c.Payments.DefaultCurrency) {
		return fmt.Errorf("default currency %q is not a three-letter code", c.Payments.DefaultCurrency)
	}
	return nil
}

func SetupLogging(app App) error {
	level, err := logrus.ParseLevel(app.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	switch app.LogFormat {
	case LogFormat_JSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case LogFormat_Text, "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", app.LogFormat)
	}
	logrus.SetOutput(os.Stdout)
	return nil
}
