package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "SHEPHERD_"

// Config is the full process configuration, read once at startup.
type Config struct {
	Server    Server    `envPrefix:"SERVER_"`
	Store     Store     `envPrefix:"STORE_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Kafka     Kafka     `envPrefix:"KAFKA_"`
	Pickup    Pickup    `envPrefix:"PICKUP_"`
	Telemetry Telemetry `envPrefix:"TELEMETRY_"`
	SeedDemo  bool      `env:"SEED_DEMO" envDefault:"false"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ADDR"             envDefault:":8080"`
	Environment     string        `env:"ENV"              envDefault:"dev"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY"`
	JWTIssuer       string        `env:"JWT_ISSUER"       envDefault:"shepherd"`
	JWTAudience     string        `env:"JWT_AUDIENCE"     envDefault:"shepherd-api"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"10s"`
}

func (s Server) IsProduction() bool { return s.Environment == "prod" }

type StoreDriver string

const (
	DriverMemory   StoreDriver = "memory"
	DriverPostgres StoreDriver = "postgres"
	DriverSQLite   StoreDriver = "sqlite"
)

type Store struct {
	Driver          StoreDriver   `env:"DRIVER"            envDefault:"memory"`
	DSN             string        `env:"DSN"`
	SQLitePath      string        `env:"SQLITE_PATH"       envDefault:"./data/shepherd.db"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	TxTimeout       time.Duration `env:"TX_TIMEOUT"        envDefault:"5s"`
}

// Redis is optional; when URL is empty the rate limiter uses the ledger database.
type Redis struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT"   envDefault:"2s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"   envDefault:"500ms"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"  envDefault:"500ms"`
}

func (r Redis) Enabled() bool { return r.URL != "" }

// Kafka is optional; without brokers the outbox is retained but not relayed.
type Kafka struct {
	Brokers       []string      `env:"BROKERS"        envSeparator:","`
	Topic         string        `env:"TOPIC"          envDefault:"pickup.log.v1"`
	RelayInterval time.Duration `env:"RELAY_INTERVAL" envDefault:"2s"`
	RelayBatch    int           `env:"RELAY_BATCH"    envDefault:"100"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Pickup holds the verification policy.
type Pickup struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	Window      time.Duration `env:"WINDOW"       envDefault:"15m"`
	CodePepper  string        `env:"CODE_PEPPER"`

	// Request throttle on /pickup/verify, independent of the per-record limit.
	ThrottlePerStaff int           `env:"THROTTLE_PER_STAFF" envDefault:"30"`
	ThrottlePerIP    int           `env:"THROTTLE_PER_IP"    envDefault:"60"`
	ThrottleWindow   time.Duration `env:"THROTTLE_WINDOW"    envDefault:"1m"`
}

type Telemetry struct {
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"shepherd"`
}

// Load parses SHEPHERD_* environment variables and validates the result.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses configuration from the given variables instead of the
// process environment. A nil map reads the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = normalizeBrokers(cfg.Kafka.Brokers)
	cfg.Server.LogLevel = strings.ToLower(cfg.Server.LogLevel)

	if cfg.Server.JWTSigningKey == "" && !cfg.Server.IsProduction() {
		cfg.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if cfg.Pickup.CodePepper == "" && !cfg.Server.IsProduction() {
		cfg.Pickup.CodePepper = "dev-pepper-change-in-production"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
		if c.Server.IsProduction() {
			errs = append(errs, errors.New("store driver memory is not allowed in prod"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("SHEPHERD_STORE_DSN is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SHEPHERD_STORE_SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Server.JWTSigningKey == "" {
		errs = append(errs, errors.New("SHEPHERD_SERVER_JWT_SIGNING_KEY is required"))
	}
	if c.Pickup.CodePepper == "" {
		errs = append(errs, errors.New("SHEPHERD_PICKUP_CODE_PEPPER is required"))
	}
	if c.Pickup.MaxAttempts < 1 {
		errs = append(errs, errors.New("SHEPHERD_PICKUP_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Pickup.Window <= 0 {
		errs = append(errs, errors.New("SHEPHERD_PICKUP_WINDOW must be positive"))
	}
	if c.Pickup.ThrottlePerStaff < 1 || c.Pickup.ThrottlePerIP < 1 || c.Pickup.ThrottleWindow <= 0 {
		errs = append(errs, errors.New("SHEPHERD_PICKUP_THROTTLE_* limits must be positive"))
	}
	if c.Store.TxTimeout <= 0 {
		errs = append(errs, errors.New("SHEPHERD_STORE_TX_TIMEOUT must be positive"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("SHEPHERD_KAFKA_TOPIC is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// normalizeBrokers trims entries and drops blanks and repeats, keeping the
// first occurrence of each.
func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		b = strings.TrimSpace(b)
		if b == "" || slices.Contains(out, b) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
