package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "WalletLedger"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultStoreBackend     = StoreMemory
	defaultCurrency         = "USD"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultExternalTimeout  = 30 * time.Second
	defaultMaxTopUp         = "10000"
	defaultMaxTransfer      = "5000"
	defaultMaxDescription   = 500
	defaultTransferRateMin  = 20
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	externalSecondsEnvVar   = "EXTERNAL_TIMEOUT_SECONDS"
	externalDurationEnvVar  = "EXTERNAL_TIMEOUT"
	maxTopUpEnvVar          = "WALLET_MAX_TOPUP"
	maxTransferEnvVar       = "WALLET_MAX_TRANSFER"
	maxDescriptionEnvVar    = "WALLET_MAX_DESCRIPTION"
	transferRateLimitEnvVar = "TRANSFER_RATE_LIMIT"
	dbMaxConnsEnvVar        = "DB_MAX_CONNS"
)

// Supported ledger store backends.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	StoreBackend      string
	DatabaseURL       string
	DBMaxConns        int
	FirestoreProject  string
	FirestoreCreds    string
	RedisURL          string
	StripeSecretKey   string
	JWTSecret         string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	ExternalTimeout   time.Duration
	TransferRateLimit int
	Wallet            WalletPolicy
}

// WalletPolicy holds the tunable limits applied by the wallet service. Amounts
// are in minor units of Currency.
type WalletPolicy struct {
	Currency             string
	MaxTopUp             int64
	MaxTransfer          int64
	MaxDescriptionLength int
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", defaultStoreBackend)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		FirestoreProject: os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreCreds:   os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		RedisURL:         os.Getenv("REDIS_URL"),
		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		ExternalTimeout:  defaultExternalTimeout,
		Wallet: WalletPolicy{
			Currency:             strings.ToUpper(getEnv("WALLET_CURRENCY", defaultCurrency)),
			MaxDescriptionLength: defaultMaxDescription,
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ExternalTimeout, err = durationFromEnv(externalSecondsEnvVar, externalDurationEnvVar, cfg.ExternalTimeout); err != nil {
		return Config{}, err
	}

	if cfg.Wallet.MaxTopUp, err = minorUnitsFromEnv(maxTopUpEnvVar, defaultMaxTopUp); err != nil {
		return Config{}, err
	}
	if cfg.Wallet.MaxTransfer, err = minorUnitsFromEnv(maxTransferEnvVar, defaultMaxTransfer); err != nil {
		return Config{}, err
	}
	if cfg.Wallet.MaxDescriptionLength, err = intFromEnv(maxDescriptionEnvVar, defaultMaxDescription); err != nil {
		return Config{}, err
	}
	if cfg.TransferRateLimit, err = intFromEnv(transferRateLimitEnvVar, defaultTransferRateMin); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = intFromEnv(dbMaxConnsEnvVar, 0); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_BACKEND=%s is only allowed in development", StoreMemory)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID must be set")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}

	if c.RedisURL == "" && !c.IsDev() {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.StripeSecretKey == "" && !c.IsDev() {
		return fmt.Errorf("STRIPE_SECRET_KEY must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Wallet.MaxTopUp <= 0 || c.Wallet.MaxTransfer <= 0 {
		return fmt.Errorf("wallet ceilings must be positive")
	}
	return nil
}

// IsDev reports whether the application runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// minorUnitsFromEnv parses a major-unit amount such as "5000" or "12.50".
func minorUnitsFromEnv(key, fallback string) (int64, error) {
	raw := getEnv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("invalid %s: more than two decimal places", key)
	}
	minor := d.Shift(2)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("invalid %s: out of range", key)
	}
	return minor.IntPart(), nil
}
