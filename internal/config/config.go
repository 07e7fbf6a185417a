package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"flowsync/pkg/logger"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

type Config struct {
	HTTPPort  string
	Env       string
	Sync      SyncConfig
	HTTP      HTTPConfig
	Firestore FirestoreConfig
	DB        DBConfig
}

type SyncConfig struct {
	Store                string
	SnapshotPath         string
	ForceOverwrite       bool
	DryRun               bool
	BanksCollection      string
	OperationsCollection string
}

type HTTPConfig struct {
	APIToken       string
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	DatabaseID      string
}

type DBConfig struct {
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func Load(log logger.Logger) (Config, error) {
	err := loadDotEnv(log)
	if err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		Sync: SyncConfig{
			Store:                strings.ToLower(getEnv("SYNC_STORE", StoreFirestore)),
			SnapshotPath:         getEnv("SYNC_SNAPSHOT_PATH", "datos/bancos.json"),
			ForceOverwrite:       getEnvBool("SYNC_FORCE_OVERWRITE", false),
			DryRun:               getEnvBool("SYNC_DRY_RUN", false),
			BanksCollection:      getEnv("SYNC_BANKS_COLLECTION", "bancos"),
			OperationsCollection: getEnv("SYNC_OPERATIONS_COLLECTION", "operacionesBancos"),
		},
		HTTP: HTTPConfig{
			APIToken:       getEnv("SYNC_API_TOKEN", ""),
			AllowedOrigins: getEnvList("SYNC_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RequestTimeout: getEnvDuration("SYNC_REQUEST_TIMEOUT", 2*time.Minute),
			MaxBodyBytes:   int64(getEnvInt("SYNC_MAX_BODY_BYTES", 8<<20)),
		},
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", getEnv("GOOGLE_CLOUD_PROJECT", "")),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			DatabaseID:      getEnv("FIRESTORE_DATABASE_ID", ""),
		},
		DB: DBConfig{
			DSN:             getEnv("DB_DSN", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "flowdistributor"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			TimeZone:        getEnv("DB_TIMEZONE", "UTC"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that every command depends on.
func (c Config) Validate() error {
	switch c.Sync.Store {
	case StoreFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("%w: FIREBASE_PROJECT_ID is required for the firestore store", ErrInvalidConfig)
		}
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown SYNC_STORE %q", ErrInvalidConfig, c.Sync.Store)
	}

	if strings.TrimSpace(c.Sync.BanksCollection) == "" || strings.TrimSpace(c.Sync.OperationsCollection) == "" {
		return fmt.Errorf("%w: collection names must not be empty", ErrInvalidConfig)
	}
	if c.Sync.BanksCollection == c.Sync.OperationsCollection {
		return fmt.Errorf("%w: banks and operations collections must differ", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (c DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.TimeZone
}
