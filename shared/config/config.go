package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Evaluation modes.
const (
	ModeTick  = "tick"
	ModeEvent = "event"
)

// Course sources.
const (
	CoursesFromFile  = "file"
	CoursesFromMongo = "mongo"
)

// CommonConfig holds configuration fields that are shared across multiple services.
type CommonConfig struct {
	RedisAddrs     []string      `env:"REDIS_ADDRS" envSeparator:"," envDefault:"redis-cluster-headless.minecraft-cluster.svc.cluster.local:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisOnlineTTL time.Duration `env:"REDIS_ONLINE_TTL" envDefault:"15s"`

	MongoDBConnStr           string `env:"MONGODB_CONN_STR" envDefault:"mongodb://mongodb-service:27017"`
	MongoDBDatabase          string `env:"MONGODB_DATABASE" envDefault:"minestom"`
	MongoDBCoursesCollection string `env:"MONGODB_COURSES_COLLECTION" envDefault:"courses"`
}

// BackupConfig configures the optional S3 upload of the file-backend document.
type BackupConfig struct {
	Enabled         bool          `env:"TIMER_BACKUP_ENABLED" envDefault:"false"`
	Interval        time.Duration `env:"TIMER_BACKUP_INTERVAL" envDefault:"1h"`
	Timeout         time.Duration `env:"TIMER_BACKUP_TIMEOUT" envDefault:"60s"`
	Endpoint        string        `env:"TIMER_BACKUP_ENDPOINT"`
	Region          string        `env:"TIMER_BACKUP_REGION" envDefault:"auto"`
	Bucket          string        `env:"TIMER_BACKUP_BUCKET"`
	Prefix          string        `env:"TIMER_BACKUP_PREFIX" envDefault:"timer"`
	AccessKeyID     string        `env:"TIMER_BACKUP_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"TIMER_BACKUP_SECRET_ACCESS_KEY"`
}

// TimerServiceConfig holds configuration specific to the timer-service.
type TimerServiceConfig struct {
	CommonConfig
	Backup BackupConfig

	ListenAddr  string `env:"TIMER_SERVICE_LISTEN_ADDR" envDefault:":8083"`
	ServicePort int

	StorageBackend string `env:"TIMER_STORAGE_BACKEND" envDefault:"file"`
	StorageFile    string `env:"TIMER_STORAGE_FILE" envDefault:"data/stats.json"`
	SQLitePath     string `env:"TIMER_SQLITE_PATH" envDefault:"data/stats.db"`
	PostgresDSN    string `env:"TIMER_POSTGRES_DSN"`

	CountdownSeconds  int           `env:"TIMER_COUNTDOWN_SECONDS" envDefault:"3"`
	CountdownInterval time.Duration `env:"TIMER_COUNTDOWN_INTERVAL" envDefault:"1s"`
	EvaluationMode    string        `env:"TIMER_EVALUATION_MODE" envDefault:"tick"`
	TickInterval      time.Duration `env:"TIMER_TICK_INTERVAL" envDefault:"50ms"`

	SnapshotInterval     time.Duration `env:"TIMER_SNAPSHOT_INTERVAL" envDefault:"30s"`
	CourseReloadInterval time.Duration `env:"TIMER_COURSE_RELOAD_INTERVAL" envDefault:"1m"`
	PresenceEnabled      bool          `env:"TIMER_PRESENCE_ENABLED" envDefault:"false"`
	PresenceInterval     time.Duration `env:"TIMER_PRESENCE_INTERVAL" envDefault:"10s"`

	PersistWorkers int           `env:"TIMER_PERSIST_WORKERS" envDefault:"4"`
	PersistQueue   int           `env:"TIMER_PERSIST_QUEUE" envDefault:"256"`
	PersistTimeout time.Duration `env:"TIMER_PERSIST_TIMEOUT" envDefault:"5s"`

	CoursesSource string `env:"TIMER_COURSES_SOURCE" envDefault:"file"`
	CoursesFile   string `env:"TIMER_COURSES_FILE" envDefault:"data/courses.json"`

	ShutdownTimeout time.Duration `env:"TIMER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// loadDotEnv loads a .env file if present. A missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	log.Println("INFO: Loaded environment from .env")
	return nil
}

// ParseEnv fills target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadTimerServiceConfig loads configuration for the timer-service.
func LoadTimerServiceConfig() (*TimerServiceConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &TimerServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	for i, addr := range cfg.RedisAddrs {
		cfg.RedisAddrs[i] = strings.TrimSpace(addr)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.EvaluationMode = strings.ToLower(strings.TrimSpace(cfg.EvaluationMode))
	cfg.CoursesSource = strings.ToLower(strings.TrimSpace(cfg.CoursesSource))

	port, err := extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from TIMER_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}
	cfg.ServicePort = port

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *TimerServiceConfig) Validate() error {
	switch c.StorageBackend {
	case BackendFile:
		if c.StorageFile == "" {
			return fmt.Errorf("TIMER_STORAGE_FILE must be set for the file backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("TIMER_SQLITE_PATH must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("TIMER_POSTGRES_DSN must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("TIMER_STORAGE_BACKEND must be one of file, sqlite, postgres (got %q)", c.StorageBackend)
	}

	switch c.EvaluationMode {
	case ModeTick, ModeEvent:
	default:
		return fmt.Errorf("TIMER_EVALUATION_MODE must be tick or event (got %q)", c.EvaluationMode)
	}

	switch c.CoursesSource {
	case CoursesFromFile, CoursesFromMongo:
	default:
		return fmt.Errorf("TIMER_COURSES_SOURCE must be file or mongo (got %q)", c.CoursesSource)
	}

	if c.CountdownSeconds < 0 {
		return fmt.Errorf("TIMER_COUNTDOWN_SECONDS must not be negative (got %d)", c.CountdownSeconds)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TIMER_TICK_INTERVAL must be positive (got %s)", c.TickInterval)
	}
	if c.CountdownInterval <= 0 {
		return fmt.Errorf("TIMER_COUNTDOWN_INTERVAL must be positive (got %s)", c.CountdownInterval)
	}
	if c.PersistWorkers <= 0 {
		return fmt.Errorf("TIMER_PERSIST_WORKERS must be a positive integer (got %d)", c.PersistWorkers)
	}
	if c.PresenceEnabled && len(c.RedisAddrs) == 0 {
		return fmt.Errorf("REDIS_ADDRS must be set when TIMER_PRESENCE_ENABLED is true")
	}
	if c.Backup.Enabled {
		if c.StorageBackend != BackendFile {
			return fmt.Errorf("TIMER_BACKUP_ENABLED requires the file backend (got %q)", c.StorageBackend)
		}
		if c.Backup.Bucket == "" || c.Backup.Endpoint == "" {
			return fmt.Errorf("TIMER_BACKUP_BUCKET and TIMER_BACKUP_ENDPOINT must be set when backups are enabled")
		}
	}
	return nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8083" -> 8083, "0.0.0.0:8083" -> 8083)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}
