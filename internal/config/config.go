package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverLegacy   = "legacy"
)

// Duration lets YAML carry durations in the "3s" form.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DatabaseConfig declares one named database and its connection style.
type DatabaseConfig struct {
	// Driver selects the backend: "postgres" (pooled) or "legacy"
	// (ad-hoc with bounded retry).
	Driver        string   `yaml:"driver"`
	DSN           string   `yaml:"dsn"`
	RetryAttempts int      `yaml:"retry_attempts,omitempty"`
	RetryBackoff  Duration `yaml:"retry_backoff,omitempty"`
}

// SyncFile is the YAML document declaring databases and sync jobs.
type SyncFile struct {
	Databases map[string]DatabaseConfig `yaml:"databases"`
	Jobs      []models.SyncJob          `yaml:"jobs"`
}

type Config struct {
	ServerPort    string
	RedisURL      string // optional; enables the cross-replica cycle lock
	JWTSecret     string
	LogLevel      string
	LogPretty     bool
	SyncInterval  time.Duration
	SnapshotDir   string
	RetentionDays int
	Databases     map[string]DatabaseConfig
	Jobs          []models.SyncJob
}

// Retention returns the archive retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func LoadConfig() (*Config, error) {
	intervalStr := getEnv("SYNC_INTERVAL", "30s")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, errors.New("invalid SYNC_INTERVAL format")
	}

	retentionDays, err := strconv.Atoi(getEnv("SNAPSHOT_RETENTION_DAYS", "30"))
	if err != nil || retentionDays < 1 {
		return nil, errors.New("invalid SNAPSHOT_RETENTION_DAYS")
	}

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnv("LOG_PRETTY", "false") == "true",
		SyncInterval:  interval,
		SnapshotDir:   getEnv("SNAPSHOT_DIR", "./snapshots"),
		RetentionDays: retentionDays,
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	file, err := LoadSyncFile(getEnv("SYNC_CONFIG", "sync.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Databases = file.Databases
	cfg.Jobs = file.Jobs

	return cfg, nil
}

// LoadSyncFile reads and validates the YAML job declarations.
func LoadSyncFile(path string) (*SyncFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync config %s: %w", path, err)
	}

	var file SyncFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sync config %s: %w", path, err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *SyncFile) Validate() error {
	if len(f.Jobs) == 0 {
		return errors.New("sync config declares no jobs")
	}
	for name, db := range f.Databases {
		if db.Driver != DriverPostgres && db.Driver != DriverLegacy {
			return fmt.Errorf("database %q: unknown driver %q", name, db.Driver)
		}
		if db.DSN == "" {
			return fmt.Errorf("database %q: dsn is required", name)
		}
	}
	for _, job := range f.Jobs {
		if _, ok := f.Databases[job.SourceKey]; !ok {
			return fmt.Errorf("job source %q is not a declared database", job.SourceKey)
		}
		dest, ok := f.Databases[job.DestinationKey]
		if !ok {
			return fmt.Errorf("job destination %q is not a declared database", job.DestinationKey)
		}
		if dest.Driver != DriverPostgres {
			return fmt.Errorf("job destination %q must use the postgres driver", job.DestinationKey)
		}
		if len(job.Tables) == 0 {
			return fmt.Errorf("job %s -> %s declares no tables", job.SourceKey, job.DestinationKey)
		}
		for _, t := range job.Tables {
			if t.Name == "" || t.KeyField == "" {
				return fmt.Errorf("job %s: every table needs a name and a key_field", job.SourceKey)
			}
			if len(t.Columns) > 0 && !slices.Contains(t.Columns, t.KeyField) {
				return fmt.Errorf("job %s: table %s columns must include key_field %q",
					job.SourceKey, t.Name, t.KeyField)
			}
		}
	}
	return nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
