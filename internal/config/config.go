package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"nsefeed/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the nsefeed service. It is built
// once at startup and passed explicitly to every component.
type Config struct {
	SFTP     SFTP     `yaml:"sftp"`
	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	Watcher  Watcher  `yaml:"watcher"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// SFTP holds exchange endpoint access. Hosts is an ordered list; the client
// permutes it on every connect and fails over host by host. KeyPath is the
// preferred auth method; Pass is the fallback.
type SFTP struct {
	Hosts          []string `yaml:"hosts"`
	Port           int      `yaml:"port"`
	User           string   `yaml:"user"`
	Pass           string   `yaml:"pass"`
	KeyPath        string   `yaml:"key_path"`
	RemotePath     string   `yaml:"remote_path"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Database holds the Postgres DSN parts. When Host is empty the service
// falls back to the embedded SQLite store at Storage.SQLitePath.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Storage holds local persistence paths.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	Archive    bool   `yaml:"archive"`
}

// Watcher controls the snapshot polling loop.
type Watcher struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// Server holds the subscriber endpoint listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides. A missing
// file is not an error; the configuration can be assembled entirely from the
// environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SFTP_HOSTS"); v != "" {
		cfg.SFTP.Hosts = splitHosts(v)
	}
	if v := os.Getenv("SFTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SFTP.Port = n
		}
	}
	if v := os.Getenv("SFTP_USER"); v != "" {
		cfg.SFTP.User = v
	}
	if v := os.Getenv("SFTP_PASS"); v != "" {
		cfg.SFTP.Pass = v
	}
	if v := os.Getenv("KEY_PATH"); v != "" {
		cfg.SFTP.KeyPath = v
	}
	if v := os.Getenv("SFTP_REMOTE_PATH"); v != "" {
		cfg.SFTP.RemotePath = v
	}

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watcher.PollIntervalSeconds = n
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SFTP.Port == 0 {
		cfg.SFTP.Port = 22
	}
	if cfg.SFTP.TimeoutSeconds == 0 {
		cfg.SFTP.TimeoutSeconds = 60
	}
	if cfg.Watcher.PollIntervalSeconds == 0 {
		cfg.Watcher.PollIntervalSeconds = 60
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// splitHosts parses a comma-separated host list, dropping empty entries.
func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects configurations the service cannot start with. These are
// the only fatal errors in the system; everything after startup is retried.
func (c *Config) Validate() error {
	if len(c.SFTP.Hosts) == 0 {
		return domain.Fatal("config", errors.New("no SFTP hosts configured"))
	}
	if c.SFTP.User == "" {
		return domain.Fatal("config", errors.New("no SFTP user configured"))
	}
	if c.SFTP.KeyPath == "" && c.SFTP.Pass == "" {
		return domain.Fatal("config", errors.New("no SFTP auth method: need key_path or pass"))
	}
	if c.SFTP.RemotePath == "" {
		return domain.Fatal("config", errors.New("no SFTP remote path configured"))
	}
	if c.Database.Host == "" && c.Storage.SQLitePath == "" {
		return domain.Fatal("config", errors.New("no database target: need DB_HOST or sqlite_path"))
	}
	return nil
}

// DSN assembles the Postgres connection string from the Database section.
func (c *Config) DSN() string {
	return "postgres://" + c.Database.Username + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + strconv.Itoa(c.Database.Port) +
		"/" + c.Database.Name
}
