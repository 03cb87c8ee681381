package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHAT_TASKS_SERVER_PORT
const EnvPrefix = "CHAT_TASKS"

// Timer backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the application's configuration
type Config struct {
	DataDir   string           `mapstructure:"data_dir"`
	Server    ServerConfig     `mapstructure:"server"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Timer     TimerConfig      `mapstructure:"timer"`
	Model     chat.ModelConfig `mapstructure:"model"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Log       LogConfig        `mapstructure:"log"`
	Tracing   TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Workers       int           `mapstructure:"workers"`
	RetentionDays int           `mapstructure:"retention_days"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

// Retention returns how long executions are kept. Zero disables pruning.
func (s SchedulerConfig) Retention() time.Duration {
	if s.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

type TimerConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	Prefix    string `mapstructure:"prefix"`
}

type NotifyConfig struct {
	DiscordWebhook string `mapstructure:"discord_webhook"`
	SlackWebhook   string `mapstructure:"slack_webhook"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// DBPath returns the SQLite database location
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tasks.db")
}

// PIDPath returns the daemon PID file location
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "daemon.pid")
}

// Loader reads configuration and can watch the config file for changes
type Loader struct {
	v    *viper.Viper
	file string

	mu      sync.Mutex
	watched bool
}

// DefaultDataDir returns the data directory, honouring CHAT_TASKS_DATA
func DefaultDataDir() string {
	if dir := os.Getenv(EnvPrefix + "_DATA"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chat-tasks"
	}
	return filepath.Join(home, ".chat-tasks")
}

// NewLoader creates a loader. file may be empty to search the data dir and
// the working directory for config.yaml.
func NewLoader(file string) *Loader {
	_ = godotenv.Load() // ignore error if .env not found

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
	}
	return &Loader{v: v, file: file}
}

func setDefaults(v *viper.Viper) {
	d := chat.DefaultConfig()
	dataDir := DefaultDataDir()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.retention_days", 30)
	v.SetDefault("scheduler.prune_schedule", "@daily")
	v.SetDefault("timer.backend", BackendSQLite)
	v.SetDefault("timer.redis_addr", "localhost:6379")
	v.SetDefault("timer.redis_db", 0)
	v.SetDefault("timer.prefix", "chat-tasks")
	v.SetDefault("model.provider", d.Provider)
	v.SetDefault("model.base_url", d.BaseURL)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.model", d.Model)
	v.SetDefault("model.temperature", d.Temperature)
	v.SetDefault("model.max_tokens", d.MaxTokens)
	v.SetDefault("notify.discord_webhook", "")
	v.SetDefault("notify.slack_webhook", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.console", true)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "chat-tasks")
}

// Load reads the config file if present and applies environment overrides
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || l.file != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.DataDir, "chat-tasks.log")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Scheduler.Workers <= 0 {
		problems = append(problems, "scheduler.workers must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		problems = append(problems, "scheduler.poll_interval must be positive")
	}
	switch c.Timer.Backend {
	case BackendSQLite, BackendRedis:
	default:
		problems = append(problems, fmt.Sprintf("timer.backend %q must be sqlite or redis", c.Timer.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConfigFile returns the file that was read, or "" when none was found
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. It does nothing when no file was read.
func (l *Loader) Watch(fn func(*Config, fsnotify.Event)) {
	if l.ConfigFile() == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watched {
		return
	}
	l.watched = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := &Config{}
		if err := l.v.Unmarshal(cfg); err != nil {
			return
		}
		if cfg.Model.APIKey == "" {
			cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		fn(cfg, e)
	})
	l.v.WatchConfig()
}
