package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// RemoteConfig points the engine at the remote task service.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token"`
	ListID  string   `yaml:"list_id"`
	Timeout Duration `yaml:"timeout"`
}

// ProviderConfig selects and configures the messaging provider.
// Mode is either "http" (real gateway) or "simulator"; the choice is
// made once at construction, call sites never branch on it.
type ProviderConfig struct {
	Mode     string   `yaml:"mode"`
	BaseURL  string   `yaml:"base_url"`
	Instance string   `yaml:"instance"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig tunes the deterministic provider simulator.
type SimulatorConfig struct {
	SuccessRate float64  `yaml:"success_rate"`
	Latency     Duration `yaml:"latency"`
	Seed        int64    `yaml:"seed"`
}

// SyncConfig holds the reconciler knobs.
type SyncConfig struct {
	MaxAttempts        int      `yaml:"max_attempts"`
	BackoffBase        Duration `yaml:"backoff_base"`
	BackoffCap         Duration `yaml:"backoff_cap"`
	RateLimitThreshold int      `yaml:"rate_limit_threshold"`
}

// NotifyConfig holds the scheduler and dispatcher knobs.
type NotifyConfig struct {
	DedupWindow         Duration `yaml:"dedup_window"`
	DueSoonLookahead    Duration `yaml:"due_soon_lookahead"`
	OverdueRescanPeriod Duration `yaml:"overdue_rescan_period"`
	ScanInterval        Duration `yaml:"scan_interval"`
	MaxDeliveryAttempts int      `yaml:"max_delivery_attempts"`
	BackoffBase         Duration `yaml:"backoff_base"`
	BackoffCap          Duration `yaml:"backoff_cap"`
	Workers             int      `yaml:"workers"`
	QueueSize           int      `yaml:"queue_size"`
}

// MappingConfig is the immutable translation table set. It is loaded once
// at startup and passed into components by value; nothing mutates it.
type MappingConfig struct {
	// StatusMap maps raw remote status strings to normalized values,
	// e.g. "in progress" -> "in_progress".
	StatusMap map[string]string `yaml:"status_map"`
	// PriorityMap maps normalized priority ordinals to remote ones.
	// Empty means identity.
	PriorityMap map[int]int `yaml:"priority_map"`
	// CustomFields maps list id -> field name -> remote field id.
	CustomFields map[string]map[string]string `yaml:"custom_fields"`
	// Recipients maps assignee refs to messaging addresses.
	Recipients map[string]string `yaml:"recipients"`
}

type Config struct {
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	MQ       MQConfig       `yaml:"mq"`
	Server   ServerConfig   `yaml:"server"`
	Remote   RemoteConfig   `yaml:"remote"`
	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
	Mapping  MappingConfig  `yaml:"mapping"`
}

// Load reads the yaml config at path and applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.BackoffBase <= 0 {
		c.Sync.BackoffBase = Duration(2 * time.Second)
	}
	if c.Sync.BackoffCap <= 0 {
		c.Sync.BackoffCap = Duration(60 * time.Second)
	}
	if c.Sync.RateLimitThreshold <= 0 {
		c.Sync.RateLimitThreshold = 3
	}
	if c.Notify.DedupWindow <= 0 {
		c.Notify.DedupWindow = Duration(time.Hour)
	}
	if c.Notify.DueSoonLookahead <= 0 {
		c.Notify.DueSoonLookahead = Duration(24 * time.Hour)
	}
	if c.Notify.OverdueRescanPeriod <= 0 {
		c.Notify.OverdueRescanPeriod = Duration(24 * time.Hour)
	}
	if c.Notify.ScanInterval <= 0 {
		c.Notify.ScanInterval = Duration(time.Minute)
	}
	if c.Notify.MaxDeliveryAttempts <= 0 {
		c.Notify.MaxDeliveryAttempts = 5
	}
	if c.Notify.BackoffBase <= 0 {
		c.Notify.BackoffBase = Duration(time.Second)
	}
	if c.Notify.BackoffCap <= 0 {
		c.Notify.BackoffCap = Duration(30 * time.Second)
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 4
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 256
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = Duration(30 * time.Second)
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = Duration(15 * time.Second)
	}
	if c.Provider.Mode == "" {
		c.Provider.Mode = "simulator"
	}
	if c.Provider.Simulator.SuccessRate == 0 {
		c.Provider.Simulator.SuccessRate = 1.0
	}
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if token := os.Getenv("REMOTE_API_TOKEN"); token != "" {
		cfg.Remote.Token = token
	}
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if mode := os.Getenv("PROVIDER_MODE"); mode != "" {
		cfg.Provider.Mode = mode
	}
}
