package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	KillWatch KillWatchConfig `yaml:"killwatch"`
}

// KillWatchConfig is the project configuration.
type KillWatchConfig struct {
	Feed     FeedConfig     `yaml:"feed"`
	ESI      ESIConfig      `yaml:"esi"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Filter   FilterConfig   `yaml:"filter"`
	Threat   ThreatConfig   `yaml:"threat"`
	Rules    RulesConfig    `yaml:"rules"`
	Presence PresenceConfig `yaml:"presence"`
	Universe UniverseConfig `yaml:"universe"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Notify   NotifyConfig   `yaml:"notify"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FeedConfig controls the kill feed source.
type FeedConfig struct {
	Mode           string        `yaml:"mode"` // redisq|redis
	URL            string        `yaml:"url"`
	QueueID        string        `yaml:"queue_id"`
	TTW            int           `yaml:"ttw_seconds"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RateLimitWait  time.Duration `yaml:"rate_limit_wait"`
	ErrorWindow    time.Duration `yaml:"error_window"`
	ErrorThreshold int           `yaml:"error_threshold"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	CursorEvery    int           `yaml:"cursor_every"`
	Redis          RedisConfig   `yaml:"redis"`
}

// RedisConfig controls a Redis connection.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// ESIConfig controls the kill detail client.
type ESIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`
}

// StoreConfig controls local persistence.
type StoreConfig struct {
	Path            string        `yaml:"path"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PipelineConfig controls queue sizing and the writer loop.
type PipelineConfig struct {
	IngestQueueSize int           `yaml:"ingest_queue_size"`
	FetchQueueSize  int           `yaml:"fetch_queue_size"`
	FetchWorkers    int           `yaml:"fetch_workers"`
	WriteBatchSize  int           `yaml:"write_batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

// FilterConfig controls the pre-fetch admission filter.
type FilterConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Radius         int           `yaml:"radius"`
	PresenceWindow time.Duration `yaml:"presence_window"`
}

// ThreatConfig controls gatecamp detection.
type ThreatConfig struct {
	Window         time.Duration `yaml:"window"`
	LongWindow     time.Duration `yaml:"long_window"`
	MinKills       int           `yaml:"min_kills"`
	HighKills      int           `yaml:"high_kills"`
	OverlapMedium  float64       `yaml:"overlap_medium"`
	OverlapHigh    float64       `yaml:"overlap_high"`
	Cooldown       time.Duration `yaml:"cooldown"`
	MaxKills       int           `yaml:"max_kills"`
	SmartbombTypes []int32       `yaml:"smartbomb_types"`
}

// RulesConfig controls notification rules.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PresenceConfig controls the watched-entity sighting index.
type PresenceConfig struct {
	Mode  string        `yaml:"mode"` // memory|redis
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

// UniverseConfig controls the topology oracle.
type UniverseConfig struct {
	Mode      string        `yaml:"mode"` // esi|static
	MapFile   string        `yaml:"map_file"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Flag      string        `yaml:"flag"` // shortest|secure|insecure
	CacheSize int           `yaml:"cache_size"`
}

// ProfilesConfig controls the notification profile set.
type ProfilesConfig struct {
	Path            string        `yaml:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// NotifyConfig controls the dispatcher.
type NotifyConfig struct {
	QueueSize       int                          `yaml:"queue_size"`
	RetryAttempts   int                          `yaml:"retry_attempts"`
	RetryBackoff    time.Duration                `yaml:"retry_backoff"`
	SendTimeout     time.Duration                `yaml:"send_timeout"`
	RollupThreshold int                          `yaml:"rollup_threshold"`
	RollupMax       int                          `yaml:"rollup_max"`
	DrainTimeout    time.Duration                `yaml:"drain_timeout"`
	ThrottleWindow  time.Duration                `yaml:"throttle_window"`
	Destinations    map[string]DestinationConfig `yaml:"destinations"`
}

// DestinationConfig describes one delivery endpoint.
type DestinationConfig struct {
	Mode    string            `yaml:"mode"` // webhook|file
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Path    string            `yaml:"path"`
}

// ArchiveConfig controls the enriched kill tee.
type ArchiveConfig struct {
	Mode       string                 `yaml:"mode"` // none|file|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig controls the metrics and status HTTP listener.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration problems as human-readable strings. It runs
// after defaults are applied, so only genuinely unresolvable settings show up.
func Validate(cfg *Config) []string {
	var problems []string
	kw := &cfg.KillWatch

	switch kw.Feed.Mode {
	case "", "redisq":
		if kw.Feed.URL == "" {
			problems = append(problems, "feed.url is required in redisq mode")
		}
	case "redis":
		if kw.Feed.Redis.Key == "" {
			problems = append(problems, "feed.redis.key is required in redis mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown feed.mode %q (want redisq or redis)", kw.Feed.Mode))
	}

	if kw.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}

	switch kw.Presence.Mode {
	case "", "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown presence.mode %q (want memory or redis)", kw.Presence.Mode))
	}

	switch kw.Universe.Mode {
	case "", "esi":
	case "static":
		if kw.Universe.MapFile == "" {
			problems = append(problems, "universe.map_file is required in static mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown universe.mode %q (want esi or static)", kw.Universe.Mode))
	}

	switch kw.Archive.Mode {
	case "", "none":
	case "file":
		if kw.Archive.File.Path == "" {
			problems = append(problems, "archive.file.path is required in file mode")
		}
	case "clickhouse":
		if kw.Archive.ClickHouse.URL == "" {
			problems = append(problems, "archive.clickhouse.url is required in clickhouse mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown archive.mode %q (want none, file or clickhouse)", kw.Archive.Mode))
	}

	for name, dest := range kw.Notify.Destinations {
		switch dest.Mode {
		case "webhook":
			if dest.URL == "" {
				problems = append(problems, fmt.Sprintf("destination %q: url is required in webhook mode", name))
			}
		case "file":
			if dest.Path == "" {
				problems = append(problems, fmt.Sprintf("destination %q: path is required in file mode", name))
			}
		default:
			problems = append(problems, fmt.Sprintf("destination %q: unknown mode %q (want webhook or file)", name, dest.Mode))
		}
	}

	return problems
}

// envOverrides are settings that may come from the environment instead of the
// config file, mainly secrets and per-deployment identifiers.
type envOverrides struct {
	QueueID            string `env:"KILLWATCH_QUEUE_ID"`
	FeedURL            string `env:"KILLWATCH_FEED_URL"`
	RedisAddr          string `env:"KILLWATCH_REDIS_ADDR"`
	RedisPassword      string `env:"KILLWATCH_REDIS_PASSWORD"`
	StorePath          string `env:"KILLWATCH_STORE_PATH"`
	ClickHousePassword string `env:"KILLWATCH_CLICKHOUSE_PASSWORD"`
	LogLevel           string `env:"KILLWATCH_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto a loaded config. Unset
// variables leave the file values untouched.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return err
	}

	kw := &cfg.KillWatch
	if ov.QueueID != "" {
		kw.Feed.QueueID = ov.QueueID
	}
	if ov.FeedURL != "" {
		kw.Feed.URL = ov.FeedURL
	}
	if ov.RedisAddr != "" {
		kw.Feed.Redis.Addr = ov.RedisAddr
		kw.Presence.Redis.Addr = ov.RedisAddr
	}
	if ov.RedisPassword != "" {
		kw.Feed.Redis.Password = ov.RedisPassword
		kw.Presence.Redis.Password = ov.RedisPassword
	}
	if ov.StorePath != "" {
		kw.Store.Path = ov.StorePath
	}
	if ov.ClickHousePassword != "" {
		kw.Archive.ClickHouse.Password = ov.ClickHousePassword
	}
	if ov.LogLevel != "" {
		kw.Logging.Level = ov.LogLevel
	}

	return nil
}
