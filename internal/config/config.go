package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration errors
var (
	ErrMissingBotToken    = errors.New("bot token is required")
	ErrMissingChatID      = errors.New("at least one chat id is required")
	ErrMissingPercents    = errors.New("at least one traffic percent threshold is required")
	ErrInvalidPercent     = errors.New("percent thresholds must be between 0 and 100")
	ErrInvalidInterval    = errors.New("poll interval must be positive")
	ErrInvalidProxy       = errors.New("invalid proxy url")
	ErrMissingServersFile = errors.New("servers file is required")
)

// Config holds runtime configuration for the watcher.
type Config struct {
	LogLevel string
	// Status server address (/health, /metrics, /thresholds). Empty disables it.
	HTTPAddr string

	Telegram TelegramConfig
	Notify   NotifyConfig
	Poll     PollConfig
	Kafka    KafkaConfig
	Influx   InfluxConfig
	Agent    AgentConfig
}

// TelegramConfig holds bot credentials
type TelegramConfig struct {
	BotToken string
	APIBase  string
	Timeout  time.Duration
}

// NotifyConfig holds alert thresholds and destinations.
// TrafficPercents is always sorted descending once loaded.
type NotifyConfig struct {
	TrafficPercents []int
	CPUPercent      int
	RAMPercent      int
	ChatIDs         []int64
}

// PollConfig controls the fetch loop
type PollConfig struct {
	Interval           time.Duration
	ServersFile        string
	Proxy              string
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryDelay         time.Duration
	InsecureSkipVerify bool
}

// KafkaConfig configures the alert event stream. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Producer ProducerConfig
}

// ProducerConfig tunes the kafka writer pool
type ProducerConfig struct {
	PoolSize     int
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
	MaxRetries   int
	RetryBackoff time.Duration
}

// InfluxConfig configures the stats time-series sink. Empty URL disables it.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// AgentConfig configures the stats agent subcommand
type AgentConfig struct {
	Addr      string
	QuotaGB   float64
	CountMode string
	Token     string
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTPAddr: ":9108",
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			CPUPercent: 90,
			RAMPercent: 90,
		},
		Poll: PollConfig{
			Interval:           5 * time.Minute,
			ServersFile:        "servers.json",
			RequestTimeout:     20 * time.Second,
			MaxAttempts:        3,
			RetryDelay:         500 * time.Millisecond,
			InsecureSkipVerify: true,
		},
		Kafka: KafkaConfig{
			Topic: "trafficwatch.alerts",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Agent: AgentConfig{
			Addr:      ":8787",
			CountMode: "sum",
		},
	}
}

// SetDefaults registers defaults on v under the flat keys Load reads.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("telegram_api_base", d.Telegram.APIBase)
	v.SetDefault("telegram_timeout", d.Telegram.Timeout)
	v.SetDefault("notify_cpu_percent", d.Notify.CPUPercent)
	v.SetDefault("notify_ram_percent", d.Notify.RAMPercent)
	v.SetDefault("interval_minutes", int(d.Poll.Interval/time.Minute))
	v.SetDefault("servers_file", d.Poll.ServersFile)
	v.SetDefault("request_timeout", d.Poll.RequestTimeout)
	v.SetDefault("fetch_attempts", d.Poll.MaxAttempts)
	v.SetDefault("fetch_retry_delay", d.Poll.RetryDelay)
	v.SetDefault("insecure_skip_verify", d.Poll.InsecureSkipVerify)
	v.SetDefault("kafka_topic", d.Kafka.Topic)
	v.SetDefault("kafka_compression", d.Kafka.Producer.Compression)
	v.SetDefault("kafka_max_retries", d.Kafka.Producer.MaxRetries)
	v.SetDefault("agent_addr", d.Agent.Addr)
	v.SetDefault("agent_count_mode", d.Agent.CountMode)
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from v. Keys are flat snake_case so that the
// environment variables BOT_TOKEN, CHAT_ID, NOTIFY_TRAFFIC_PERCENTS, ... map
// directly once v.AutomaticEnv has been enabled.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	cfg.LogLevel = v.GetString("log_level")
	cfg.HTTPAddr = v.GetString("http_addr")

	cfg.Telegram.BotToken = strings.TrimSpace(v.GetString("bot_token"))
	cfg.Telegram.APIBase = strings.TrimRight(v.GetString("telegram_api_base"), "/")
	cfg.Telegram.Timeout = v.GetDuration("telegram_timeout")

	chatIDs, err := parseInt64List(v.GetString("chat_id"))
	if err != nil {
		return nil, fmt.Errorf("chat_id: %w", err)
	}
	cfg.Notify.ChatIDs = chatIDs

	percents, err := parseIntList(v.GetString("notify_traffic_percents"))
	if err != nil {
		return nil, fmt.Errorf("notify_traffic_percents: %w", err)
	}
	cfg.Notify.TrafficPercents = SortDescending(percents)
	cfg.Notify.CPUPercent = v.GetInt("notify_cpu_percent")
	cfg.Notify.RAMPercent = v.GetInt("notify_ram_percent")

	cfg.Poll.Interval = time.Duration(v.GetInt("interval_minutes")) * time.Minute
	cfg.Poll.ServersFile = v.GetString("servers_file")
	cfg.Poll.Proxy = strings.TrimSpace(v.GetString("proxy"))
	cfg.Poll.RequestTimeout = v.GetDuration("request_timeout")
	cfg.Poll.MaxAttempts = v.GetInt("fetch_attempts")
	cfg.Poll.RetryDelay = v.GetDuration("fetch_retry_delay")
	cfg.Poll.InsecureSkipVerify = v.GetBool("insecure_skip_verify")

	cfg.Kafka.Brokers = splitList(v.GetString("kafka_brokers"))
	cfg.Kafka.Topic = v.GetString("kafka_topic")
	cfg.Kafka.Producer.Compression = v.GetString("kafka_compression")
	cfg.Kafka.Producer.MaxRetries = v.GetInt("kafka_max_retries")

	cfg.Influx.URL = v.GetString("influx_url")
	cfg.Influx.Token = v.GetString("influx_token")
	cfg.Influx.Org = v.GetString("influx_org")
	cfg.Influx.Bucket = v.GetString("influx_bucket")

	cfg.Agent.Addr = v.GetString("agent_addr")
	cfg.Agent.QuotaGB = v.GetFloat64("agent_quota_gb")
	cfg.Agent.CountMode = v.GetString("agent_count_mode")
	cfg.Agent.Token = v.GetString("agent_token")

	return cfg, nil
}

// Validate checks the settings the watcher cannot run without
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if len(c.Notify.ChatIDs) == 0 {
		return ErrMissingChatID
	}
	if len(c.Notify.TrafficPercents) == 0 {
		return ErrMissingPercents
	}
	for _, p := range c.Notify.TrafficPercents {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: %d", ErrInvalidPercent, p)
		}
	}
	if c.Notify.CPUPercent > 100 || c.Notify.RAMPercent > 100 {
		return ErrInvalidPercent
	}
	if c.Poll.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.Poll.ServersFile == "" {
		return ErrMissingServersFile
	}
	if c.Poll.Proxy != "" {
		if u, err := url.Parse(c.Poll.Proxy); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidProxy, c.Poll.Proxy)
		}
	}
	return nil
}

// SortDescending returns a de-duplicated copy of percents in descending order
func SortDescending(percents []int) []int {
	seen := make(map[int]struct{}, len(percents))
	out := make([]int, 0, len(percents))
	for _, p := range percents {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntList(raw string) ([]int, error) {
	parts := splitList(raw)
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseInt64List(raw string) ([]int64, error) {
	parts := splitList(raw)
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
