package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Search     SearchConfig     `mapstructure:"search"`
	Voice      VoiceConfig      `mapstructure:"voice"`
	Context    ContextConfig    `mapstructure:"context"`
	Triggers   TriggersConfig   `mapstructure:"triggers"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token           string        `mapstructure:"token"`
	AdminID         int64         `mapstructure:"admin_id"`
	Webhook         WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout   int           `mapstructure:"update_timeout"`
	MinGroupMembers int           `mapstructure:"min_group_members"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

// BackendConfig describes the OpenAI-compatible completion endpoint.
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	MaxHistory   int           `mapstructure:"max_history"`
	SessionIdle  time.Duration `mapstructure:"session_idle"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Temperature  float32       `mapstructure:"temperature"`
}

type SearchConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	CX              string        `mapstructure:"cx"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	ScrapeURL       string        `mapstructure:"scrape_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FilteredDomains []string      `mapstructure:"filtered_domains"`
	ImageCount      int           `mapstructure:"image_count"`
}

type VoiceConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	VoiceID string        `mapstructure:"voice_id"`
	BaseURL string        `mapstructure:"base_url"`
	ModelID string        `mapstructure:"model_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ContextConfig tunes the per (chat, user) conversational context store.
type ContextConfig struct {
	StoragePath     string        `mapstructure:"storage_path"`
	TTL             time.Duration `mapstructure:"ttl"`
	MaxBuckets      int           `mapstructure:"max_buckets"`
	MaxEntries      int           `mapstructure:"max_entries"`
	PromptHistory   int           `mapstructure:"prompt_history"`
	SaveProbability float64       `mapstructure:"save_probability"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type TriggersConfig struct {
	BotUserID         int64           `mapstructure:"bot_user_id"`
	RandomReplyChance float64         `mapstructure:"random_reply_chance"`
	SearchTrigger     string          `mapstructure:"search_trigger"`
	SearchContextMax  int             `mapstructure:"search_context_max"`
	Actions           []ActionKeyword `mapstructure:"actions"`
}

// ActionKeyword is one keyword table row; order in the list is match order.
type ActionKeyword struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

type LimitsConfig struct {
	UserDaily int           `mapstructure:"user_daily"`
	ChatDaily int           `mapstructure:"chat_daily"`
	Window    time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type WorkersConfig struct {
	Size  int `mapstructure:"size"`
	Queue int `mapstructure:"queue"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("bot.admin_id", "ADMIN_ID")
	v.BindEnv("backend.api_key", "LLM_API_KEY")
	v.BindEnv("backend.base_url", "LLM_BASE_URL")
	v.BindEnv("search.api_key", "SEARCH_API_KEY")
	v.BindEnv("search.cx", "SEARCH_CX")
	v.BindEnv("voice.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("voice.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if len(config.Triggers.Actions) == 0 {
		config.Triggers.Actions = DefaultActions()
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.min_group_members", 5)

	v.SetDefault("backend.base_url", "https://api.openai.com/v1")
	v.SetDefault("backend.model", "gpt-4o-mini")
	v.SetDefault("backend.max_history", 10)
	v.SetDefault("backend.session_idle", time.Hour)
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("backend.temperature", 0.7)

	v.SetDefault("search.api_base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.scrape_url", "https://www.google.com/search")
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("search.filtered_domains", []string{".ru"})
	v.SetDefault("search.image_count", 5)

	v.SetDefault("voice.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("voice.model_id", "eleven_multilingual_v2")
	v.SetDefault("voice.timeout", 30*time.Second)

	v.SetDefault("context.storage_path", "data/context_storage.json")
	v.SetDefault("context.ttl", time.Hour)
	v.SetDefault("context.max_buckets", 1000)
	v.SetDefault("context.max_entries", 10)
	v.SetDefault("context.prompt_history", 5)
	v.SetDefault("context.save_probability", 0.1)
	v.SetDefault("context.sweep_interval", time.Hour)

	v.SetDefault("triggers.random_reply_chance", 0.03)
	v.SetDefault("triggers.search_trigger", "найди")
	v.SetDefault("triggers.search_context_max", 1000)

	v.SetDefault("limits.user_daily", 100)
	v.SetDefault("limits.chat_daily", 300)
	v.SetDefault("limits.window", 24*time.Hour)

	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_size", 100)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("workers.size", 4)
	v.SetDefault("workers.queue", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "ru")
	v.SetDefault("i18n.languages", []string{"ru", "en"})
}

// DefaultActions returns the built-in keyword tables in match order.
func DefaultActions() []ActionKeyword {
	return []ActionKeyword{
		{Name: "voice_generation", Keywords: []string{"расскажи", "озвучь", "прочитай", "скажи голосом", "озвучь текст", "скажи", "голосом"}},
		{Name: "image_search", Keywords: []string{"картинка", "картинку", "изображение", "фото", "найди картинку", "покажи фото"}},
		{Name: "internet_search", Keywords: []string{"загугли", "поищи в интернете"}},
		{Name: "bot_mention", Keywords: []string{"ami", "ами", "@ami"}},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Triggers.RandomReplyChance < 0 || cfg.Triggers.RandomReplyChance > 1 {
		return fmt.Errorf("triggers.random_reply_chance must be within [0, 1], got %v", cfg.Triggers.RandomReplyChance)
	}
	if cfg.Context.SaveProbability < 0 || cfg.Context.SaveProbability > 1 {
		return fmt.Errorf("context.save_probability must be within [0, 1], got %v", cfg.Context.SaveProbability)
	}
	if cfg.Context.TTL <= 0 {
		return fmt.Errorf("context.ttl must be positive")
	}
	if cfg.Context.MaxBuckets <= 0 || cfg.Context.MaxEntries <= 0 {
		return fmt.Errorf("context.max_buckets and context.max_entries must be positive")
	}
	if cfg.Workers.Size <= 0 {
		return fmt.Errorf("workers.size must be positive")
	}
	return nil
}
