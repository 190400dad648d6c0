package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config" toml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Models      []ModelConfig             `json:"models" yaml:"models" toml:"models"`
	Storage     StorageConfig             `json:"storage" yaml:"storage" toml:"storage"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
	Minio       MinioConfig               `json:"minio" yaml:"minio" toml:"minio"`
	Flows       FlowsConfig               `json:"flows" yaml:"flows" toml:"flows"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

// ModelConfig maps a catalog id shown to users onto a provider model.
type ModelConfig struct {
	ID       string `json:"id" yaml:"id" toml:"id"`
	Name     string `json:"name" yaml:"name" toml:"name"`
	Provider string `json:"provider" yaml:"provider" toml:"provider"`
	Model    string `json:"model" yaml:"model" toml:"model"`
	Default  bool   `json:"default" yaml:"default" toml:"default"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address" toml:"server_address"`
	LogDir            string `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	LogLevel          string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers" toml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers" toml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout" toml:"worker_idle_timeout"` // seconds
	RequestTimeout    int    `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`             // seconds, 0 disables
}

// StorageConfig selects where the dialog store persists its keys.
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // sqlite3 | mysql | redis | memory
	Profile string `json:"profile" yaml:"profile" toml:"profile"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DBName   string `json:"db_name" yaml:"db_name" toml:"db_name"`
	Params   string `json:"params" yaml:"params" toml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	TTL      int    `json:"ttl" yaml:"ttl" toml:"ttl"` // seconds, 0 keeps keys forever
}

type MinioConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Secure    bool   `json:"secure" yaml:"secure" toml:"secure"`
}

// FlowsConfig tunes the model-backed flows.
type FlowsConfig struct {
	ImageStrategy      string       `json:"image_strategy" yaml:"image_strategy" toml:"image_strategy"` // rewrite | two-pass
	ImageModel         string       `json:"image_model" yaml:"image_model" toml:"image_model"`
	MinDataURIBytes    int          `json:"min_data_uri_bytes" yaml:"min_data_uri_bytes" toml:"min_data_uri_bytes"`
	Safety             SafetyConfig `json:"safety" yaml:"safety" toml:"safety"`
	ImageToolRate      RateConfig   `json:"image_tool_rate" yaml:"image_tool_rate" toml:"image_tool_rate"`
	MaxToolRounds      int          `json:"max_tool_rounds" yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	DefaultTemperature float32      `json:"default_temperature" yaml:"default_temperature" toml:"default_temperature"`
	MaxUploadBytes     int64        `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`
}

// SafetyConfig holds one block threshold per harm category.
type SafetyConfig struct {
	HateSpeech       string `json:"hate_speech" yaml:"hate_speech" toml:"hate_speech"`
	DangerousContent string `json:"dangerous_content" yaml:"dangerous_content" toml:"dangerous_content"`
	Harassment       string `json:"harassment" yaml:"harassment" toml:"harassment"`
	SexuallyExplicit string `json:"sexually_explicit" yaml:"sexually_explicit" toml:"sexually_explicit"`
}

type RateConfig struct {
	PerMinute int `json:"per_minute" yaml:"per_minute" toml:"per_minute"`
	Burst     int `json:"burst" yaml:"burst" toml:"burst"`
}

const (
	ThresholdBlockOnlyHigh       = "BLOCK_ONLY_HIGH"
	ThresholdBlockMediumAndAbove = "BLOCK_MEDIUM_AND_ABOVE"

	ImageStrategyRewrite = "rewrite"
	ImageStrategyTwoPass = "two-pass"

	defaultMinDataURIBytes = 1024
	defaultImageModel      = "gemini-2.0-flash-exp"
	defaultMaxToolRounds   = 4
	defaultMaxUploadBytes  = 10 << 20
)

const defaultTemperature float32 = 0.7

// Load reads configuration from the provided path (defaults to config.json).
// The format follows the file extension: .yaml/.yml, .toml, anything else is JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	// .env next to the config is optional
	envPath := filepath.Join(filepath.Dir(absPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg, err := Parse(data, filepath.Ext(absPath))
	if err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) && isSQLite(name) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return cfg, nil
}

// Parse decodes raw config bytes, applies environment overrides and defaults, then validates.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for provider, env := range providerKeyEnv {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		p := c.Providers[provider]
		p.APIKey = key
		c.Providers[provider] = p
	}
	if addr := os.Getenv("MOONLIGHT_ADDR"); addr != "" {
		c.BasicConfig.ServerAddress = addr
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Profile == "" {
		c.Storage.Profile = "default"
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "moonlight"
	}
	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}

	f := &c.Flows
	if f.ImageStrategy == "" {
		f.ImageStrategy = ImageStrategyRewrite
	}
	if f.ImageModel == "" {
		f.ImageModel = defaultImageModel
	}
	if f.MinDataURIBytes <= 0 {
		f.MinDataURIBytes = defaultMinDataURIBytes
	}
	if f.Safety.HateSpeech == "" {
		f.Safety.HateSpeech = ThresholdBlockOnlyHigh
	}
	if f.Safety.DangerousContent == "" {
		f.Safety.DangerousContent = ThresholdBlockMediumAndAbove
	}
	if f.Safety.Harassment == "" {
		f.Safety.Harassment = ThresholdBlockMediumAndAbove
	}
	if f.Safety.SexuallyExplicit == "" {
		f.Safety.SexuallyExplicit = ThresholdBlockMediumAndAbove
	}
	if f.ImageToolRate.PerMinute <= 0 {
		f.ImageToolRate.PerMinute = 5
	}
	if f.ImageToolRate.Burst <= 0 {
		f.ImageToolRate.Burst = 2
	}
	if f.MaxToolRounds <= 0 {
		f.MaxToolRounds = defaultMaxToolRounds
	}
	if f.DefaultTemperature <= 0 {
		f.DefaultTemperature = defaultTemperature
	}
	if f.MaxUploadBytes <= 0 {
		f.MaxUploadBytes = defaultMaxUploadBytes
	}
}

// Validate rejects configurations the flows cannot honour.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"hate_speech":       c.Flows.Safety.HateSpeech,
		"dangerous_content": c.Flows.Safety.DangerousContent,
		"harassment":        c.Flows.Safety.Harassment,
		"sexually_explicit": c.Flows.Safety.SexuallyExplicit,
	} {
		if value != ThresholdBlockOnlyHigh && value != ThresholdBlockMediumAndAbove {
			return fmt.Errorf("flows.safety.%s: unsupported threshold %q", name, value)
		}
	}
	switch c.Flows.ImageStrategy {
	case ImageStrategyRewrite, ImageStrategyTwoPass:
	default:
		return fmt.Errorf("flows.image_strategy: unsupported value %q", c.Flows.ImageStrategy)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "redis":
	case "sqlite", "sqlite3", "mysql":
		if _, ok := c.Databases[c.Storage.Backend]; !ok {
			return fmt.Errorf("database config for %s not found", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		return errors.New("minio.endpoint must be configured when minio is enabled")
	}

	seen := make(map[string]struct{}, len(c.Models))
	defaults := 0
	for _, m := range c.Models {
		if m.ID == "" || m.Provider == "" {
			return fmt.Errorf("model entry %+v: id and provider are required", m)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("only one model may be marked default")
	}
	return nil
}

// DefaultModels is the catalog offered when none is configured.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: "moonlight-go", Name: "Moonlight Go", Provider: "gemini", Model: "gemini-1.5-flash"},
		{ID: "moonlight-lite", Name: "Moonlight Lite", Provider: "gemini", Model: "gemini-1.5-pro"},
		{ID: "moonlight", Name: "Moonlight", Provider: "gemini", Model: "gemini-2.0-flash", Default: true},
		{ID: "moonlight-flash", Name: "Moonlight Flash", Provider: "gemini", Model: "gemini-2.0-flash-lite"},
		{ID: "moonlight-pro", Name: "Moonlight Pro", Provider: "gemini", Model: "gemini-2.5-pro"},
	}
}

func isSQLite(name string) bool {
	n := strings.ToLower(name)
	return n == "sqlite" || n == "sqlite3"
}
