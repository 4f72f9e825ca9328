package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Models   ModelsConfig   `mapstructure:"models" yaml:"models"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// SecurityConfig controls the bearer check on /v1.
// AuthDisabled is the only way to run without a key; an empty APIKey is
// rejected by Validate otherwise.
type SecurityConfig struct {
	APIKey       string `mapstructure:"api_key" yaml:"api_key"`
	AuthDisabled bool   `mapstructure:"auth_disabled" yaml:"auth_disabled"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`
	Format        string `mapstructure:"format" yaml:"format"`
	Output        string `mapstructure:"output" yaml:"output"`
	ConsoleOutput bool   `mapstructure:"console_output" yaml:"console_output"`
	MaxSize       int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge        int    `mapstructure:"max_age" yaml:"max_age"`
	Compress      bool   `mapstructure:"compress" yaml:"compress"`
}

type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
	BearerToken string        `mapstructure:"bearer_token" yaml:"bearer_token"`
}

type ModelsConfig struct {
	Default string            `mapstructure:"default" yaml:"default"`
	OwnedBy string            `mapstructure:"owned_by" yaml:"owned_by"`
	Routes  map[string]string `mapstructure:"routes" yaml:"routes"`
}

type StreamConfig struct {
	ChunkSize int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	Delay     time.Duration `mapstructure:"delay" yaml:"delay"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// DefaultRoutes is the built-in model table used when models.routes is empty.
var DefaultRoutes = map[string]string{
	"teleprompt-reason":   "/api/v1/prompt/optimize_reason_auth",
	"teleprompt-standard": "/api/v1/prompt/optimize_auth",
	"teleprompt-apps":     "/api/v1/prompt/optimize_apps_auth",
}

const (
	DefaultModel        = "teleprompt-reason"
	DefaultOwner        = "teleprompt2api"
	DefaultStreamDelay  = 10 * time.Millisecond
	DefaultChunkSize    = 2
	DefaultMetricsPath  = "/metrics"
	defaultConfigFile   = "./config.yaml"
	defaultUserAgentFmt = "teleprompt2api/%s"
)

// Version is reported in the default upstream User-Agent.
var Version = "dev"

// BindEnv wires environment overrides into viper. Every leaf key is bound
// (SERVER_PORT, STREAM_DELAY, ...) so Unmarshal sees variables even when the
// file lacks the key. API_MASTER_KEY is kept as an alias for security.api_key.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		if key == "security.api_key" {
			continue
		}
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("security.api_key", "SECURITY_API_KEY", "API_MASTER_KEY")
}

// configKeys lists the dotted viper keys of every scalar field under t.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := prefix + f.Tag.Get("mapstructure")
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, configKeys(f.Type, key+".")...)
		case reflect.Map:
			// models.routes only comes from the file
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg, err := build(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// build unmarshals v and applies defaults without validating.
func build(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// metrics.enabled defaults to true; a plain bool can't tell unset from false
	if !v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = true
	}

	setDefaults(&cfg)

	// an explicit zero delay turns pacing off
	if v.IsSet("stream.delay") {
		cfg.Stream.Delay = v.GetDuration("stream.delay")
	}

	return &cfg, nil
}

// LoadOrCreate loads the config file, writing a default one first if none exists.
// Flags and environment bound into viper apply to the written file too.
func LoadOrCreate() (*Config, error) {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = defaultConfigFile
	}

	if _, err := os.Stat(configFile); err == nil {
		cfg, err := Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
		}
		return cfg, nil
	}

	fmt.Println("\n⚠️  Config file not found, creating default config...")

	cfg, err := build(viper.GetViper())
	if err != nil {
		return nil, err
	}

	if cfg.Security.APIKey == "" && !cfg.Security.AuthDisabled {
		cfg.Security.APIKey = GenerateAPIKey()
		fmt.Printf("\n🔑 Generated API key: %s\n", cfg.Security.APIKey)
		fmt.Println("   Clients must send it as: Authorization: Bearer <key>")
	}

	if err := SaveConfig(cfg); err != nil {
		fmt.Printf("\n⚠️  Warning: Failed to save config file: %v\n", err)
		fmt.Println("   Continuing with in-memory config...")
	} else {
		fmt.Printf("\n✅ Config file created: %s\n", configFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the user-facing sections to the active config file.
func SaveConfig(cfg *Config) error {
	viper.Set("server", cfg.Server)
	viper.Set("security", cfg.Security)
	viper.Set("logging", cfg.Logging)
	viper.Set("upstream", cfg.Upstream)
	viper.Set("models", cfg.Models)
	viper.Set("stream", cfg.Stream)
	viper.Set("metrics", cfg.Metrics)

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPath = defaultConfigFile
	}

	return viper.WriteConfigAs(configPath)
}

// GenerateAPIKey returns a fresh random key in the usual sk- form.
func GenerateAPIKey() string {
	return "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func setDefaults(cfg *Config) {
	// 服务器配置
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8045
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// long pseudo-streams outlive the usual 30s
		cfg.Server.WriteTimeout = 5 * time.Minute
	}

	// 日志配置
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/teleprompt2api.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	// 上游配置
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 60 * time.Second
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = fmt.Sprintf(defaultUserAgentFmt, Version)
	}
	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")

	// 模型路由
	if len(cfg.Models.Routes) == 0 {
		cfg.Models.Routes = make(map[string]string, len(DefaultRoutes))
		for name, path := range DefaultRoutes {
			cfg.Models.Routes[name] = path
		}
	}
	if cfg.Models.Default == "" {
		cfg.Models.Default = DefaultModel
	}
	if cfg.Models.OwnedBy == "" {
		cfg.Models.OwnedBy = DefaultOwner
	}

	// 伪流式
	if cfg.Stream.ChunkSize == 0 {
		cfg.Stream.ChunkSize = DefaultChunkSize
	}
	if cfg.Stream.Delay == 0 {
		cfg.Stream.Delay = DefaultStreamDelay
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "teleprompt2api"
	}
}

// Default returns a configuration with every default applied and no upstream set.
func Default() *Config {
	cfg := &Config{}
	cfg.Metrics.Enabled = true
	setDefaults(cfg)
	return cfg
}

// Validate reports the first configuration problem found.
func (cfg *Config) Validate() error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url must be set")
	}
	if !cfg.Security.AuthDisabled && cfg.Security.APIKey == "" {
		return errors.New("security.api_key is required unless security.auth_disabled is true")
	}
	if cfg.Stream.ChunkSize < 1 {
		return fmt.Errorf("invalid stream.chunk_size: %d", cfg.Stream.ChunkSize)
	}
	if cfg.Stream.Delay < 0 {
		return fmt.Errorf("invalid stream.delay: %s", cfg.Stream.Delay)
	}
	if _, ok := cfg.Models.Routes[cfg.Models.Default]; !ok {
		return fmt.Errorf("default model %q has no route", cfg.Models.Default)
	}
	return nil
}
