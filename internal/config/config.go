package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the bridge.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	VK       VKConfig       `json:"vk" yaml:"vk"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
}

type GeneralConfig struct {
	LogLevel      string `json:"logLevel" yaml:"logLevel"`
	LogFormat     string `json:"logFormat" yaml:"logFormat"`
	LogFile       string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	LogMaxSizeMB  int    `json:"logMaxSizeMB" yaml:"logMaxSizeMB"`
	LogMaxBackups int    `json:"logMaxBackups" yaml:"logMaxBackups"`
	LogMaxAgeDays int    `json:"logMaxAgeDays" yaml:"logMaxAgeDays"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
}

type VKConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	// GroupID is detected from the token when 0.
	GroupID           int     `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
}

// AuthConfig restricts connection management commands to persons who
// authorised with the password.
type AuthConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

type RelayConfig struct {
	MediaGroupWindowMs     int `json:"mediaGroupWindowMs" yaml:"mediaGroupWindowMs"`
	MaxAlbumSize           int `json:"maxAlbumSize" yaml:"maxAlbumSize"`
	SendTimeoutSeconds     int `json:"sendTimeoutSeconds" yaml:"sendTimeoutSeconds"`
	DownloadTimeoutSeconds int `json:"downloadTimeoutSeconds" yaml:"downloadTimeoutSeconds"`
	MaxDownloadMB          int `json:"maxDownloadMB" yaml:"maxDownloadMB"`
	ShutdownGraceSeconds   int `json:"shutdownGraceSeconds" yaml:"shutdownGraceSeconds"`
	ForwardDepthLimit      int `json:"forwardDepthLimit" yaml:"forwardDepthLimit"`
	BusBufferSize          int `json:"busBufferSize" yaml:"busBufferSize"`
}

func (r RelayConfig) MediaGroupWindow() time.Duration {
	return time.Duration(r.MediaGroupWindowMs) * time.Millisecond
}

func (r RelayConfig) SendTimeout() time.Duration {
	return time.Duration(r.SendTimeoutSeconds) * time.Second
}

func (r RelayConfig) DownloadTimeout() time.Duration {
	return time.Duration(r.DownloadTimeoutSeconds) * time.Second
}

func (r RelayConfig) ShutdownGrace() time.Duration {
	return time.Duration(r.ShutdownGraceSeconds) * time.Second
}

func (r RelayConfig) MaxDownloadBytes() int64 {
	return int64(r.MaxDownloadMB) << 20
}

// HTTPConfig configures the keep-alive, health and metrics endpoint.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// Addr returns host:port for net/http.
func (h HTTPConfig) Addr() string {
	return h.Host + ":" + strconv.Itoa(h.Port)
}

// DefaultConfigDir returns the default config directory (~/.bridgebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridgebot"
	}
	return filepath.Join(home, ".bridgebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the config at path over the defaults, applies environment
// overrides and validates the result. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated parses the file at path over the defaults without
// environment overrides or validation.
func LoadUnvalidated(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv builds a config from the defaults and the environment alone, for
// deployments without a config file.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// Environment variables that override the config file. Setting a token
// also enables its adapter.
const (
	EnvTelegramToken = "BRIDGEBOT_TELEGRAM_TOKEN"
	EnvVKToken       = "BRIDGEBOT_VK_TOKEN"
	EnvVKGroupID     = "BRIDGEBOT_VK_GROUP_ID"
	EnvAuthPassword  = "BRIDGEBOT_AUTH_PASSWORD"
	EnvDBPath        = "BRIDGEBOT_DB_PATH"
	EnvPort          = "PORT"
)

// ApplyEnv applies the environment overrides to cfg.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv(EnvVKToken); v != "" {
		cfg.VK.Token = v
		cfg.VK.Enabled = true
	}
	if v := os.Getenv(EnvVKGroupID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVKGroupID, err)
		}
		cfg.VK.GroupID = id
	}
	if v := os.Getenv(EnvAuthPassword); v != "" {
		cfg.Auth.Password = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		// Platforms that set PORT expect the service on all interfaces.
		cfg.HTTP.Port = port
		cfg.HTTP.Host = "0.0.0.0"
		cfg.HTTP.Enabled = true
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// Tokens live in here.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if cfg.VK.Enabled && cfg.VK.Token == "" {
		errs = append(errs, "vk.token is required when vk is enabled")
	}
	if cfg.VK.GroupID < 0 {
		errs = append(errs, "vk.groupId must be a positive community id")
	}
	if cfg.VK.RequestsPerSecond <= 0 || cfg.VK.RequestsPerSecond > 20 {
		errs = append(errs, "vk.requestsPerSecond must be in (0, 20]")
	}
	if cfg.Auth.Enabled && cfg.Auth.Password == "" {
		errs = append(errs, "auth.password is required when auth is enabled")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}

	r := cfg.Relay
	if r.MediaGroupWindowMs < 100 {
		errs = append(errs, "relay.mediaGroupWindowMs must be >= 100")
	}
	if r.MaxAlbumSize < 2 || r.MaxAlbumSize > 10 {
		errs = append(errs, "relay.maxAlbumSize must be between 2 and 10")
	}
	for name, v := range map[string]int{
		"relay.sendTimeoutSeconds":     r.SendTimeoutSeconds,
		"relay.downloadTimeoutSeconds": r.DownloadTimeoutSeconds,
		"relay.maxDownloadMB":          r.MaxDownloadMB,
		"relay.shutdownGraceSeconds":   r.ShutdownGraceSeconds,
		"relay.forwardDepthLimit":      r.ForwardDepthLimit,
		"relay.busBufferSize":          r.BusBufferSize,
	} {
		if v < 1 {
			errs = append(errs, name+" must be >= 1")
		}
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
