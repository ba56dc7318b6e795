package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.json"

// MinPollAttempts is the smallest accepted bound on artifact polls.
const MinPollAttempts = 60

// Interpolation modes accepted by the preprocessor.
const (
	InterpolationLinear   = "linear"
	InterpolationBilinear = "bilinear"
	InterpolationBicubic  = "bicubic"
	InterpolationLanczos  = "lanczos"
)

// Duration is a time.Duration that reads and writes as a string such as "1s".
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string such as "1m30s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		return d.Decode(v)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.Decode(s)
}

// Decode parses a duration string; it also satisfies envdecode.Decoder.
func (d *Duration) Decode(s string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ModelConfig locates the classifier artifact and its companion files.
type ModelConfig struct {
	OrtLibrary      string   `json:"ortLibrary" yaml:"ortLibrary" env:"NUTRISCAN_ORT_LIBRARY"`
	ArtifactURL     string   `json:"artifactUrl" yaml:"artifactUrl" env:"NUTRISCAN_MODEL_URL"`
	ArtifactPath    string   `json:"artifactPath" yaml:"artifactPath" env:"NUTRISCAN_MODEL_PATH"`
	VocabularyPath  string   `json:"vocabularyPath" yaml:"vocabularyPath" env:"NUTRISCAN_VOCABULARY_PATH"`
	MappingPath     string   `json:"mappingPath" yaml:"mappingPath" env:"NUTRISCAN_MAPPING_PATH"`
	PollInterval    Duration `json:"pollInterval" yaml:"pollInterval" env:"NUTRISCAN_POLL_INTERVAL"`
	PollAttempts    int      `json:"pollAttempts" yaml:"pollAttempts" env:"NUTRISCAN_POLL_ATTEMPTS"`
	DownloadTimeout Duration `json:"downloadTimeout" yaml:"downloadTimeout" env:"NUTRISCAN_DOWNLOAD_TIMEOUT"`
	LoadOnDemand    bool     `json:"loadOnDemand" yaml:"loadOnDemand" env:"NUTRISCAN_LOAD_ON_DEMAND"`
	InputName       string   `json:"inputName,omitempty" yaml:"inputName,omitempty" env:"NUTRISCAN_MODEL_INPUT"`
	OutputName      string   `json:"outputName,omitempty" yaml:"outputName,omitempty" env:"NUTRISCAN_MODEL_OUTPUT"`
	CacheSize       int      `json:"cacheSize" yaml:"cacheSize" env:"NUTRISCAN_CACHE_SIZE"`
}

// PreprocessConfig controls image preparation.
type PreprocessConfig struct {
	Interpolation string `json:"interpolation" yaml:"interpolation" env:"NUTRISCAN_INTERPOLATION"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" env:"NUTRISCAN_ADDR"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins" env:"NUTRISCAN_ALLOWED_ORIGINS"`
	MaxUploadBytes int64    `json:"maxUploadBytes" yaml:"maxUploadBytes" env:"NUTRISCAN_MAX_UPLOAD_BYTES"`
}

// DatabaseConfig selects the storage engine for users and results.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"NUTRISCAN_DB_DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"NUTRISCAN_DB_DSN"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	Secret   string   `json:"secret" yaml:"secret" env:"NUTRISCAN_SECRET_KEY"`
	TokenTTL Duration `json:"tokenTtl" yaml:"tokenTtl" env:"NUTRISCAN_TOKEN_TTL"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"NUTRISCAN_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"NUTRISCAN_LOG_FORMAT"`
}

// Config aggregates runtime settings persisted to config.json.
type Config struct {
	Model      ModelConfig      `json:"model" yaml:"model"`
	Preprocess PreprocessConfig `json:"preprocess" yaml:"preprocess"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Model.ArtifactPath == "" {
		c.Model.ArtifactPath = filepath.Join("model", "vitamin_deficiency_model.onnx")
	}
	if c.Model.VocabularyPath == "" {
		c.Model.VocabularyPath = filepath.Join("model", "class_indices.json")
	}
	if c.Model.MappingPath == "" {
		c.Model.MappingPath = filepath.Join("model", "vitamin_deficiency_data.csv")
	}
	if c.Model.PollInterval <= 0 {
		c.Model.PollInterval = Duration(time.Second)
	}
	if c.Model.PollAttempts == 0 {
		c.Model.PollAttempts = MinPollAttempts
	}
	if c.Model.DownloadTimeout <= 0 {
		c.Model.DownloadTimeout = Duration(10 * time.Minute)
	}
	if c.Model.CacheSize == 0 {
		c.Model.CacheSize = 256
	}
	if c.Preprocess.Interpolation == "" {
		c.Preprocess.Interpolation = InterpolationLinear
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{
			"https://neon-crumble-55544a.netlify.app",
			"http://localhost:3000",
		}
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "db.sqlite3"
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = "vitamin_secret_key"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = Duration(12 * time.Hour)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate rejects settings that defaults cannot repair.
func (c Config) Validate() error {
	if c.Model.PollAttempts < MinPollAttempts {
		return fmt.Errorf("pollAttempts %d is below the minimum of %d", c.Model.PollAttempts, MinPollAttempts)
	}
	switch c.Preprocess.Interpolation {
	case InterpolationLinear, InterpolationBilinear, InterpolationBicubic, InterpolationLanczos:
	default:
		return fmt.Errorf("unknown interpolation %q", c.Preprocess.Interpolation)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}
	return nil
}

// LoadConfig loads configuration from the given path or the default config.json,
// then applies .env and NUTRISCAN_* environment overrides.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := decodeConfig(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
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
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func applyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}
