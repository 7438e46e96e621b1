package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"modcompat/internal/direct"
	"modcompat/internal/engine"
	"modcompat/internal/indirect"
	"modcompat/internal/patches"
	"modcompat/internal/refgraph"
	"modcompat/internal/relevance"
	"modcompat/internal/slogutil"
	"modcompat/internal/storage"
)

// CurrentVersion is the config schema version written by DefaultConfig.
const CurrentVersion = 1

// EnvPrefix prefixes environment overrides, e.g. MODCOMPAT_LOGGING_LEVEL.
const EnvPrefix = "MODCOMPAT"

// Config represents the complete modcompat configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Database  DatabaseConfig   `json:"database" mapstructure:"database"`
	Logging   LoggingConfig    `json:"logging" mapstructure:"logging"`
	Graph     GraphConfig      `json:"graph" mapstructure:"graph"`
	Direct    direct.Options   `json:"direct" mapstructure:"direct"`
	Indirect  indirect.Options `json:"indirect" mapstructure:"indirect"`
	Patches   patches.Options  `json:"patches" mapstructure:"patches"`
	Relevance RelevanceConfig  `json:"relevance" mapstructure:"relevance"`
	Export    ExportConfig     `json:"export" mapstructure:"export"`
}

// DatabaseConfig locates the fact store
type DatabaseConfig struct {
	// Path overrides <root>/.modcompat/modcompat.db.
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"` // human | pretty | json
	Level  string `json:"level" mapstructure:"level"`
	// File, when set, also receives every record at info or above.
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// GraphConfig bounds closure construction
type GraphConfig struct {
	MaxDepth int `json:"maxDepth" mapstructure:"maxDepth"`
	// Workers is the BFS worker count; 0 means one per CPU.
	Workers int `json:"workers" mapstructure:"workers"`
}

// RelevanceConfig selects and tunes the scoring profile
type RelevanceConfig struct {
	// ProfilePath is a TOML profile, relative to the workspace root.
	ProfilePath string `json:"profilePath" mapstructure:"profilePath"`
	// Non-zero weights override the profile's.
	Weights relevance.Weights `json:"weights" mapstructure:"weights"`
	// Total overrides the profile's clamp when Min < Max.
	Total relevance.Range `json:"total" mapstructure:"total"`
}

// ExportConfig contains report export defaults
type ExportConfig struct {
	Compress bool   `json:"compress" mapstructure:"compress"`
	Dir      string `json:"dir" mapstructure:"dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Graph: GraphConfig{
			MaxDepth: refgraph.MaxDepth,
			Workers:  0,
		},
		Direct:   direct.DefaultOptions(),
		Indirect: indirect.DefaultOptions(),
		Patches:  patches.DefaultOptions(),
		Export: ExportConfig{
			Compress: true,
			Dir:      filepath.Join(storage.DirName, "reports"),
		},
	}
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, storage.DirName, "config.json")
}

// LoadConfig loads configuration from .modcompat/config.json, applying
// MODCOMPAT_* environment overrides. A missing file yields the defaults
// (with overrides).
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	// Every key needs a default for AutomaticEnv to see it.
	setDefaults(v, "", reflect.ValueOf(*DefaultConfig()))

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, storage.DirName))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every leaf field of a config struct as a viper
// default, keyed by its mapstructure path.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Save writes the configuration to .modcompat/config.json
func (c *Config) Save(root string) error {
	configPath := Path(root)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	// Marshal to JSON with indentation
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}

	switch c.Logging.Format {
	case "human", "pretty", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q (want human, pretty or json)", c.Logging.Format)}
	}
	if _, err := slogutil.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}

	if c.Graph.MaxDepth < 1 {
		return &ConfigError{Field: "graph.maxDepth", Message: "must be at least 1"}
	}
	if c.Graph.Workers < 0 {
		return &ConfigError{Field: "graph.workers", Message: "must not be negative"}
	}

	if c.Indirect.SharedRootMinDependents < 1 {
		return &ConfigError{Field: "indirect.sharedRootMinDependents", Message: "must be at least 1"}
	}
	known := make(map[string]bool)
	for _, r := range indirect.Rules() {
		known[r.ID] = true
	}
	for _, id := range c.Indirect.DisabledRules {
		if !known[id] {
			return &ConfigError{Field: "indirect.disabledRules", Message: fmt.Sprintf("unknown rule %q", id)}
		}
	}

	if c.Patches.DefaultPriority < 0 {
		return &ConfigError{Field: "patches.defaultPriority", Message: "must not be negative"}
	}
	if c.Patches.MinIdentifierLength < 1 {
		return &ConfigError{Field: "patches.minIdentifierLength", Message: "must be at least 1"}
	}

	w := c.Relevance.Weights
	if w.Connectivity < 0 || w.EntityType < 0 || w.ModCrossReference < 0 || w.Keyword < 0 {
		return &ConfigError{Field: "relevance.weights", Message: "weights must not be negative"}
	}
	if c.Relevance.Total.Min > c.Relevance.Total.Max {
		return &ConfigError{Field: "relevance.total", Message: "min exceeds max"}
	}

	return nil
}

// DatabasePath returns the fact store path for root.
func (c *Config) DatabasePath(root string) string {
	if c.Database.Path == "" {
		return filepath.Join(root, storage.DirName, "modcompat.db")
	}
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(root, c.Database.Path)
}

// ExportDir returns the report directory for root.
func (c *Config) ExportDir(root string) string {
	if filepath.IsAbs(c.Export.Dir) {
		return c.Export.Dir
	}
	return filepath.Join(root, c.Export.Dir)
}

// EngineOptions converts the configuration into engine options, loading
// the scoring profile when one is configured.
func (c *Config) EngineOptions(root string) (engine.Options, error) {
	opts := engine.DefaultOptions()
	opts.Graph.MaxDepth = c.Graph.MaxDepth
	if c.Graph.Workers > 0 {
		opts.Graph.Workers = c.Graph.Workers
	}
	opts.Direct = c.Direct
	opts.Indirect = c.Indirect
	opts.Patches = c.Patches

	profile := relevance.DefaultProfile()
	if c.Relevance.ProfilePath != "" {
		path := c.Relevance.ProfilePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		p, err := relevance.LoadProfile(path)
		if err != nil {
			return engine.Options{}, &ConfigError{Field: "relevance.profilePath", Message: err.Error()}
		}
		profile = p
	}

	w := c.Relevance.Weights
	if w.Connectivity > 0 {
		profile.Weights.Connectivity = w.Connectivity
	}
	if w.EntityType > 0 {
		profile.Weights.EntityType = w.EntityType
	}
	if w.ModCrossReference > 0 {
		profile.Weights.ModCrossReference = w.ModCrossReference
	}
	if w.Keyword > 0 {
		profile.Weights.Keyword = w.Keyword
	}
	if c.Relevance.Total.Min < c.Relevance.Total.Max {
		profile.Total = c.Relevance.Total
	}
	opts.Profile = profile

	return opts, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
