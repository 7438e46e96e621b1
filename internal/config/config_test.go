package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"modcompat/internal/indirect"
	"modcompat/internal/refgraph"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Logging.Format != "human" || cfg.Logging.Level != "info" {
		t.Errorf("Logging = %+v, want human/info", cfg.Logging)
	}
	if cfg.Graph.MaxDepth != refgraph.MaxDepth {
		t.Errorf("Graph.MaxDepth = %d, want %d", cfg.Graph.MaxDepth, refgraph.MaxDepth)
	}
	if cfg.Indirect.SharedRootMinDependents != 5 {
		t.Errorf("Indirect.SharedRootMinDependents = %d, want 5", cfg.Indirect.SharedRootMinDependents)
	}
	if cfg.Patches.DefaultPriority != 400 {
		t.Errorf("Patches.DefaultPriority = %d, want 400", cfg.Patches.DefaultPriority)
	}
	if len(cfg.Direct.CoreEntityTypes) == 0 {
		t.Error("Direct.CoreEntityTypes should have defaults")
	}
	if !cfg.Export.Compress {
		t.Error("Export.Compress should default to true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unsupported version", func(c *Config) { c.Version = 7 }, "version"},
		{"pretty format", func(c *Config) { c.Logging.Format = "pretty" }, ""},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"uppercase level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"zero depth", func(c *Config) { c.Graph.MaxDepth = 0 }, "graph.maxDepth"},
		{"negative workers", func(c *Config) { c.Graph.Workers = -1 }, "graph.workers"},
		{"zero shared root threshold", func(c *Config) { c.Indirect.SharedRootMinDependents = 0 }, "indirect.sharedRootMinDependents"},
		{"known disabled rule", func(c *Config) { c.Indirect.DisabledRules = []string{indirect.PatternAdditiveStacking} }, ""},
		{"unknown disabled rule", func(c *Config) { c.Indirect.DisabledRules = []string{"NOPE"} }, "indirect.disabledRules"},
		{"negative priority", func(c *Config) { c.Patches.DefaultPriority = -1 }, "patches.defaultPriority"},
		{"zero identifier length", func(c *Config) { c.Patches.MinIdentifierLength = 0 }, "patches.minIdentifierLength"},
		{"negative weight", func(c *Config) { c.Relevance.Weights.Keyword = -1 }, "relevance.weights"},
		{"inverted clamp", func(c *Config) { c.Relevance.Total.Min = 10 }, "relevance.total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() returned unexpected error: %v", err)
				}
				return
			}

			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error = %v (%T), want *ConfigError", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{
		Field:   "version",
		Message: "unsupported config version 99",
	}

	got := err.Error()
	want := "config error in field 'version': unsupported config version 99"

	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d (default)", cfg.Version, CurrentVersion)
	}
	if cfg.Graph.MaxDepth != refgraph.MaxDepth {
		t.Errorf("Graph.MaxDepth = %d, want %d", cfg.Graph.MaxDepth, refgraph.MaxDepth)
	}
	if len(cfg.Indirect.ApplyEffectTags) != len(indirect.DefaultOptions().ApplyEffectTags) {
		t.Errorf("Indirect.ApplyEffectTags = %v", cfg.Indirect.ApplyEffectTags)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ".modcompat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create .modcompat dir: %v", err)
	}

	configContent := `{
		"version": 1,
		"logging": {"format": "json", "level": "debug"},
		"graph": {"maxDepth": 4},
		"indirect": {"sharedRootMinDependents": 3}
	}`

	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("Logging = %+v, want json/debug", cfg.Logging)
	}
	if cfg.Graph.MaxDepth != 4 {
		t.Errorf("Graph.MaxDepth = %d, want 4", cfg.Graph.MaxDepth)
	}
	if cfg.Indirect.SharedRootMinDependents != 3 {
		t.Errorf("Indirect.SharedRootMinDependents = %d, want 3", cfg.Indirect.SharedRootMinDependents)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Patches.DefaultPriority != 400 {
		t.Errorf("Patches.DefaultPriority = %d, want 400", cfg.Patches.DefaultPriority)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ".modcompat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(tmpDir); err == nil {
		t.Error("LoadConfig() should fail on malformed JSON")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MODCOMPAT_LOGGING_LEVEL", "warn")
	t.Setenv("MODCOMPAT_GRAPH_MAXDEPTH", "3")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Graph.MaxDepth != 3 {
		t.Errorf("Graph.MaxDepth = %d, want 3", cfg.Graph.MaxDepth)
	}
}

func TestConfig_Save(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Graph.MaxDepth = 7
	cfg.Export.Compress = false

	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(Path(tmpDir)); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	loaded, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() after save error = %v", err)
	}

	if loaded.Graph.MaxDepth != 7 {
		t.Errorf("Loaded Graph.MaxDepth = %d, want 7", loaded.Graph.MaxDepth)
	}
	if loaded.Export.Compress {
		t.Error("Loaded Export.Compress = true, want false")
	}
}

func TestDatabasePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"default", "", filepath.Join("root", ".modcompat", "modcompat.db")},
		{"relative", "data/facts.db", filepath.Join("root", "data", "facts.db")},
		{"absolute", "/var/lib/facts.db", "/var/lib/facts.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" && tt.name == "absolute" {
				t.Skip("absolute unix path")
			}
			cfg := DefaultConfig()
			cfg.Database.Path = tt.path
			if got := cfg.DatabasePath("root"); got != tt.want {
				t.Errorf("DatabasePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestEngineOptions(t *testing.T) {
	tmpDir := t.TempDir()
	profile := "name = \"strict\"\n\n[weights]\nconnectivity = 2.0\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "strict.toml"), []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Graph.MaxDepth = 6
	cfg.Graph.Workers = 2
	cfg.Relevance.ProfilePath = "strict.toml"
	cfg.Relevance.Weights.Keyword = 3
	cfg.Relevance.Total.Min = -10
	cfg.Relevance.Total.Max = 10

	opts, err := cfg.EngineOptions(tmpDir)
	if err != nil {
		t.Fatalf("EngineOptions() error = %v", err)
	}

	if opts.Graph.MaxDepth != 6 || opts.Graph.Workers != 2 {
		t.Errorf("Graph = %+v, want depth 6 with 2 workers", opts.Graph)
	}
	p := opts.Profile
	if p == nil || p.Name != "strict" {
		t.Fatalf("Profile = %+v, want strict", p)
	}
	if p.Weights.Connectivity != 2.0 || p.Weights.Keyword != 3 {
		t.Errorf("Weights = %+v, want connectivity 2 and keyword 3", p.Weights)
	}
	if p.Total.Min != -10 || p.Total.Max != 10 {
		t.Errorf("Total = %+v, want [-10, 10]", p.Total)
	}
}

func TestEngineOptions_BadProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relevance.ProfilePath = "missing.toml"

	_, err := cfg.EngineOptions(t.TempDir())
	if cfgErr, ok := err.(*ConfigError); !ok || cfgErr.Field != "relevance.profilePath" {
		t.Errorf("EngineOptions() error = %v, want relevance.profilePath ConfigError", err)
	}
}
