package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"modcompat/internal/config"
)

var (
	configFormat   string
	configShowDiff bool
	configForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage modcompat configuration",
	Long:  "View and manage modcompat configuration stored in .modcompat/config.json",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Write the default configuration to .modcompat/config.json.

Examples:
  modcompat config init
  modcompat config init --force   # overwrite an existing file`,
	Run: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration, after environment overrides.

Examples:
  modcompat config show              # Pretty-print current config
  modcompat config show --format json
  modcompat config show --diff       # Only show non-default values`,
	Run: runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (json, human)")
	configShowCmd.Flags().BoolVar(&configShowDiff, "diff", false, "Only show non-default values")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponse is the response format for config show
type ConfigShowResponse struct {
	ConfigPath   string                 `json:"configPath,omitempty"`
	UsedDefaults bool                   `json:"usedDefaults"`
	Config       map[string]interface{} `json:"config"`
}

func runConfigInit(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	path := config.Path(repoRoot)

	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(os.Stderr, "Config already exists at %s (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(repoRoot); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)

	path := config.Path(repoRoot)
	usedDefaults := false
	if _, err := os.Stat(path); err != nil {
		usedDefaults = true
		path = ""
	}

	configMap := toMap(cfg)
	if configShowDiff {
		configMap = computeDiff(configMap, toMap(config.DefaultConfig()))
	}

	if configFormat == "json" {
		response := ConfigShowResponse{
			ConfigPath:   path,
			UsedDefaults: usedDefaults,
			Config:       configMap,
		}
		output, err := json.MarshalIndent(response, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Println("modcompat Configuration")
	fmt.Println(strings.Repeat("─", 50))
	if usedDefaults {
		fmt.Println("Source: defaults (no config file found)")
	} else {
		fmt.Printf("Source: %s\n", path)
	}
	fmt.Println()
	if configShowDiff && len(configMap) == 0 {
		fmt.Println("All settings are at their defaults.")
		return
	}
	printConfigMap(configMap, "")
}

func toMap(cfg *config.Config) map[string]interface{} {
	data, err := json.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling config: %v\n", err)
		os.Exit(1)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling config: %v\n", err)
		os.Exit(1)
	}
	return m
}

// computeDiff returns the entries of current that differ from defaults.
func computeDiff(current, defaults map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})
	for key, val := range current {
		def, ok := defaults[key]
		if !ok {
			diff[key] = val
			continue
		}
		curMap, curIsMap := val.(map[string]interface{})
		defMap, defIsMap := def.(map[string]interface{})
		if curIsMap && defIsMap {
			if sub := computeDiff(curMap, defMap); len(sub) > 0 {
				diff[key] = sub
			}
			continue
		}
		curJSON, _ := json.Marshal(val)
		defJSON, _ := json.Marshal(def)
		if string(curJSON) != string(defJSON) {
			diff[key] = val
		}
	}
	return diff
}

func printConfigMap(m map[string]interface{}, prefix string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := m[k].(map[string]interface{}); ok {
			printConfigMap(sub, key)
			continue
		}
		val, _ := json.Marshal(m[k])
		fmt.Printf("  %-40s %s\n", key, val)
	}
}
