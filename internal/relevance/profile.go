package relevance

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Weights multiply each sub-score before they are summed.
type Weights struct {
	Connectivity      float64 `toml:"connectivity" json:"connectivity" mapstructure:"connectivity"`
	EntityType        float64 `toml:"entity_type" json:"entityType" mapstructure:"entityType"`
	ModCrossReference float64 `toml:"mod_cross_reference" json:"modCrossReference" mapstructure:"modCrossReference"`
	Keyword           float64 `toml:"keyword" json:"keyword" mapstructure:"keyword"`
}

// Range is an inclusive clamp.
type Range struct {
	Min float64 `toml:"min" json:"min" mapstructure:"min"`
	Max float64 `toml:"max" json:"max" mapstructure:"max"`
}

func (r Range) clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Keyword is one keyword table entry. Artifact keywords mark debug, test or
// already-dead code and should carry a negative multiplier.
type Keyword struct {
	Word       string  `toml:"word"`
	Points     float64 `toml:"points"`
	Multiplier float64 `toml:"multiplier"`
	Artifact   bool    `toml:"artifact"`
}

// ConnectivityPoints feed the connectivity sub-score.
type ConnectivityPoints struct {
	PerUse     float64 `toml:"per_use"`
	UsageCap   float64 `toml:"usage_cap"`
	EntryPoint float64 `toml:"entry_point"`
}

// CrossReferencePoints feed the cross-reference sub-score.
type CrossReferencePoints struct {
	BinaryPatch float64 `toml:"binary_patch"`
	DataOverlay float64 `toml:"data_overlay"`
	ModCode     float64 `toml:"mod_code"`
}

// Penalties are fixed, non-positive artifact penalties.
type Penalties struct {
	Unreachable float64 `toml:"unreachable"`
	DebugOrTest float64 `toml:"debug_or_test"`
	TodoNote    float64 `toml:"todo_note"`
}

// Profile holds every scoring constant.
type Profile struct {
	Name           string               `toml:"name"`
	Weights        Weights              `toml:"weights"`
	Total          Range                `toml:"total"`
	Connectivity   ConnectivityPoints   `toml:"connectivity"`
	CrossReference CrossReferencePoints `toml:"cross_reference"`
	EntityTypes    map[string]float64   `toml:"entity_types"`
	Keywords       []Keyword            `toml:"keywords"`
	Penalties      Penalties            `toml:"penalties"`
}

// Sub-score bounds.
var (
	connectivityRange   = Range{Min: 0, Max: 100}
	entityTypeRange     = Range{Min: 0, Max: 50}
	crossReferenceRange = Range{Min: 0, Max: 50}
	keywordRange        = Range{Min: -20, Max: 40}
	penaltyRange        = Range{Min: -40, Max: 0}
)

// DefaultProfile returns the built-in scoring profile.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Weights: Weights{
			Connectivity:      1.0,
			EntityType:        1.2,
			ModCrossReference: 1.5,
			Keyword:           0.8,
		},
		Total: Range{Min: -50, Max: 150},
		Connectivity: ConnectivityPoints{
			PerUse:     5,
			UsageCap:   60,
			EntryPoint: 40,
		},
		CrossReference: CrossReferencePoints{
			BinaryPatch: 30,
			DataOverlay: 15,
			ModCode:     10,
		},
		EntityTypes: map[string]float64{
			"progression":    50,
			"perk":           45,
			"skill":          45,
			"entity_class":   40,
			"item":           35,
			"buff":           35,
			"loot_group":     30,
			"loot_container": 30,
			"recipe":         25,
			"block":          20,
			"class":          20,
			"sound":          5,
			"ui":             5,
			"window":         5,
		},
		Keywords: []Keyword{
			{Word: "player", Points: 10, Multiplier: 1.5},
			{Word: "damage", Points: 10, Multiplier: 1.0},
			{Word: "health", Points: 10, Multiplier: 1.0},
			{Word: "save", Points: 10, Multiplier: 1.5},
			{Word: "network", Points: 10, Multiplier: 1.2},
			{Word: "debug", Points: 10, Multiplier: -1.0, Artifact: true},
			{Word: "test", Points: 10, Multiplier: -1.0, Artifact: true},
			{Word: "obsolete", Points: 10, Multiplier: -1.5, Artifact: true},
		},
		Penalties: Penalties{
			Unreachable: -20,
			DebugOrTest: -15,
			TodoNote:    -10,
		},
	}
}

// LoadProfile reads a TOML profile. Keys absent from the file keep their
// default values; unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	p := DefaultProfile()
	md, err := toml.Decode(string(data), p)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse profile: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return p, nil
}

// Validate checks that the profile is usable.
func (p *Profile) Validate() error {
	if p.Total.Min > p.Total.Max {
		return fmt.Errorf("total.min %.1f exceeds total.max %.1f", p.Total.Min, p.Total.Max)
	}
	for name, w := range map[string]float64{
		"connectivity":        p.Weights.Connectivity,
		"entity_type":         p.Weights.EntityType,
		"mod_cross_reference": p.Weights.ModCrossReference,
		"keyword":             p.Weights.Keyword,
	} {
		if w < 0 {
			return fmt.Errorf("weights.%s must not be negative", name)
		}
	}
	for i, k := range p.Keywords {
		if strings.TrimSpace(k.Word) == "" {
			return fmt.Errorf("keywords[%d]: word is required", i)
		}
	}
	if p.Penalties.Unreachable > 0 || p.Penalties.DebugOrTest > 0 || p.Penalties.TodoNote > 0 {
		return fmt.Errorf("penalties must not be positive")
	}
	return nil
}
