package direct

import "strings"

// Pattern ids emitted by the direct conflict analyzer.
const (
	PatternSameTarget      = "DIRECT_SAME_TARGET"
	PatternEditVsRemove    = "DIRECT_EDIT_VS_REMOVE"
	PatternContestedEntity = "DIRECT_CONTESTED_ENTITY"
)

// Classification describes how the writes in a same-target group relate.
type Classification string

const (
	RealConflict  Classification = "REAL_CONFLICT"
	SameValue     Classification = "SAME_VALUE"
	Complementary Classification = "COMPLEMENTARY"
)

// Outcome of an edit/remove pair after load order is applied.
type Outcome string

const (
	RemoverWins Outcome = "REMOVER_WINS"
	EditorWins  Outcome = "EDITOR_WINS"
)

// Options configures the direct analyzer.
type Options struct {
	// CoreEntityTypes are entity types whose collisions rank Medium.
	CoreEntityTypes []string `json:"coreEntityTypes" mapstructure:"coreEntityTypes"`
	// ReservedPrefixes are entity-name prefixes for base archetypes that
	// many mods touch.
	ReservedPrefixes []string `json:"reservedPrefixes" mapstructure:"reservedPrefixes"`
}

// DefaultOptions returns the default core types and reserved prefixes.
func DefaultOptions() Options {
	return Options{
		CoreEntityTypes:  []string{"progression", "perk", "skill", "loot_group", "loot_container"},
		ReservedPrefixes: []string{"player", "zombieTemplate", "animalTemplate", "npcTemplate"},
	}
}

func (o Options) isCoreType(entityType string) bool {
	for _, t := range o.CoreEntityTypes {
		if strings.EqualFold(t, entityType) {
			return true
		}
	}
	return false
}

func (o Options) isReserved(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range o.ReservedPrefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Winner is the operation that takes effect for a conflict key.
type Winner struct {
	ConflictKey string   `json:"conflictKey"`
	Selector    string   `json:"selector"`
	TargetFile  string   `json:"targetFile,omitempty"`
	ModID       string   `json:"modId"`
	LoadOrder   int      `json:"loadOrder"`
	Kind        string   `json:"kind"`
	Value       *string  `json:"value,omitempty"`
	Overridden  []string `json:"overridden"`
}
