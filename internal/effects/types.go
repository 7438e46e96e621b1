package effects

import "strings"

// Pattern ids emitted by the effect conflict analyzer.
const (
	PatternOperationMismatch = "EFFECT_OPERATION_MISMATCH"
	PatternSetVsAdd          = "EFFECT_SET_VS_ADD"
	PatternAdditiveStacking  = "EFFECT_ADDITIVE_STACKING"
	PatternScaleMix          = "EFFECT_SCALE_MIX"
	PatternTriggerVariable   = "EFFECT_TRIGGER_VARIABLE"
	PatternPartialEdit       = "EFFECT_PARTIAL_EDIT"
)

// Outcome of a set/add interaction after load order is applied.
type Outcome string

const (
	SetWins         Outcome = "SET_WINS"
	AddAppliedAfter Outcome = "ADD_APPLIED_AFTER"
)

// Family is the arithmetic family of a modifier operation.
type Family string

const (
	FamilySet      Family = "set"
	FamilyAdd      Family = "add"
	FamilyMultiply Family = "multiply"
	FamilyOther    Family = "other"
)

// Scale is whether a modifier works on absolute or percentage values.
type Scale string

const (
	ScaleBase    Scale = "base"
	ScalePercent Scale = "perc"
	ScaleNone    Scale = ""
)

// ParseOperation splits a modifier operation name such as "base_add" or
// "perc_set" into its scale and family.
func ParseOperation(op string) (Scale, Family) {
	op = strings.ToLower(strings.TrimSpace(op))
	scale := ScaleNone
	switch {
	case strings.HasPrefix(op, "base"):
		scale = ScaleBase
	case strings.HasPrefix(op, "perc"):
		scale = ScalePercent
	}
	return scale, family(op)
}

func family(op string) Family {
	switch {
	case strings.Contains(op, "set"), op == "=":
		return FamilySet
	case strings.Contains(op, "add"), strings.Contains(op, "subtract"), op == "+", op == "-", op == "+=", op == "-=":
		return FamilyAdd
	case strings.Contains(op, "mult"), strings.Contains(op, "div"), op == "*", op == "*=", op == "/", op == "/=":
		return FamilyMultiply
	}
	return FamilyOther
}

// Contribution is one mod's edit to an effect.
type Contribution struct {
	ModID     string `json:"modId"`
	Operation string `json:"operation,omitempty"`
	Value     string `json:"value,omitempty"`
	Edited    string `json:"edited,omitempty"`
}
