package facts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

var structValidator = validator.New()

// maxReportedProblems bounds the number of problems listed in one error.
const maxReportedProblems = 20

// ValidationError lists every problem found in a bundle.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	shown := e.Problems
	more := ""
	if len(shown) > maxReportedProblems {
		more = fmt.Sprintf("; and %d more", len(shown)-maxReportedProblems)
		shown = shown[:maxReportedProblems]
	}
	return fmt.Sprintf("invalid fact bundle: %s%s", strings.Join(shown, "; "), more)
}

// Validate checks field constraints and cross-record integrity: unique mod
// ids and load orders, unique definition ids and entity keys, and that
// every operation, patch and edge points at a known mod or definition.
func Validate(b *Bundle) error {
	var problems []string

	if err := structValidator.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	mods := make(map[string]bool, len(b.Mods))
	orders := make(map[int]string, len(b.Mods))
	for _, m := range b.Mods {
		if mods[m.ID] {
			problems = append(problems, fmt.Sprintf("duplicate mod id %q", m.ID))
		}
		mods[m.ID] = true
		if other, dup := orders[m.LoadOrder]; dup {
			problems = append(problems, fmt.Sprintf("mods %q and %q share load order %d", other, m.ID, m.LoadOrder))
		}
		orders[m.LoadOrder] = m.ID
	}

	defs := make(map[string]bool, len(b.Definitions))
	keys := make(map[EntityKey]string, len(b.Definitions))
	for _, d := range b.Definitions {
		if defs[d.ID] {
			problems = append(problems, fmt.Sprintf("duplicate definition id %q", d.ID))
		}
		defs[d.ID] = true
		if other, dup := keys[d.Key()]; dup {
			problems = append(problems, fmt.Sprintf("definitions %q and %q are both %s", other, d.ID, d.Key()))
		}
		keys[d.Key()] = d.ID
	}

	for i, op := range b.Operations {
		if op.ModID != "" && !mods[op.ModID] {
			problems = append(problems, fmt.Sprintf("operations[%d]: unknown mod %q", i, op.ModID))
		}
	}
	for i, p := range b.Patches {
		if p.ModID != "" && !mods[p.ModID] {
			problems = append(problems, fmt.Sprintf("patches[%d]: unknown mod %q", i, p.ModID))
		}
	}
	for i, e := range b.Edges {
		if e.SourceDefinitionID != "" && !defs[e.SourceDefinitionID] {
			problems = append(problems, fmt.Sprintf("referenceEdges[%d]: unknown source definition %q", i, e.SourceDefinitionID))
		}
		if e.ModID != "" && !mods[e.ModID] {
			problems = append(problems, fmt.Sprintf("referenceEdges[%d]: unknown mod %q", i, e.ModID))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Source supplies the facts for one analysis run.
type Source interface {
	LoadSnapshot() (*Snapshot, error)
}

// IDChecker answers existence queries against the current facts. It is
// consulted before findings are persisted.
type IDChecker interface {
	ModExists(id string) bool
	DefinitionExists(id string) bool
}
