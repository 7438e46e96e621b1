package indirect

import (
	"fmt"
	"log/slog"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
)

// ValidateParticipants keeps the findings whose participant mods and
// definitions all exist according to checker. Findings naming an unknown
// id are dropped individually.
func ValidateParticipants(fs []findings.Finding, checker facts.IDChecker, logger *slog.Logger) (kept []findings.Finding, dropped int) {
	kept = make([]findings.Finding, 0, len(fs))
	for _, f := range fs {
		if reason := missingParticipant(f, checker); reason != "" {
			logger.Debug("Dropped finding", "pattern", f.PatternID, "id", f.ID, "reason", reason)
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	return kept, dropped
}

func missingParticipant(f findings.Finding, checker facts.IDChecker) string {
	for _, m := range f.Participants.Mods {
		if !checker.ModExists(m) {
			return fmt.Sprintf("unknown mod %q", m)
		}
	}
	for _, d := range f.Participants.Entities {
		if !checker.DefinitionExists(d) {
			return fmt.Sprintf("unknown definition %q", d)
		}
	}
	return ""
}
