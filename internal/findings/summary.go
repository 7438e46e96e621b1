package findings

// Summary aggregates findings for a compatibility verdict.
type Summary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`

	ByCategory map[Category]int `json:"byCategory"`
	ByPattern  map[string]int   `json:"byPattern"`

	// Compatible is false when any critical or high finding exists.
	Compatible bool `json:"compatible"`
	// CompatibleWithCaveats is true when compatible but medium or low
	// findings remain.
	CompatibleWithCaveats bool `json:"compatibleWithCaveats"`
}

// Summarize counts findings per severity, category and pattern.
func Summarize(fs []Finding) Summary {
	s := Summary{
		ByCategory: make(map[Category]int),
		ByPattern:  make(map[string]int),
	}
	for _, f := range fs {
		s.Total++
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
		s.ByCategory[f.Category]++
		s.ByPattern[f.PatternID]++
	}
	s.Compatible = s.Critical == 0 && s.High == 0
	s.CompatibleWithCaveats = s.Compatible && s.Medium+s.Low > 0
	return s
}
