package envelope

import "modcompat/internal/findings"

// ScoreToTier converts a confidence score (0.0-1.0) to a confidence tier.
//
// Tier mapping:
//   - 0.90+ -> high
//   - 0.65-0.89 -> medium
//   - 0.30-0.64 -> low
//   - <0.30 -> speculative
func ScoreToTier(score float64) ConfidenceTier {
	switch {
	case score >= 0.90:
		return TierHigh
	case score >= 0.65:
		return TierMedium
	case score >= 0.30:
		return TierLow
	default:
		return TierSpeculative
	}
}

// confidenceWeight is the contribution of one finding to the mean score.
func confidenceWeight(c findings.Confidence) float64 {
	switch c {
	case findings.ConfidenceHigh:
		return 1.0
	case findings.ConfidenceMedium:
		return 0.75
	default:
		return 0.4
	}
}

// FindingConfidence returns the mean confidence weight of fs, 1.0 when
// there are none.
func FindingConfidence(fs []findings.Finding) float64 {
	if len(fs) == 0 {
		return 1.0
	}
	var sum float64
	for _, f := range fs {
		sum += confidenceWeight(f.Confidence)
	}
	return sum / float64(len(fs))
}
