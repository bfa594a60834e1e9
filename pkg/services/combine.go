package services

import (
	"strings"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// hybridContributionFactor scales each strategy's per-field confidence when
// accumulating hybrid evidence. Tunable heuristic: two strategies agreeing
// at full confidence saturate a field at 1.0.
const hybridContributionFactor = 0.5

// SanitizeResult normalizes a strategy result so downstream comparison can
// rely on well-typed output: non-nil mapping and details, a usable
// confidence. Nil input yields an empty zero-confidence result. Idempotent.
func SanitizeResult(result *models.DetectionResult) *models.DetectionResult {
	if result == nil {
		return &models.DetectionResult{
			Mapping: models.ColumnMapping{},
			Details: map[models.CanonicalField]models.FieldDetail{},
		}
	}
	if result.Mapping == nil {
		result.Mapping = models.ColumnMapping{}
	}
	if result.Details == nil {
		result.Details = map[models.CanonicalField]models.FieldDetail{}
	}
	if result.Confidence < 0 || result.Confidence != result.Confidence {
		// Negative or NaN confidence is coerced to zero.
		result.Confidence = 0
	}
	return result
}

// hybridCandidate accumulates cross-strategy evidence for one
// (field, column) pair.
type hybridCandidate struct {
	column  string
	score   float64
	methods []string
}

// CombineResults merges per-field evidence across all strategy results
// into a hybrid result. Every (field, column) pair proposed by any
// strategy accumulates score from each proposer; per field the
// highest-scoring column survives, capped at confidence 1.0.
func CombineResults(results []*models.DetectionResult) *models.DetectionResult {
	combined := &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Method:  models.MethodHybrid,
		Details: map[models.CanonicalField]models.FieldDetail{},
	}

	// field -> column -> accumulated candidate, preserving first-seen
	// column order for deterministic tie-breaking.
	candidates := make(map[models.CanonicalField]map[string]*hybridCandidate)
	order := make(map[models.CanonicalField][]string)

	for _, result := range results {
		if result == nil {
			continue
		}
		for field, column := range result.Mapping {
			if strings.TrimSpace(column) == "" {
				continue
			}
			contribution := result.Confidence
			if detail, ok := result.Details[field]; ok {
				contribution = detail.Confidence
			}

			byColumn, ok := candidates[field]
			if !ok {
				byColumn = make(map[string]*hybridCandidate)
				candidates[field] = byColumn
			}
			cand, ok := byColumn[column]
			if !ok {
				cand = &hybridCandidate{column: column}
				byColumn[column] = cand
				order[field] = append(order[field], column)
			}
			cand.score += contribution * hybridContributionFactor
			cand.methods = append(cand.methods, string(result.Method))
		}
	}

	for _, field := range models.CanonicalFields {
		byColumn, ok := candidates[field]
		if !ok {
			continue
		}
		var best *hybridCandidate
		for _, column := range order[field] {
			cand := byColumn[column]
			if best == nil || cand.score > best.score {
				best = cand
			}
		}
		if best == nil {
			continue
		}
		confidence := best.score
		if confidence > 1.0 {
			confidence = 1.0
		}
		combined.Mapping[field] = best.column
		combined.Details[field] = models.FieldDetail{
			Column:     best.column,
			Confidence: confidence,
			Source:     strings.Join(best.methods, "+"),
		}
	}

	combined.Confidence = averageDetailConfidence(combined.Details)
	return combined
}
