package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// MappingOracle asks an external AI service to map detected columns onto
// canonical fields. Implementations handle their own timeouts and retries.
type MappingOracle interface {
	MapColumns(ctx context.Context, req *models.MappingRequest) (*models.MappingResponse, error)
}

// defaultOracleConfidence is assumed when the mapping oracle returns a
// mapping without a usable confidence value.
const defaultOracleConfidence = 0.8

// normalizeColumnName lowercases and trims a column label for matching.
func normalizeColumnName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// averageDetailConfidence computes a result's overall confidence as the
// mean of its per-field confidences, 0 when nothing was mapped.
func averageDetailConfidence(details map[models.CanonicalField]models.FieldDetail) float64 {
	if len(details) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range details {
		sum += d.Confidence
	}
	return sum / float64(len(details))
}

// ConfigStrategy maps columns using a human-curated training configuration.
// For each target field the accepted column labels are tried in order and
// matched exactly against normalized detected columns; the first match wins
// and is never overwritten. Every match carries confidence 0.95.
func ConfigStrategy(columns []string, cfg *models.TrainingConfig) *models.DetectionResult {
	result := &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Method:  models.MethodAITraining,
		Details: map[models.CanonicalField]models.FieldDetail{},
	}
	if !cfg.HasMappings() {
		return result
	}

	normalized := make(map[string]string, len(columns))
	for _, col := range columns {
		key := normalizeColumnName(col)
		if _, exists := normalized[key]; !exists {
			normalized[key] = col
		}
	}

	for _, field := range models.CanonicalFields {
		candidates, ok := cfg.ColumnMappings[field]
		if !ok {
			continue
		}
		for _, candidate := range candidates {
			col, found := normalized[normalizeColumnName(candidate)]
			if !found {
				continue
			}
			result.Mapping[field] = col
			result.Details[field] = models.FieldDetail{
				Column:     col,
				Confidence: 0.95,
				Source:     "training-config",
			}
			break
		}
	}

	result.Confidence = averageDetailConfidence(result.Details)
	return result
}

// LearnedStrategy replays a prior successful mapping when enough of its
// columns are present in the current file. Candidates arrive newest-first,
// pre-filtered to confidence >= 0.7 and capped at five. The first candidate
// whose stored columns overlap the current columns at a ratio of at least
// 0.7 wins; its entire stored mapping is replayed, including fields whose
// columns are absent from the current file.
func LearnedStrategy(columns []string, learned []*models.LearnedMapping) *models.DetectionResult {
	result := &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Method:  models.MethodLearned,
		Details: map[models.CanonicalField]models.FieldDetail{},
	}

	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[normalizeColumnName(col)] = true
	}

	for _, candidate := range learned {
		total := 0
		matched := 0
		for _, col := range candidate.FinalMapping {
			if strings.TrimSpace(col) == "" {
				continue
			}
			total++
			if present[normalizeColumnName(col)] {
				matched++
			}
		}
		if total == 0 {
			continue
		}
		ratio := float64(matched) / float64(total)
		if ratio < 0.7 {
			continue
		}

		for field, col := range candidate.FinalMapping {
			if strings.TrimSpace(col) == "" {
				continue
			}
			result.Mapping[field] = col
			if present[normalizeColumnName(col)] {
				result.Details[field] = models.FieldDetail{
					Column:     col,
					Confidence: candidate.ConfidenceScore,
					Source:     "learned",
				}
			}
		}
		result.Confidence = ratio * candidate.ConfidenceScore
		return result
	}

	return result
}

// SynonymStrategy maps columns through the synonym dictionary. An exact
// normalized match wins at the synonym's weight; otherwise substring
// containment in either direction is tried at weight x 0.8. When several
// synonyms compete for the same text the highest weight wins, and a field
// already mapped is never overwritten by a later column.
func SynonymStrategy(columns []string, synonyms []*models.FieldSynonym) *models.DetectionResult {
	result := &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Method:  models.MethodSynonym,
		Details: map[models.CanonicalField]models.FieldDetail{},
	}

	type synonymEntry struct {
		field  models.CanonicalField
		weight float64
	}
	lookup := make(map[string]synonymEntry, len(synonyms))
	for _, syn := range synonyms {
		key := normalizeColumnName(syn.Synonym)
		if key == "" {
			continue
		}
		if existing, ok := lookup[key]; !ok || syn.Weight() > existing.weight {
			lookup[key] = synonymEntry{field: syn.FieldType, weight: syn.Weight()}
		}
	}

	for _, col := range columns {
		normalized := normalizeColumnName(col)
		if normalized == "" {
			continue
		}

		if entry, ok := lookup[normalized]; ok {
			if _, mapped := result.Mapping[entry.field]; !mapped {
				result.Mapping[entry.field] = col
				result.Details[entry.field] = models.FieldDetail{
					Column:     col,
					Confidence: entry.weight,
					Source:     "synonym",
				}
			}
			continue
		}

		// Partial match: the column contains a known synonym or vice versa.
		var best *synonymEntry
		for text, entry := range lookup {
			if !strings.Contains(normalized, text) && !strings.Contains(text, normalized) {
				continue
			}
			if best == nil || entry.weight > best.weight {
				e := entry
				best = &e
			}
		}
		if best != nil {
			if _, mapped := result.Mapping[best.field]; !mapped {
				result.Mapping[best.field] = col
				result.Details[best.field] = models.FieldDetail{
					Column:     col,
					Confidence: best.weight * 0.8,
					Source:     "synonym-partial",
				}
			}
		}
	}

	result.Confidence = averageDetailConfidence(result.Details)
	return result
}

// aiStrategy asks the mapping oracle for a full mapping. Unlike the local
// strategies it can fail; the arbiter treats an error as no contribution.
func aiStrategy(ctx context.Context, oracle MappingOracle, req *models.MappingRequest) (*models.DetectionResult, error) {
	resp, err := oracle.MapColumns(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mapping oracle: %w", err)
	}
	if resp == nil || resp.Mapping == nil {
		return nil, fmt.Errorf("mapping oracle returned no mapping")
	}

	confidence := resp.Confidence
	if confidence <= 0 {
		confidence = defaultOracleConfidence
	}

	result := &models.DetectionResult{
		Mapping:    models.ColumnMapping{},
		Method:     models.MethodOpenAI,
		Confidence: confidence,
		Details:    map[models.CanonicalField]models.FieldDetail{},
	}
	for field, col := range resp.Mapping {
		if strings.TrimSpace(col) == "" {
			continue
		}
		result.Mapping[field] = col
		result.Details[field] = models.FieldDetail{
			Column:     col,
			Confidence: confidence,
			Source:     "openai",
		}
	}
	return result, nil
}
