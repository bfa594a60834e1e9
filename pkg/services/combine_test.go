package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

func TestSanitizeResult_Nil(t *testing.T) {
	result := SanitizeResult(nil)

	require.NotNil(t, result)
	assert.NotNil(t, result.Mapping)
	assert.NotNil(t, result.Details)
	assert.Zero(t, result.Confidence)
}

func TestSanitizeResult_CoercesBadConfidence(t *testing.T) {
	assert.Zero(t, SanitizeResult(&models.DetectionResult{Confidence: -0.5}).Confidence)
	assert.Zero(t, SanitizeResult(&models.DetectionResult{Confidence: math.NaN()}).Confidence)
}

func TestSanitizeResult_Idempotent(t *testing.T) {
	result := &models.DetectionResult{
		Mapping:    models.ColumnMapping{models.FieldAccount: "Customer"},
		Confidence: 0.8,
		Method:     models.MethodSynonym,
		Details: map[models.CanonicalField]models.FieldDetail{
			models.FieldAccount: {Column: "Customer", Confidence: 0.8, Source: "synonym"},
		},
	}

	once := SanitizeResult(result)
	twice := SanitizeResult(once)

	assert.Equal(t, once, twice)
	assert.InDelta(t, 0.8, twice.Confidence, 1e-9)
}

func TestCombineResults_AgreementAccumulates(t *testing.T) {
	results := []*models.DetectionResult{
		{
			Mapping: models.ColumnMapping{models.FieldRevenue: "Amt"},
			Method:  models.MethodSynonym,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldRevenue: {Column: "Amt", Confidence: 0.9, Source: "synonym"},
			},
		},
		{
			Mapping: models.ColumnMapping{models.FieldRevenue: "Amt"},
			Method:  models.MethodPattern,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldRevenue: {Column: "Amt", Confidence: 1.0, Source: "pattern"},
			},
		},
	}

	combined := CombineResults(results)

	assert.Equal(t, models.MethodHybrid, combined.Method)
	assert.Equal(t, "Amt", combined.Mapping[models.FieldRevenue])
	detail := combined.Details[models.FieldRevenue]
	assert.InDelta(t, 0.95, detail.Confidence, 1e-9)
	assert.Equal(t, "synonym+pattern", detail.Source)
	assert.InDelta(t, 0.95, combined.Confidence, 1e-9)
}

func TestCombineResults_CappedAtOne(t *testing.T) {
	var results []*models.DetectionResult
	for i := 0; i < 3; i++ {
		results = append(results, &models.DetectionResult{
			Mapping: models.ColumnMapping{models.FieldAccount: "Customer"},
			Method:  models.MethodPattern,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldAccount: {Column: "Customer", Confidence: 0.9, Source: "pattern"},
			},
		})
	}

	combined := CombineResults(results)

	assert.InDelta(t, 1.0, combined.Details[models.FieldAccount].Confidence, 1e-9)
}

func TestCombineResults_HighestScoringColumnWins(t *testing.T) {
	results := []*models.DetectionResult{
		{
			Mapping: models.ColumnMapping{models.FieldAccount: "Ship To"},
			Method:  models.MethodSynonym,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldAccount: {Column: "Ship To", Confidence: 0.5, Source: "synonym"},
			},
		},
		{
			Mapping: models.ColumnMapping{models.FieldAccount: "Customer"},
			Method:  models.MethodPattern,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldAccount: {Column: "Customer", Confidence: 1.0, Source: "pattern"},
			},
		},
	}

	combined := CombineResults(results)

	assert.Equal(t, "Customer", combined.Mapping[models.FieldAccount])
}

func TestCombineResults_TieKeepsFirstSeen(t *testing.T) {
	results := []*models.DetectionResult{
		{
			Mapping: models.ColumnMapping{models.FieldDate: "A"},
			Method:  models.MethodSynonym,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldDate: {Column: "A", Confidence: 0.6, Source: "synonym"},
			},
		},
		{
			Mapping: models.ColumnMapping{models.FieldDate: "B"},
			Method:  models.MethodPattern,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldDate: {Column: "B", Confidence: 0.6, Source: "pattern"},
			},
		},
	}

	combined := CombineResults(results)

	assert.Equal(t, "A", combined.Mapping[models.FieldDate])
}

func TestCombineResults_FallsBackToOverallConfidence(t *testing.T) {
	// A result with no per-field detail contributes its overall confidence.
	results := []*models.DetectionResult{
		{
			Mapping:    models.ColumnMapping{models.FieldAccount: "Customer"},
			Method:     models.MethodOpenAI,
			Confidence: 0.8,
		},
	}

	combined := CombineResults(results)

	assert.InDelta(t, 0.4, combined.Details[models.FieldAccount].Confidence, 1e-9)
}

func TestCombineResults_IgnoresNilAndEmpty(t *testing.T) {
	combined := CombineResults([]*models.DetectionResult{nil, {
		Mapping: models.ColumnMapping{models.FieldAccount: "  "},
		Method:  models.MethodPattern,
	}})

	assert.Empty(t, combined.Mapping)
	assert.Zero(t, combined.Confidence)
}
