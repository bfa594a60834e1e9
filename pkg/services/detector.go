package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// SynonymStore reads the merged synonym dictionary for an organization:
// global entries first, org-scoped entries appended.
type SynonymStore interface {
	GetActive(ctx context.Context, organizationID uuid.UUID) ([]*models.FieldSynonym, error)
}

// LearnedMappingStore reads prior successful mappings for an organization,
// newest first, filtered to confidence >= 0.7 and capped at five.
type LearnedMappingStore interface {
	GetRecent(ctx context.Context, organizationID uuid.UUID, distributorID *uuid.UUID) ([]*models.LearnedMapping, error)
}

// DetectOptions carries the optional inputs of a detection run.
type DetectOptions struct {
	DistributorID  *uuid.UUID
	Filename       string
	TrainingConfig *models.TrainingConfig
}

// DetectionService runs the full column-mapping pipeline: header
// localization, strategy arbitration, and hybrid combination. It never
// returns an error; every failure mode degrades to a valid low-confidence
// result.
type DetectionService interface {
	DetectColumnMapping(ctx context.Context, rows []models.Row, organizationID uuid.UUID, opts DetectOptions) *models.DetectionResult
}

type detectionService struct {
	synonyms      SynonymStore
	learned       LearnedMappingStore
	mappingOracle MappingOracle
	locator       *HeaderLocator
	logger        *zap.Logger
}

// NewDetectionService creates a DetectionService. Both oracles and both
// stores may be nil; missing collaborators disable the strategies that
// depend on them.
func NewDetectionService(
	synonyms SynonymStore,
	learned LearnedMappingStore,
	headerOracle HeaderOracle,
	mappingOracle MappingOracle,
	logger *zap.Logger,
) DetectionService {
	return &detectionService{
		synonyms:      synonyms,
		learned:       learned,
		mappingOracle: mappingOracle,
		locator:       NewHeaderLocator(headerOracle, logger),
		logger:        logger.Named("detection"),
	}
}

var _ DetectionService = (*detectionService)(nil)

// summaryRowPattern matches the first cell of subtotal/summary rows that
// must not be fed to strategies as data.
var summaryRowPattern = regexp.MustCompile(`(?i)^(total|subtotal|grand total|sum|summary|inventory|category|section|group)`)

// aiSampleRowLimit is how many data rows are sent to the mapping oracle.
const aiSampleRowLimit = 5

// DetectColumnMapping runs every applicable strategy over the located
// header and returns the highest-confidence result, hybrid included.
func (s *detectionService) DetectColumnMapping(ctx context.Context, rows []models.Row, organizationID uuid.UUID, opts DetectOptions) *models.DetectionResult {
	if len(rows) == 0 {
		empty := SanitizeResult(nil)
		empty.Method = models.MethodPattern
		empty.Columns = []string{}
		empty.ColumnIndices = []int{}
		return empty
	}

	header := s.locator.Locate(ctx, rows)
	dataRows := filterDataRows(rows[min(header.Index+1, len(rows)):])

	synonyms := s.loadSynonyms(ctx, organizationID)
	learned := s.loadLearnedMappings(ctx, organizationID, opts.DistributorID)

	best := SanitizeResult(nil)
	best.Method = models.MethodPattern
	var all []*models.DetectionResult

	consider := func(result *models.DetectionResult) {
		result = SanitizeResult(result)
		all = append(all, result)
		if result.Confidence > best.Confidence {
			best = result
		}
	}

	if opts.TrainingConfig.HasMappings() {
		if result := s.runStrategy("config", func() *models.DetectionResult {
			return ConfigStrategy(header.Columns, opts.TrainingConfig)
		}); result != nil {
			consider(result)
		}
	}

	if len(learned) > 0 {
		if result := s.runStrategy("learned", func() *models.DetectionResult {
			return LearnedStrategy(header.Columns, learned)
		}); result != nil {
			consider(result)
		}
	}

	if s.mappingOracle != nil {
		req := &models.MappingRequest{
			Columns:         header.Columns,
			SampleRows:      sampleRows(dataRows, aiSampleRowLimit),
			SynonymsByField: groupSynonymsByField(synonyms),
		}
		if opts.TrainingConfig != nil {
			req.Instructions = opts.TrainingConfig.Instructions
		}
		result, err := aiStrategy(ctx, s.mappingOracle, req)
		if err != nil {
			s.logger.Warn("AI strategy contributed nothing", zap.Error(err))
		} else {
			consider(result)
		}
	}

	if result := s.runStrategy("synonym", func() *models.DetectionResult {
		return SynonymStrategy(header.Columns, synonyms)
	}); result != nil {
		consider(result)
	}

	if result := s.runStrategy("pattern", func() *models.DetectionResult {
		return PatternStrategy(header.Columns, header.ColumnIndices, dataRows)
	}); result != nil {
		consider(result)
	}

	if hybrid := SanitizeResult(CombineResults(all)); hybrid.Confidence > best.Confidence {
		best = hybrid
	}

	final := SanitizeResult(best)
	final.Columns = header.Columns
	final.ColumnIndices = header.ColumnIndices
	final.HeaderRowIndex = header.Index

	s.logger.Info("Column mapping detected",
		zap.String("organization_id", organizationID.String()),
		zap.String("method", string(final.Method)),
		zap.Float64("confidence", final.Confidence),
		zap.Int("mapped_fields", len(final.Mapping)),
		zap.Int("columns", len(final.Columns)))

	return final
}

// runStrategy isolates a strategy invocation so a panicking strategy
// degrades to no contribution instead of aborting the pipeline.
func (s *detectionService) runStrategy(name string, fn func() *models.DetectionResult) (result *models.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Strategy panicked, skipping",
				zap.String("strategy", name),
				zap.Any("panic", r))
			result = nil
		}
	}()
	return fn()
}

// loadSynonyms reads the synonym dictionary, degrading to empty on store
// failure so the synonym strategy simply contributes nothing.
func (s *detectionService) loadSynonyms(ctx context.Context, organizationID uuid.UUID) []*models.FieldSynonym {
	if s.synonyms == nil {
		return nil
	}
	synonyms, err := s.synonyms.GetActive(ctx, organizationID)
	if err != nil {
		s.logger.Warn("Synonym store unavailable", zap.Error(err))
		return nil
	}
	return synonyms
}

// loadLearnedMappings reads prior mappings, degrading to empty on failure.
func (s *detectionService) loadLearnedMappings(ctx context.Context, organizationID uuid.UUID, distributorID *uuid.UUID) []*models.LearnedMapping {
	if s.learned == nil {
		return nil
	}
	learned, err := s.learned.GetRecent(ctx, organizationID, distributorID)
	if err != nil {
		s.logger.Warn("Learned-mapping store unavailable", zap.Error(err))
		return nil
	}
	return learned
}

// filterDataRows drops blank rows and subtotal/summary rows from the
// slice following the header.
func filterDataRows(rows []models.Row) []models.Row {
	filtered := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		if row.NonEmptyCount() == 0 {
			continue
		}
		if summaryRowPattern.MatchString(firstNonEmptyCell(row)) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}

// firstNonEmptyCell returns the trimmed content of the row's first
// non-blank cell, or "" for an empty row.
func firstNonEmptyCell(row models.Row) string {
	for _, cell := range row.Cells {
		if cell.Value == nil {
			continue
		}
		if trimmed := strings.TrimSpace(*cell.Value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// sampleRows returns up to limit rows from the front of the slice.
func sampleRows(rows []models.Row, limit int) []models.Row {
	if len(rows) <= limit {
		return rows
	}
	return rows[:limit]
}

// groupSynonymsByField shapes the dictionary for the mapping oracle.
func groupSynonymsByField(synonyms []*models.FieldSynonym) map[models.CanonicalField][]string {
	grouped := make(map[models.CanonicalField][]string)
	for _, syn := range synonyms {
		grouped[syn.FieldType] = append(grouped[syn.FieldType], syn.Synonym)
	}
	return grouped
}
