package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tapline-data/mapping-engine/pkg/apperrors"
	"github.com/tapline-data/mapping-engine/pkg/database"
	"github.com/tapline-data/mapping-engine/pkg/models"
)

// Learned mappings are prior history rows good enough to replay: at least
// this confident, newest first, capped at a handful.
const (
	learnedMinConfidence = 0.7
	learnedMappingLimit  = 5
)

// MappingHistoryRepository provides data access for detection outcomes
// accepted by callers. History doubles as the learned-mapping corpus.
type MappingHistoryRepository interface {
	Save(ctx context.Context, history *models.MappingHistory) error
	GetRecent(ctx context.Context, organizationID uuid.UUID, distributorID *uuid.UUID) ([]*models.LearnedMapping, error)
}

type mappingHistoryRepository struct {
	db *database.DB
}

// NewMappingHistoryRepository creates a new MappingHistoryRepository.
func NewMappingHistoryRepository(db *database.DB) MappingHistoryRepository {
	return &mappingHistoryRepository{db: db}
}

var _ MappingHistoryRepository = (*mappingHistoryRepository)(nil)

func (r *mappingHistoryRepository) Save(ctx context.Context, history *models.MappingHistory) error {
	if history.OrganizationID == uuid.Nil {
		return fmt.Errorf("organization id is required: %w", apperrors.ErrInvalidInput)
	}

	detectedColumns, err := json.Marshal(history.DetectedColumns)
	if err != nil {
		return fmt.Errorf("failed to marshal detected columns: %w", err)
	}

	finalMapping, err := json.Marshal(history.FinalMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal final mapping: %w", err)
	}

	query := `
		INSERT INTO column_mapping_history (
			organization_id, upload_id, distributor_id, filename_pattern,
			detected_columns, final_mapping, confidence_score,
			detection_method, rows_processed, success_rate, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err = r.db.QueryRow(ctx, query,
		history.OrganizationID,
		history.UploadID,
		history.DistributorID,
		nullString(history.FilenamePattern),
		detectedColumns,
		finalMapping,
		history.ConfidenceScore,
		history.DetectionMethod,
		history.RowsProcessed,
		history.SuccessRate,
		time.Now(),
	).Scan(&history.ID, &history.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mapping history: %w", err)
	}

	return nil
}

func (r *mappingHistoryRepository) GetRecent(ctx context.Context, organizationID uuid.UUID, distributorID *uuid.UUID) ([]*models.LearnedMapping, error) {
	query := `
		SELECT id, organization_id, distributor_id, final_mapping,
		       confidence_score, detection_method, created_at
		FROM column_mapping_history
		WHERE organization_id = $1
		  AND confidence_score >= $2
		  AND ($3::uuid IS NULL OR distributor_id = $3)
		ORDER BY created_at DESC
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, organizationID, learnedMinConfidence, distributorID, learnedMappingLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping history: %w", err)
	}
	defer rows.Close()

	var learned []*models.LearnedMapping
	for rows.Next() {
		mapping, err := scanLearnedMapping(rows)
		if err != nil {
			return nil, err
		}
		learned = append(learned, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mapping history: %w", err)
	}

	return learned, nil
}

func scanLearnedMapping(row pgx.Row) (*models.LearnedMapping, error) {
	var m models.LearnedMapping
	var finalMapping []byte

	err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&m.DistributorID,
		&finalMapping,
		&m.ConfidenceScore,
		&m.DetectionMethod,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan learned mapping: %w", err)
	}

	if len(finalMapping) > 0 && string(finalMapping) != "null" {
		if err := json.Unmarshal(finalMapping, &m.FinalMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal final mapping: %w", err)
		}
	}

	return &m, nil
}

// nullString returns nil for an empty string so the column stores NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
