package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tapline-data/mapping-engine/pkg/apperrors"
	"github.com/tapline-data/mapping-engine/pkg/database"
	"github.com/tapline-data/mapping-engine/pkg/models"
)

// SynonymRepository provides data access for field synonym dictionaries.
// Global entries (NULL organization_id) apply to every organization;
// organization-specific entries extend or override them.
type SynonymRepository interface {
	GetActive(ctx context.Context, organizationID uuid.UUID) ([]*models.FieldSynonym, error)
	IncrementUsage(ctx context.Context, fieldType models.CanonicalField, synonym string) error
}

type synonymRepository struct {
	db *database.DB
}

// NewSynonymRepository creates a new SynonymRepository.
func NewSynonymRepository(db *database.DB) SynonymRepository {
	return &synonymRepository{db: db}
}

var _ SynonymRepository = (*synonymRepository)(nil)

func (r *synonymRepository) GetActive(ctx context.Context, organizationID uuid.UUID) ([]*models.FieldSynonym, error) {
	query := `
		SELECT id, field_type, synonym, confidence_weight, organization_id,
		       is_active, usage_count
		FROM field_synonyms
		WHERE is_active = true
		  AND (organization_id IS NULL OR organization_id = $1)
		ORDER BY organization_id NULLS FIRST, field_type, synonym`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field synonyms: %w", err)
	}
	defer rows.Close()

	var synonyms []*models.FieldSynonym
	for rows.Next() {
		var s models.FieldSynonym
		err := rows.Scan(
			&s.ID,
			&s.FieldType,
			&s.Synonym,
			&s.ConfidenceWeight,
			&s.OrganizationID,
			&s.IsActive,
			&s.UsageCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field synonym: %w", err)
		}
		synonyms = append(synonyms, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field synonyms: %w", err)
	}

	return synonyms, nil
}

func (r *synonymRepository) IncrementUsage(ctx context.Context, fieldType models.CanonicalField, synonym string) error {
	query := `
		UPDATE field_synonyms
		SET usage_count = usage_count + 1
		WHERE field_type = $1 AND lower(synonym) = lower($2)`

	result, err := r.db.Exec(ctx, query, fieldType, synonym)
	if err != nil {
		return fmt.Errorf("failed to increment synonym usage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
