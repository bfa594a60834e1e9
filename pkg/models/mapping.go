package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Canonical Fields
// ============================================================================

// CanonicalField is one of the fixed semantic targets that source columns
// are mapped onto, regardless of how the distributor labels them.
type CanonicalField string

const (
	FieldDate           CanonicalField = "date"
	FieldMonth          CanonicalField = "month"
	FieldYear           CanonicalField = "year"
	FieldRevenue        CanonicalField = "revenue"
	FieldAccount        CanonicalField = "account"
	FieldProduct        CanonicalField = "product"
	FieldSKU            CanonicalField = "sku"
	FieldQuantity       CanonicalField = "quantity"
	FieldOrderID        CanonicalField = "order_id"
	FieldCategory       CanonicalField = "category"
	FieldRegion         CanonicalField = "region"
	FieldDistributor    CanonicalField = "distributor"
	FieldRepresentative CanonicalField = "representative"
	FieldDateOfSale     CanonicalField = "date_of_sale"
	FieldBrand          CanonicalField = "brand"
)

// CanonicalFields lists all mapping targets in detection priority order.
var CanonicalFields = []CanonicalField{
	FieldDate,
	FieldMonth,
	FieldYear,
	FieldRevenue,
	FieldAccount,
	FieldProduct,
	FieldSKU,
	FieldQuantity,
	FieldOrderID,
	FieldCategory,
	FieldRegion,
	FieldDistributor,
	FieldRepresentative,
	FieldDateOfSale,
	FieldBrand,
}

// ============================================================================
// Rows
// ============================================================================

// Cell is a single parsed spreadsheet cell. Value is nil when the source
// cell was empty or null. Key is the source key, which may be synthetic
// (e.g. "__EMPTY_3" from sheet parsers) and carries no guaranteed meaning.
type Cell struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// Row is one parsed spreadsheet row: an ordered sequence of cells.
// No fixed schema is assumed; different rows may carry different keys.
type Row struct {
	Cells []Cell `json:"cells"`
}

// NewRow builds a row from ordered key/value pairs. A nil value marks a
// blank cell; missing keys are left empty.
func NewRow(keys []string, values []*string) Row {
	cells := make([]Cell, len(values))
	for i, v := range values {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		cells[i] = Cell{Key: key, Value: v}
	}
	return Row{Cells: cells}
}

// Values returns the ordered cell values, preserving nils.
func (r Row) Values() []*string {
	vals := make([]*string, len(r.Cells))
	for i, c := range r.Cells {
		vals[i] = c.Value
	}
	return vals
}

// Keys returns the ordered cell keys.
func (r Row) Keys() []string {
	keys := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		keys[i] = c.Key
	}
	return keys
}

// NonEmptyCount returns the number of cells with non-blank content.
func (r Row) NonEmptyCount() int {
	n := 0
	for _, c := range r.Cells {
		if c.Value != nil && strings.TrimSpace(*c.Value) != "" {
			n++
		}
	}
	return n
}

// ============================================================================
// Detection Results
// ============================================================================

// ColumnMapping maps canonical fields to detected column names. A field
// absent from the map means "not mapped".
type ColumnMapping map[CanonicalField]string

// DetectionMethod identifies which strategy produced a result.
type DetectionMethod string

const (
	MethodOpenAI     DetectionMethod = "openai"
	MethodSynonym    DetectionMethod = "synonym"
	MethodPattern    DetectionMethod = "pattern"
	MethodLearned    DetectionMethod = "learned"
	MethodHybrid     DetectionMethod = "hybrid"
	MethodAITraining DetectionMethod = "ai_training"
)

// FieldDetail records per-field provenance: which column was chosen, how
// confident the strategy was, and a free-text source label.
type FieldDetail struct {
	Column     string  `json:"column"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// DetectionResult is the outcome of a column-mapping detection run.
// Mapping and Details are always non-nil after sanitization.
type DetectionResult struct {
	Mapping       ColumnMapping                  `json:"mapping"`
	Confidence    float64                        `json:"confidence"`
	Method        DetectionMethod                `json:"method"`
	Columns       []string                       `json:"columns,omitempty"`
	ColumnIndices []int                          `json:"column_indices,omitempty"`
	// HeaderRowIndex is where the located header row sits in the input batch.
	HeaderRowIndex int                            `json:"header_row_index"`
	Details        map[CanonicalField]FieldDetail `json:"details"`
}

// HeaderDetection locates the real header row within a batch of raw rows.
// Confidence is on a 0-100 scale; computed once per input batch.
type HeaderDetection struct {
	Index         int      `json:"index"`
	Columns       []string `json:"columns"`
	ColumnIndices []int    `json:"column_indices"`
	Confidence    float64  `json:"confidence"`
}

// ============================================================================
// Evidence
// ============================================================================

// FieldSynonym is one dictionary entry mapping a known column label to a
// canonical field. OrganizationID nil means a global entry; org-scoped
// entries are appended after global ones and shadow them at lookup time.
type FieldSynonym struct {
	ID               uuid.UUID      `json:"id"`
	FieldType        CanonicalField `json:"field_type"`
	Synonym          string         `json:"synonym"`
	ConfidenceWeight *float64       `json:"confidence_weight"`
	OrganizationID   *uuid.UUID     `json:"organization_id"`
	IsActive         bool           `json:"is_active"`
	UsageCount       int            `json:"usage_count"`
}

// Weight returns the entry's confidence weight, defaulting to 1.0.
func (s *FieldSynonym) Weight() float64 {
	if s.ConfidenceWeight == nil {
		return 1.0
	}
	return *s.ConfidenceWeight
}

// LearnedMapping is a prior successful mapping replayed as evidence.
// The store filters to confidence_score >= 0.7, newest five.
type LearnedMapping struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	DistributorID   *uuid.UUID      `json:"distributor_id"`
	FinalMapping    ColumnMapping   `json:"final_mapping"`
	ConfidenceScore float64         `json:"confidence_score"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MappingHistory is the persisted outcome of a consumed detection, written
// after the caller accepts the result (not during detection).
type MappingHistory struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	UploadID        *uuid.UUID      `json:"upload_id"`
	DistributorID   *uuid.UUID      `json:"distributor_id"`
	FilenamePattern string          `json:"filename_pattern"`
	DetectedColumns []string        `json:"detected_columns"`
	FinalMapping    ColumnMapping   `json:"final_mapping"`
	ConfidenceScore float64         `json:"confidence_score"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	RowsProcessed   int             `json:"rows_processed"`
	SuccessRate     float64         `json:"success_rate"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TrainingConfig is a human-curated mapping hint: for each canonical field,
// the column labels a reviewer has previously accepted, plus optional
// free-text instructions forwarded to the mapping oracle.
type TrainingConfig struct {
	ColumnMappings map[CanonicalField][]string `json:"column_mappings"`
	Instructions   string                      `json:"instructions,omitempty"`
}

// HasMappings reports whether the config carries any usable column hints.
func (c *TrainingConfig) HasMappings() bool {
	return c != nil && len(c.ColumnMappings) > 0
}

// ============================================================================
// Oracle Exchange
// ============================================================================

// RowSample is one row serialized for the header-detection oracle.
// Values longer than 50 characters are truncated by the oracle client.
type RowSample struct {
	RowIndex int       `json:"rowIndex"`
	Values   []*string `json:"values"`
}

// MappingRequest is the column-mapping oracle request payload.
type MappingRequest struct {
	Columns         []string                    `json:"columns"`
	SampleRows      []Row                       `json:"sampleData"`
	SynonymsByField map[CanonicalField][]string `json:"synonymsByField"`
	Instructions    string                      `json:"aiTrainingConfig,omitempty"`
}

// MappingResponse is the column-mapping oracle response. A response
// without a mapping is treated as oracle failure by the caller.
type MappingResponse struct {
	Mapping    ColumnMapping `json:"mapping"`
	Confidence float64       `json:"confidence"`
}
