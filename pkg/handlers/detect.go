package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapline-data/mapping-engine/pkg/models"
	"github.com/tapline-data/mapping-engine/pkg/repositories"
	"github.com/tapline-data/mapping-engine/pkg/services"
)

// DetectRequest is the payload for POST /api/detect. Rows are raw spreadsheet
// rows in file order, each a list of cell values (null for empty cells).
// Keys, when present, carry per-row column labels from keyed formats.
type DetectRequest struct {
	OrganizationID uuid.UUID              `json:"organization_id"`
	DistributorID  *uuid.UUID             `json:"distributor_id,omitempty"`
	UploadID       *uuid.UUID             `json:"upload_id,omitempty"`
	Filename       string                 `json:"filename,omitempty"`
	Rows           [][]*string            `json:"rows"`
	Keys           [][]string             `json:"keys,omitempty"`
	TrainingConfig *models.TrainingConfig `json:"training_config,omitempty"`
	// Persist controls whether the accepted result is written to history.
	Persist bool `json:"persist,omitempty"`
}

// DetectResponse wraps the detection result with the header row location.
type DetectResponse struct {
	HeaderRowIndex int                     `json:"header_row_index"`
	Result         *models.DetectionResult `json:"result"`
}

// DetectHandler handles column mapping detection requests.
type DetectHandler struct {
	detection services.DetectionService
	history   repositories.MappingHistoryRepository
	synonyms  repositories.SynonymRepository
	logger    *zap.Logger
}

// NewDetectHandler creates a new DetectHandler. The history and synonym
// repositories may be nil when the engine runs without a database.
func NewDetectHandler(
	detection services.DetectionService,
	history repositories.MappingHistoryRepository,
	synonyms repositories.SynonymRepository,
	logger *zap.Logger,
) *DetectHandler {
	return &DetectHandler{
		detection: detection,
		history:   history,
		synonyms:  synonyms,
		logger:    logger.Named("detect-handler"),
	}
}

// RegisterRoutes registers the detect handler's routes on the given mux.
func (h *DetectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/detect", h.Detect)
}

// Detect handles POST /api/detect requests.
func (h *DetectHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	if req.OrganizationID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "organization_id is required")
		return
	}

	rows := buildRows(req.Rows, req.Keys)

	result := h.detection.DetectColumnMapping(r.Context(), rows, req.OrganizationID, services.DetectOptions{
		DistributorID:  req.DistributorID,
		Filename:       req.Filename,
		TrainingConfig: req.TrainingConfig,
	})

	if req.Persist {
		h.persistResult(r, &req, result, len(rows))
	}

	response := DetectResponse{
		HeaderRowIndex: result.HeaderRowIndex,
		Result:         result,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode detect response", zap.Error(err))
	}
}

// persistResult records the accepted detection in history and bumps usage
// counts for the synonyms that contributed. Persistence failures are logged
// and do not fail the request.
func (h *DetectHandler) persistResult(r *http.Request, req *DetectRequest, result *models.DetectionResult, rowCount int) {
	ctx := r.Context()

	if h.history != nil {
		history := &models.MappingHistory{
			OrganizationID:  req.OrganizationID,
			UploadID:        req.UploadID,
			DistributorID:   req.DistributorID,
			FilenamePattern: services.GenerateFilenamePattern(req.Filename),
			DetectedColumns: result.Columns,
			FinalMapping:    result.Mapping,
			ConfidenceScore: result.Confidence,
			DetectionMethod: result.Method,
			RowsProcessed:   rowCount,
			SuccessRate:     result.Confidence,
		}
		if err := h.history.Save(ctx, history); err != nil {
			h.logger.Warn("Failed to save mapping history", zap.Error(err))
		}
	}

	if h.synonyms != nil {
		for field, detail := range result.Details {
			if detail.Source != "synonym" && detail.Source != "synonym-partial" {
				continue
			}
			if err := h.synonyms.IncrementUsage(ctx, field, detail.Column); err != nil {
				h.logger.Warn("Failed to increment synonym usage",
					zap.String("field", string(field)),
					zap.String("column", detail.Column),
					zap.Error(err))
			}
		}
	}
}

// buildRows converts the wire format into model rows, pairing values with
// their keys when the caller supplied them.
func buildRows(values [][]*string, keys [][]string) []models.Row {
	rows := make([]models.Row, 0, len(values))
	for i, rowValues := range values {
		var rowKeys []string
		if i < len(keys) {
			rowKeys = keys[i]
		}
		rows = append(rows, models.NewRow(rowKeys, rowValues))
	}
	return rows
}
