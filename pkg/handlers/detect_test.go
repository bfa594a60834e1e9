package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tapline-data/mapping-engine/pkg/models"
	"github.com/tapline-data/mapping-engine/pkg/services"
)

type stubDetectionService struct {
	result   *models.DetectionResult
	lastRows []models.Row
	lastOpts services.DetectOptions
}

func (s *stubDetectionService) DetectColumnMapping(ctx context.Context, rows []models.Row, organizationID uuid.UUID, opts services.DetectOptions) *models.DetectionResult {
	s.lastRows = rows
	s.lastOpts = opts
	return s.result
}

func TestDetect_Success(t *testing.T) {
	detection := &stubDetectionService{
		result: &models.DetectionResult{
			Mapping:        models.ColumnMapping{models.FieldAccount: "Customer"},
			Confidence:     0.9,
			Method:         models.MethodPattern,
			Columns:        []string{"Customer", "Qty"},
			HeaderRowIndex: 1,
			Details: map[models.CanonicalField]models.FieldDetail{
				models.FieldAccount: {Column: "Customer", Confidence: 0.9, Source: "pattern"},
			},
		},
	}
	handler := NewDetectHandler(detection, nil, nil, zaptest.NewLogger(t))

	body := `{
		"organization_id": "` + uuid.NewString() + `",
		"filename": "sales_2024-01.csv",
		"rows": [["Report"], ["Customer", "Qty"], ["Acme", "5"]]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Detect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.HeaderRowIndex)
	assert.Equal(t, "Customer", resp.Result.Mapping[models.FieldAccount])
	assert.Len(t, detection.lastRows, 3)
	assert.Equal(t, "sales_2024-01.csv", detection.lastOpts.Filename)
}

func TestDetect_PersistWithoutRepositories(t *testing.T) {
	// When the engine runs without a database both repositories are nil;
	// persist requests still succeed, they just record nothing.
	detection := &stubDetectionService{result: &models.DetectionResult{
		Mapping: models.ColumnMapping{models.FieldQuantity: "Qty"},
		Details: map[models.CanonicalField]models.FieldDetail{
			models.FieldQuantity: {Column: "Qty", Confidence: 0.95, Source: "synonym"},
		},
		Confidence: 0.95,
		Method:     models.MethodSynonym,
	}}
	handler := NewDetectHandler(detection, nil, nil, zaptest.NewLogger(t))

	body := `{
		"organization_id": "` + uuid.NewString() + `",
		"rows": [["Qty"], ["5"]],
		"persist": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Detect(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetect_MissingOrganizationID(t *testing.T) {
	handler := NewDetectHandler(&stubDetectionService{}, nil, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(`{"rows": []}`))
	rec := httptest.NewRecorder()

	handler.Detect(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetect_InvalidJSON(t *testing.T) {
	handler := NewDetectHandler(&stubDetectionService{}, nil, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler.Detect(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetect_NullCellsPreserved(t *testing.T) {
	detection := &stubDetectionService{result: &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Details: map[models.CanonicalField]models.FieldDetail{},
	}}
	handler := NewDetectHandler(detection, nil, nil, zaptest.NewLogger(t))

	body := `{
		"organization_id": "` + uuid.NewString() + `",
		"rows": [["Account", null, "Qty"]]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Detect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, detection.lastRows, 1)
	cells := detection.lastRows[0].Cells
	require.Len(t, cells, 3)
	assert.Nil(t, cells[1].Value)
	assert.Equal(t, "Qty", *cells[2].Value)
}

func TestBuildRows_KeysOptional(t *testing.T) {
	v := "Acme"
	rows := buildRows([][]*string{{&v}}, [][]string{{"Account"}})

	require.Len(t, rows, 1)
	assert.Equal(t, "Account", rows[0].Cells[0].Key)
	assert.Equal(t, "Acme", *rows[0].Cells[0].Value)
}
