package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tapline-data/mapping-engine/pkg/models"
	"github.com/tapline-data/mapping-engine/pkg/retry"
)

const (
	// headerSampleRowLimit bounds how many leading rows are serialized for
	// header detection.
	headerSampleRowLimit = 15

	// cellValueLimit truncates long cell values before serialization so a
	// verbose memo column cannot blow up the prompt.
	cellValueLimit = 50

	oracleTemperature = 0.1
)

// Oracle answers header-detection and column-mapping questions through an
// OpenAI-compatible chat endpoint. It implements services.HeaderOracle and
// services.MappingOracle. Calls are retried on transient failures; a
// malformed response is an error, never a fabricated answer.
type Oracle struct {
	client   LLMClient
	logger   *zap.Logger
	retryCfg *retry.Config
}

// NewOracle creates an Oracle on top of the given client.
func NewOracle(client LLMClient, logger *zap.Logger) *Oracle {
	return &Oracle{
		client: client,
		logger: logger.Named("oracle"),
		retryCfg: &retry.Config{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// headerResponse mirrors the header-detection response contract. Pointer
// fields let us distinguish a missing field from a zero value; a missing
// or mistyped field invalidates the whole response.
type headerResponse struct {
	HeaderRowIndex *int      `json:"headerRowIndex"`
	ColumnNames    *[]string `json:"columnNames"`
	ColumnIndices  *[]int    `json:"columnIndices"`
	Confidence     *float64  `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
}

// DetectHeaderRow asks the oracle which of the leading rows is the header.
func (o *Oracle) DetectHeaderRow(ctx context.Context, rows []models.Row) (*models.HeaderDetection, error) {
	samples := buildRowSamples(rows)
	prompt, err := buildHeaderPrompt(samples)
	if err != nil {
		return nil, err
	}

	content, err := o.generate(ctx, prompt, headerSystemMessage)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseJSONResponse[headerResponse](content)
	if err != nil {
		return nil, fmt.Errorf("parse header response: %w", err)
	}
	if parsed.HeaderRowIndex == nil || parsed.ColumnNames == nil ||
		parsed.ColumnIndices == nil || parsed.Confidence == nil {
		return nil, fmt.Errorf("header response missing required fields")
	}

	return &models.HeaderDetection{
		Index:         *parsed.HeaderRowIndex,
		Columns:       *parsed.ColumnNames,
		ColumnIndices: *parsed.ColumnIndices,
		Confidence:    *parsed.Confidence,
	}, nil
}

// mappingResponse mirrors the column-mapping response contract. Mapping is
// required; null column values mean "field not present in this file".
type mappingResponse struct {
	Mapping    map[string]*string `json:"mapping"`
	Confidence *float64           `json:"confidence"`
}

// MapColumns asks the oracle to map detected columns onto canonical fields.
func (o *Oracle) MapColumns(ctx context.Context, req *models.MappingRequest) (*models.MappingResponse, error) {
	prompt := buildMappingPrompt(req)

	content, err := o.generate(ctx, prompt, mappingSystemMessage)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseJSONResponse[mappingResponse](content)
	if err != nil {
		return nil, fmt.Errorf("parse mapping response: %w", err)
	}
	if parsed.Mapping == nil {
		return nil, fmt.Errorf("mapping response missing mapping")
	}

	known := make(map[models.CanonicalField]bool, len(models.CanonicalFields))
	for _, f := range models.CanonicalFields {
		known[f] = true
	}

	mapping := models.ColumnMapping{}
	for field, column := range parsed.Mapping {
		if column == nil || strings.TrimSpace(*column) == "" {
			continue
		}
		canonical := models.CanonicalField(strings.ToLower(strings.TrimSpace(field)))
		if !known[canonical] {
			o.logger.Debug("Oracle proposed unknown field, dropping",
				zap.String("field", field))
			continue
		}
		mapping[canonical] = *column
	}

	resp := &models.MappingResponse{Mapping: mapping}
	if parsed.Confidence != nil {
		resp.Confidence = *parsed.Confidence
	}
	return resp, nil
}

// generate runs one oracle exchange, retrying transient failures only.
// The client returns classified errors, so retryability is decided by the
// error itself.
func (o *Oracle) generate(ctx context.Context, prompt, systemMessage string) (string, error) {
	var content string
	err := retry.DoIfRetryable(ctx, o.retryCfg, func() error {
		var callErr error
		content, callErr = o.client.GenerateResponse(ctx, prompt, systemMessage, oracleTemperature)
		if callErr != nil {
			classified := ClassifyError(callErr)
			o.logger.Warn("Oracle call failed",
				zap.String("error_type", string(classified.Type)),
				zap.Bool("retryable", classified.Retryable),
				zap.Error(callErr))
			return classified
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}
	return content, nil
}

// buildRowSamples serializes at most the first 15 rows for the header
// oracle, truncating long values and preserving nulls and cell order.
func buildRowSamples(rows []models.Row) []models.RowSample {
	limit := len(rows)
	if limit > headerSampleRowLimit {
		limit = headerSampleRowLimit
	}
	samples := make([]models.RowSample, 0, limit)
	for i := 0; i < limit; i++ {
		values := rows[i].Values()
		truncated := make([]*string, len(values))
		for j, v := range values {
			if v == nil {
				continue
			}
			t := truncateValue(*v, cellValueLimit)
			truncated[j] = &t
		}
		samples = append(samples, models.RowSample{RowIndex: i, Values: truncated})
	}
	return samples
}

// truncateValue caps a cell value at limit characters with an ellipsis.
func truncateValue(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

const headerSystemMessage = `You are a spreadsheet analysis expert. Distributor sales reports often start with titles, report metadata, and blank rows before the real column header. Identify the true header row.`

func buildHeaderPrompt(samples []models.RowSample) (string, error) {
	serialized, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("serialize row samples: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Leading Rows\n")
	sb.WriteString("Each entry is one raw row with its ordered cell values (null = empty cell):\n\n")
	sb.Write(serialized)
	sb.WriteString("\n\n## Task\n")
	sb.WriteString("Find the row that contains the column headers (labels like account, product, quantity), not report titles, grouping labels, or data values.\n")
	sb.WriteString("\n## Response Format (JSON object)\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"headerRowIndex\": 2,\n")
	sb.WriteString("  \"columnNames\": [\"Account\", \"Product\", \"Qty\"],\n")
	sb.WriteString("  \"columnIndices\": [0, 1, 3],\n")
	sb.WriteString("  \"confidence\": 90,\n")
	sb.WriteString("  \"reasoning\": \"Row 2 holds short label cells; row 3 onward holds data values\"\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n")
	sb.WriteString("columnNames are the non-empty cell values of the header row in order; columnIndices their original cell positions. confidence is 0-100.\n")

	return sb.String(), nil
}

const mappingSystemMessage = `You are a data import expert. Map spreadsheet columns from distributor sales reports onto canonical semantic fields. Only map a column when its meaning is clear; use null for fields that have no matching column.`

func buildMappingPrompt(req *models.MappingRequest) string {
	var sb strings.Builder

	sb.WriteString("# Detected Columns\n")
	for _, col := range req.Columns {
		sb.WriteString(fmt.Sprintf("- %s\n", col))
	}

	if len(req.SampleRows) > 0 {
		sb.WriteString("\n# Sample Data\n")
		sb.WriteString("| " + strings.Join(req.Columns, " | ") + " |\n")
		sb.WriteString("|" + strings.Repeat("---|", len(req.Columns)) + "\n")
		for _, row := range req.SampleRows {
			cells := make([]string, len(req.Columns))
			values := row.Values()
			for i := range req.Columns {
				if i < len(values) && values[i] != nil {
					cells[i] = truncateValue(*values[i], cellValueLimit)
				}
			}
			sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}

	if len(req.SynonymsByField) > 0 {
		sb.WriteString("\n# Known Synonyms\n")
		for _, field := range models.CanonicalFields {
			if synonyms, ok := req.SynonymsByField[field]; ok && len(synonyms) > 0 {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", field, strings.Join(synonyms, ", ")))
			}
		}
	}

	if req.Instructions != "" {
		sb.WriteString("\n# Reviewer Instructions\n")
		sb.WriteString(req.Instructions)
		sb.WriteString("\n")
	}

	sb.WriteString("\n# Canonical Fields\n")
	fields := make([]string, len(models.CanonicalFields))
	for i, f := range models.CanonicalFields {
		fields[i] = string(f)
	}
	sb.WriteString(strings.Join(fields, ", "))
	sb.WriteString("\n\n## Response Format (JSON object)\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"mapping\": {\"date\": \"Order Date\", \"account\": \"Customer\", \"revenue\": null},\n")
	sb.WriteString("  \"confidence\": 0.85\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n")
	sb.WriteString("Every mapping value must be one of the detected column names, verbatim. confidence is 0-1.\n")

	return sb.String()
}
