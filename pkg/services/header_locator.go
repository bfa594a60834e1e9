package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// HeaderOracle asks an external AI service to locate the header row.
// Implementations handle their own timeouts and retries; any error or
// malformed response degrades the locator to rule-based scoring.
type HeaderOracle interface {
	DetectHeaderRow(ctx context.Context, rows []models.Row) (*models.HeaderDetection, error)
}

// Confidence levels for the rule-based path. The oracle path carries the
// confidence the oracle returned.
const (
	ruleBasedConfidence   = 60.0
	keyFallbackConfidence = 50.0

	// maxHeaderScanRows bounds how deep into the file we look for a header.
	maxHeaderScanRows = 15

	// minOracleConfidence is the floor below which an oracle answer is
	// discarded in favor of rule-based scoring.
	minOracleConfidence = 70.0
)

var (
	// headerKeywordPattern matches whole cells that are classic header labels.
	headerKeywordPattern = regexp.MustCompile(`(?i)^(type|date|name|account|customer|product|item|quantity|qty|amount|revenue|price|total|memo|description|number|id|state|region|rep|representative|brand|sku|order|invoice|cases|units|sales)$`)

	// underscoreNamePattern matches underscore-joined capitalized words such
	// as "Customer_Name", common in exported report headers.
	underscoreNamePattern = regexp.MustCompile(`^[A-Z][A-Za-z]*(_[A-Z][A-Za-z]*)+$`)

	// monthYearPattern matches MM/YYYY period headers.
	monthYearPattern = regexp.MustCompile(`^\d{1,2}/\d{4}$`)

	// fullDatePattern matches MM/DD/YYYY data values.
	fullDatePattern = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)

	// sectionKeywordPattern matches summary/grouping labels that indicate a
	// section row rather than a header.
	sectionKeywordPattern = regexp.MustCompile(`(?i)\b(grand total|subtotal|total|inventory|summary|report|category|share|dataset|user|cube|by|sort)\b`)

	// metadataPrefixPattern matches report metadata cells like "By: region".
	metadataPrefixPattern = regexp.MustCompile(`(?i)^(by|sort|total|dataset|user|cube|12 months|share):`)

	// metadataLinePattern matches whole metadata lines from cube exports.
	metadataLinePattern = regexp.MustCompile(`(?i)^(dataset|user|cube|by|sort):`)

	// plainTextPattern matches ordinary label text.
	plainTextPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z .&'-]*$`)
)

// HeaderLocator finds the real header row among noisy leading rows.
// The oracle is optional; when absent or unconvincing, a deterministic
// scoring pass over the first rows decides.
type HeaderLocator struct {
	oracle HeaderOracle
	logger *zap.Logger
}

// NewHeaderLocator creates a HeaderLocator. oracle may be nil.
func NewHeaderLocator(oracle HeaderOracle, logger *zap.Logger) *HeaderLocator {
	return &HeaderLocator{
		oracle: oracle,
		logger: logger.Named("header-locator"),
	}
}

// Locate returns the detected header row for the given raw rows.
// It never fails: empty input yields index 0 with confidence 0, and any
// oracle problem falls back to rule-based scoring.
func (l *HeaderLocator) Locate(ctx context.Context, rows []models.Row) *models.HeaderDetection {
	if len(rows) == 0 {
		return &models.HeaderDetection{
			Index:         0,
			Columns:       []string{},
			ColumnIndices: []int{},
			Confidence:    0,
		}
	}

	if l.oracle != nil {
		detection, err := l.oracle.DetectHeaderRow(ctx, rows)
		if err != nil {
			l.logger.Warn("Header oracle failed, falling back to rule-based scoring",
				zap.Error(err))
		} else if detection != nil &&
			detection.Confidence >= minOracleConfidence &&
			detection.Index >= 0 && detection.Index < len(rows) {
			l.logger.Debug("Header oracle answer accepted",
				zap.Int("index", detection.Index),
				zap.Float64("confidence", detection.Confidence))
			return detection
		} else if detection != nil {
			l.logger.Debug("Header oracle answer rejected",
				zap.Int("index", detection.Index),
				zap.Float64("confidence", detection.Confidence))
		}
	}

	return l.locateByScore(rows)
}

// locateByScore runs the deterministic scoring pass over the first rows.
func (l *HeaderLocator) locateByScore(rows []models.Row) *models.HeaderDetection {
	scanCount := len(rows)
	if scanCount > maxHeaderScanRows {
		scanCount = maxHeaderScanRows
	}

	bestIndex := 0
	bestScore := scoreHeaderCandidate(rows, 0)
	for i := 1; i < scanCount; i++ {
		score := scoreHeaderCandidate(rows, i)
		if score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}

	columns, indices := extractColumns(rows[bestIndex])
	confidence := ruleBasedConfidence
	if len(columns) == 0 {
		// No usable values in the winning row. Fall back to its raw keys,
		// which at least gives downstream strategies something to chew on.
		keys := rows[bestIndex].Keys()
		columns = make([]string, 0, len(keys))
		indices = make([]int, 0, len(keys))
		for i, k := range keys {
			columns = append(columns, k)
			indices = append(indices, i)
		}
		confidence = keyFallbackConfidence
	}

	l.logger.Debug("Rule-based header selected",
		zap.Int("index", bestIndex),
		zap.Float64("score", bestScore),
		zap.Int("column_count", len(columns)))

	return &models.HeaderDetection{
		Index:         bestIndex,
		Columns:       columns,
		ColumnIndices: indices,
		Confidence:    confidence,
	}
}

// extractColumns pulls trimmed, non-empty cell values from the header row
// along with their original positions.
func extractColumns(row models.Row) ([]string, []int) {
	columns := make([]string, 0, len(row.Cells))
	indices := make([]int, 0, len(row.Cells))
	for i, cell := range row.Cells {
		if cell.Value == nil {
			continue
		}
		trimmed := strings.TrimSpace(*cell.Value)
		if trimmed == "" {
			continue
		}
		columns = append(columns, trimmed)
		indices = append(indices, i)
	}
	return columns, indices
}

// scoreHeaderCandidate scores how header-like the row at index is.
// Positive signals reward label-shaped cells; negative signals punish rows
// that look like data, totals, or report metadata.
func scoreHeaderCandidate(rows []models.Row, index int) float64 {
	row := rows[index]

	var (
		score        float64
		nonEmpty     int
		keywordCount int
		underscoreNameCount int
		monthYearCount      int
		underscoreCharCount int
		numericCount        int
		decimalPositive     int
		shortTextCount      int
		hasFullDate         bool
		hasMetadataPrefix   bool
		hasMetadataLine     bool
		hasSectionKeyword   bool
	)
	categories := make(map[string]bool)

	for _, cell := range row.Cells {
		val := ""
		if cell.Value != nil {
			val = strings.TrimSpace(*cell.Value)
		}
		categories[classifyCellValue(val)] = true
		if val == "" {
			continue
		}
		nonEmpty++

		if headerKeywordPattern.MatchString(val) {
			keywordCount++
		}
		if underscoreNamePattern.MatchString(val) {
			underscoreNameCount++
		}
		if monthYearPattern.MatchString(val) {
			monthYearCount++
		}
		if strings.Contains(val, "_") {
			underscoreCharCount++
		}
		if fullDatePattern.MatchString(val) {
			hasFullDate = true
		}
		if metadataPrefixPattern.MatchString(val) {
			hasMetadataPrefix = true
		}
		if metadataLinePattern.MatchString(val) {
			hasMetadataLine = true
		}
		if sectionKeywordPattern.MatchString(val) {
			hasSectionKeyword = true
		}
		if n, ok := parseNumeric(val); ok {
			numericCount++
			if n > 0 && strings.Contains(val, ".") {
				decimalPositive++
			}
		} else if len(val) >= 1 && len(val) <= 20 {
			shortTextCount++
		}
	}

	score += 10 * float64(nonEmpty)
	score += 50 * float64(keywordCount)
	score += 40 * float64(underscoreNameCount)
	score += 30 * float64(monthYearCount)

	if monthYearCount >= 5 {
		// Strong periodic-header signal: a run of MM/YYYY columns.
		score += 200
	}
	if hasFullDate {
		score -= 300
	}
	if decimalPositive >= 2 {
		score -= 150
	}
	if nonEmpty > 0 && float64(numericCount) > 0.6*float64(nonEmpty) {
		score -= 20 * float64(numericCount)
	}
	if hasSectionKeyword && nonEmpty < 5 {
		score -= 100
	}
	if hasMetadataPrefix {
		score -= 200
	}
	if hasMetadataLine {
		score -= 150
	}
	if index > 0 && rows[index-1].NonEmptyCount() < 3 {
		// Sparse row immediately above is typical of title/header layouts.
		score += 30
	}
	score += 15 * float64(underscoreCharCount)
	if len(categories) >= 3 {
		score += 25
	}
	if nonEmpty < 3 && index < 10 {
		score -= 50
	}
	if nonEmpty >= 4 && float64(shortTextCount) >= 0.7*float64(nonEmpty) {
		score += 40
	}

	return score
}

// classifyCellValue buckets a cell into a coarse value-pattern category.
// Rows mixing several categories look more like headers than data rows.
func classifyCellValue(val string) string {
	switch {
	case val == "":
		return "empty"
	case monthYearPattern.MatchString(val):
		return "date_column"
	case underscoreNamePattern.MatchString(val):
		return "underscore_name"
	default:
		if _, ok := parseNumeric(val); ok {
			return "number"
		}
		if plainTextPattern.MatchString(val) {
			return "text"
		}
		return "other"
	}
}

// parseNumeric parses a cell as a number, tolerating currency symbols,
// thousands separators, and surrounding whitespace.
func parseNumeric(val string) (float64, bool) {
	cleaned := strings.TrimSpace(val)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
