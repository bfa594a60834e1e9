package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// testRow builds a row from cell strings; "" becomes a nil (blank) cell.
func testRow(values ...string) models.Row {
	ptrs := make([]*string, len(values))
	for i := range values {
		if values[i] != "" {
			v := values[i]
			ptrs[i] = &v
		}
	}
	return models.NewRow(nil, ptrs)
}

type stubHeaderOracle struct {
	detection *models.HeaderDetection
	err       error
	calls     int
}

func (s *stubHeaderOracle) DetectHeaderRow(ctx context.Context, rows []models.Row) (*models.HeaderDetection, error) {
	s.calls++
	return s.detection, s.err
}

func TestLocate_EmptyRows(t *testing.T) {
	locator := NewHeaderLocator(nil, zaptest.NewLogger(t))

	detection := locator.Locate(context.Background(), nil)

	require.NotNil(t, detection)
	assert.Equal(t, 0, detection.Index)
	assert.Empty(t, detection.Columns)
	assert.Zero(t, detection.Confidence)
}

func TestLocate_FirstRowHeader(t *testing.T) {
	rows := []models.Row{
		testRow("Order Date", "Account", "Product", "Qty"),
		testRow("1/15/2024", "Acme Liquors", "Widget Gin", "5"),
		testRow("1/16/2024", "Bottle Shop", "Widget Rum", "3"),
	}
	locator := NewHeaderLocator(nil, zaptest.NewLogger(t))

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 0, detection.Index)
	assert.Equal(t, []string{"Order Date", "Account", "Product", "Qty"}, detection.Columns)
	assert.Equal(t, []int{0, 1, 2, 3}, detection.ColumnIndices)
	assert.Equal(t, ruleBasedConfidence, detection.Confidence)
}

func TestLocate_HeaderAfterMetadata(t *testing.T) {
	rows := []models.Row{
		testRow("Monthly Sales Report"),
		testRow(),
		testRow("Account", "Product", "Qty", "Revenue"),
		testRow("Acme Liquors", "Widget Gin", "5", "124.50"),
	}
	locator := NewHeaderLocator(nil, zaptest.NewLogger(t))

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 2, detection.Index)
	assert.Equal(t, []string{"Account", "Product", "Qty", "Revenue"}, detection.Columns)
}

func TestLocate_SkipsSparseColumnsInIndices(t *testing.T) {
	rows := []models.Row{
		testRow("Account", "", "Qty", "Revenue"),
		testRow("Acme", "", "5", "124.50"),
	}
	locator := NewHeaderLocator(nil, zaptest.NewLogger(t))

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, []string{"Account", "Qty", "Revenue"}, detection.Columns)
	assert.Equal(t, []int{0, 2, 3}, detection.ColumnIndices)
}

func TestLocate_KeyFallback(t *testing.T) {
	rows := []models.Row{
		models.NewRow([]string{"Account", "Qty"}, []*string{nil, nil}),
	}
	locator := NewHeaderLocator(nil, zaptest.NewLogger(t))

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, []string{"Account", "Qty"}, detection.Columns)
	assert.Equal(t, keyFallbackConfidence, detection.Confidence)
}

func TestLocate_OracleAccepted(t *testing.T) {
	oracle := &stubHeaderOracle{
		detection: &models.HeaderDetection{
			Index:         1,
			Columns:       []string{"Account", "Qty"},
			ColumnIndices: []int{0, 1},
			Confidence:    92,
		},
	}
	locator := NewHeaderLocator(oracle, zaptest.NewLogger(t))
	rows := []models.Row{
		testRow("Report"),
		testRow("Account", "Qty"),
		testRow("Acme", "5"),
	}

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 1, detection.Index)
	assert.Equal(t, 92.0, detection.Confidence)
	assert.Equal(t, 1, oracle.calls)
}

func TestLocate_OracleLowConfidenceRejected(t *testing.T) {
	oracle := &stubHeaderOracle{
		detection: &models.HeaderDetection{Index: 2, Confidence: 40},
	}
	locator := NewHeaderLocator(oracle, zaptest.NewLogger(t))
	rows := []models.Row{
		testRow("Account", "Product", "Qty"),
		testRow("Acme", "Widget", "5"),
	}

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 0, detection.Index)
	assert.Equal(t, ruleBasedConfidence, detection.Confidence)
}

func TestLocate_OracleOutOfRangeRejected(t *testing.T) {
	oracle := &stubHeaderOracle{
		detection: &models.HeaderDetection{Index: 99, Confidence: 95},
	}
	locator := NewHeaderLocator(oracle, zaptest.NewLogger(t))
	rows := []models.Row{
		testRow("Account", "Product", "Qty"),
		testRow("Acme", "Widget", "5"),
	}

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 0, detection.Index)
}

func TestLocate_OracleErrorFallsBack(t *testing.T) {
	oracle := &stubHeaderOracle{err: errors.New("connection refused")}
	locator := NewHeaderLocator(oracle, zaptest.NewLogger(t))
	rows := []models.Row{
		testRow("Account", "Product", "Qty"),
		testRow("Acme", "Widget", "5"),
	}

	detection := locator.Locate(context.Background(), rows)

	assert.Equal(t, 0, detection.Index)
	assert.Equal(t, ruleBasedConfidence, detection.Confidence)
}

func TestScoreHeaderCandidate_FullDatesPenalized(t *testing.T) {
	rows := []models.Row{
		testRow("Order Date", "Account", "Product", "Qty"),
		testRow("1/15/2024", "Acme", "Widget", "5"),
	}

	headerScore := scoreHeaderCandidate(rows, 0)
	dataScore := scoreHeaderCandidate(rows, 1)

	assert.Greater(t, headerScore, dataScore)
}

func TestScoreHeaderCandidate_MonthYearRunRewarded(t *testing.T) {
	rows := []models.Row{
		testRow("Product", "1/2024", "2/2024", "3/2024", "4/2024", "5/2024"),
		testRow("Widget Gin", "10", "12", "9", "14", "11"),
	}

	periodScore := scoreHeaderCandidate(rows, 0)
	dataScore := scoreHeaderCandidate(rows, 1)

	assert.Greater(t, periodScore, dataScore)
	// 5+ MM/YYYY cells add the periodic-header bonus on top of the
	// per-cell reward.
	assert.Greater(t, periodScore, 300.0)
}

func TestScoreHeaderCandidate_MetadataRowsPenalized(t *testing.T) {
	rows := []models.Row{
		testRow("Dataset: monthly depletions"),
		testRow("By: region"),
		testRow("Account", "Product", "Qty"),
	}

	assert.Less(t, scoreHeaderCandidate(rows, 0), scoreHeaderCandidate(rows, 2))
	assert.Less(t, scoreHeaderCandidate(rows, 1), scoreHeaderCandidate(rows, 2))
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"1234", 1234, true},
		{"$1,234.56", 1234.56, true},
		{" 42 ", 42, true},
		{"-3.5", -3.5, true},
		{"Widget", 0, false},
		{"", 0, false},
		{"1/15/2024", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumeric(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "input %q", tt.input)
		}
	}
}
