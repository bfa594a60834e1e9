package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

func TestPatternStrategy_ExactNames(t *testing.T) {
	columns := []string{"Order Date", "Account", "Product", "Qty"}

	result := PatternStrategy(columns, []int{0, 1, 2, 3}, nil)

	assert.Equal(t, models.MethodPattern, result.Method)
	assert.Equal(t, "Order Date", result.Mapping[models.FieldDate])
	assert.Equal(t, "Account", result.Mapping[models.FieldAccount])
	assert.Equal(t, "Product", result.Mapping[models.FieldProduct])
	assert.Equal(t, "Qty", result.Mapping[models.FieldQuantity])
	for _, field := range []models.CanonicalField{models.FieldDate, models.FieldAccount, models.FieldProduct, models.FieldQuantity} {
		assert.InDelta(t, 1.0, result.Details[field].Confidence, 1e-9, "field %s", field)
		assert.Equal(t, "pattern", result.Details[field].Source)
	}
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestPatternStrategy_TierWeights(t *testing.T) {
	result := PatternStrategy([]string{"Reporting Period", "Net Sales Total"}, nil, nil)

	// "Reporting Period" hits the period tier, not the exact date tier.
	assert.Equal(t, "Reporting Period", result.Mapping[models.FieldDate])
	assert.InDelta(t, 0.95, result.Details[models.FieldDate].Confidence, 1e-9)
	// "Net Sales Total" only matches the loose revenue tier.
	assert.Equal(t, "Net Sales Total", result.Mapping[models.FieldRevenue])
	assert.InDelta(t, 0.7, result.Details[models.FieldRevenue].Confidence, 1e-9)
}

func TestPatternStrategy_ColumnClaimedOnce(t *testing.T) {
	// "Total" matches revenue exactly; the later sku/category tiers must
	// not reuse the same column.
	result := PatternStrategy([]string{"Total"}, nil, nil)

	assert.Equal(t, "Total", result.Mapping[models.FieldRevenue])
	assert.Len(t, result.Mapping, 1)
}

func TestPatternStrategy_ValueAnalysisYear(t *testing.T) {
	columns := []string{"Col A", "Col B"}
	sampleRows := []models.Row{
		testRow("2023", "Acme"),
		testRow("2024", "Bottle Shop"),
		testRow("2023", "Cork & Cask"),
	}

	result := PatternStrategy(columns, []int{0, 1}, sampleRows)

	assert.Equal(t, "Col A", result.Mapping[models.FieldYear])
	detail := result.Details[models.FieldYear]
	assert.InDelta(t, valueYearConfidence, detail.Confidence, 1e-9)
	assert.Equal(t, "value-analysis", detail.Source)
}

func TestPatternStrategy_ValueAnalysisRevenueAndQuantity(t *testing.T) {
	columns := []string{"Col A", "Col B"}
	sampleRows := []models.Row{
		testRow("1,234.56", "5"),
		testRow("987.65", "24"),
		testRow("45.20", "300"),
	}

	result := PatternStrategy(columns, []int{0, 1}, sampleRows)

	assert.Equal(t, "Col A", result.Mapping[models.FieldRevenue])
	assert.InDelta(t, valueRevenueConfidence, result.Details[models.FieldRevenue].Confidence, 1e-9)
	assert.Equal(t, "Col B", result.Mapping[models.FieldQuantity])
	assert.InDelta(t, valueQuantityConfidence, result.Details[models.FieldQuantity].Confidence, 1e-9)
}

func TestPatternStrategy_ValueAnalysisDates(t *testing.T) {
	columns := []string{"Col A"}
	sampleRows := []models.Row{
		testRow("2024-01-15"),
		testRow("2024-02-03"),
		testRow("2024-02-17"),
	}

	result := PatternStrategy(columns, []int{0}, sampleRows)

	assert.Equal(t, "Col A", result.Mapping[models.FieldDate])
	assert.Equal(t, "value-analysis", result.Details[models.FieldDate].Source)
}

func TestPatternStrategy_ValueAnalysisMonthNames(t *testing.T) {
	columns := []string{"Col A"}
	sampleRows := []models.Row{
		testRow("January"),
		testRow("Feb"),
		testRow("March"),
	}

	result := PatternStrategy(columns, []int{0}, sampleRows)

	assert.Equal(t, "Col A", result.Mapping[models.FieldMonth])
}

func TestPatternStrategy_NameMatchedColumnsSkipValueAnalysis(t *testing.T) {
	// "Cases" is claimed by the quantity name tier; value analysis must
	// not remap it to revenue despite the numeric samples.
	columns := []string{"Cases"}
	sampleRows := []models.Row{
		testRow("150.25"),
		testRow("220.75"),
	}

	result := PatternStrategy(columns, []int{0}, sampleRows)

	assert.Equal(t, "Cases", result.Mapping[models.FieldQuantity])
	assert.NotContains(t, result.Mapping, models.FieldRevenue)
}

func TestIsLikelyRevenue_RequiresDecimals(t *testing.T) {
	assert.True(t, isLikelyRevenue([]string{"$1,234.56", "98.40", "12.99"}))
	// Integer-only columns look like case counts, not dollar amounts.
	assert.False(t, isLikelyRevenue([]string{"5", "12", "300"}))
	assert.False(t, isLikelyRevenue([]string{"abc", "12.50", "xyz"}))
}

func TestIsLikelyYear_Range(t *testing.T) {
	assert.True(t, isLikelyYear([]string{"2000", "2024", "2100"}))
	assert.False(t, isLikelyYear([]string{"1999", "1998", "1997"}))
	assert.False(t, isLikelyYear([]string{"2024", "5", "7"}))
}

func TestIsLikelyYear_ThresholdBoundary(t *testing.T) {
	// 7 of 10 in range sits exactly on the 70% threshold.
	sevenOfTen := []string{
		"2020", "2021", "2022", "2023", "2024", "2025", "2026",
		"150", "abc", "1850",
	}
	assert.True(t, isLikelyYear(sevenOfTen))

	sixOfTen := []string{
		"2020", "2021", "2022", "2023", "2024", "2025",
		"150", "abc", "1850", "9",
	}
	assert.False(t, isLikelyYear(sixOfTen))
}

func TestIsLikelyQuantity_Bounds(t *testing.T) {
	assert.True(t, isLikelyQuantity([]string{"1", "9999", "42"}))
	assert.False(t, isLikelyQuantity([]string{"10000", "20000", "50000"}))
	assert.False(t, isLikelyQuantity([]string{"-5", "-1", "0"}))
}
