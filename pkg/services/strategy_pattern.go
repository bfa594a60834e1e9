package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tapline-data/mapping-engine/pkg/models"
)

// patternTier is one regex tier for a field. Tiers are tried in order and
// the first tier that matches any unused column claims it at the tier's
// fixed weight.
type patternTier struct {
	pattern *regexp.Regexp
	weight  float64
}

// fieldPatterns holds the ordered regex tiers per canonical field:
// an exact-keyword tier, then looser substring tiers. Weights are fixed
// per tier and become the per-field detail confidence.
var fieldPatterns = map[models.CanonicalField][]patternTier{
	models.FieldRevenue: {
		{regexp.MustCompile(`(?i)^(revenue|amount|total|extended[_ ]?price|sale[_ ]?amount|net[_ ]?amount|line[_ ]?total|ext[_ ]?price)$`), 1.0},
		{regexp.MustCompile(`(?i)(revenue|amount|total|price|sales)`), 0.7},
		{regexp.MustCompile(`(?i)(value|dollars|\$)`), 0.5},
	},
	models.FieldAccount: {
		{regexp.MustCompile(`(?i)^(account|customer|client|retailer|buyer|account[_ ]?name|customer[_ ]?name|retail[_ ]?account)$`), 1.0},
		{regexp.MustCompile(`(?i)(account|customer|client|retailer)`), 0.7},
	},
	models.FieldProduct: {
		{regexp.MustCompile(`(?i)^(product|item|description|product[_ ]?name|item[_ ]?name|item[_ ]?description|product[_ ]?description)$`), 1.0},
		{regexp.MustCompile(`(?i)(product|item|descr)`), 0.7},
	},
	models.FieldQuantity: {
		{regexp.MustCompile(`(?i)^(quantity|qty|cases|units|bottles|count|cases[_ ]?sold|units[_ ]?sold)$`), 1.0},
		{regexp.MustCompile(`(?i)(quantity|qty|cases|units)`), 0.8},
	},
	models.FieldDate: {
		{regexp.MustCompile(`(?i)^(date|order[_ ]?date|invoice[_ ]?date|ship[_ ]?date|transaction[_ ]?date|delivery[_ ]?date|posting[_ ]?date)$`), 1.0},
		{regexp.MustCompile(`(?i)^(period|month[_ ]?year|fiscal[_ ]?period|reporting[_ ]?period)$`), 0.95},
		{regexp.MustCompile(`(?i)date`), 0.7},
	},
	models.FieldMonth: {
		{regexp.MustCompile(`(?i)^(month|mo)$`), 1.0},
		{regexp.MustCompile(`(?i)month`), 0.8},
	},
	models.FieldYear: {
		{regexp.MustCompile(`(?i)^(year|yr)$`), 1.0},
		{regexp.MustCompile(`(?i)year`), 0.8},
	},
	models.FieldOrderID: {
		{regexp.MustCompile(`(?i)^(order[_ ]?id|order[_ ]?number|order[_ ]?no|invoice|invoice[_ ]?number|invoice[_ ]?no|po[_ ]?number)$`), 1.0},
		{regexp.MustCompile(`(?i)(order|invoice)`), 0.8},
	},
	models.FieldRepresentative: {
		{regexp.MustCompile(`(?i)^(rep|representative|sales[_ ]?rep|salesperson|sales[_ ]?representative|rep[_ ]?name)$`), 1.0},
		{regexp.MustCompile(`(?i)\brep\b`), 0.7},
		{regexp.MustCompile(`(?i)(seller|agent)`), 0.5},
	},
	models.FieldBrand: {
		{regexp.MustCompile(`(?i)^(brand|brand[_ ]?name|brand[_ ]?family)$`), 1.0},
		{regexp.MustCompile(`(?i)brand`), 0.7},
	},
	models.FieldSKU: {
		{regexp.MustCompile(`(?i)^(sku|upc|item[_ ]?code|product[_ ]?code|item[_ ]?number|item[_ ]?no)$`), 1.0},
		{regexp.MustCompile(`(?i)(sku|upc|code)`), 0.7},
	},
	models.FieldCategory: {
		{regexp.MustCompile(`(?i)^(category|class|segment|product[_ ]?type|product[_ ]?category)$`), 1.0},
		{regexp.MustCompile(`(?i)(category|class|segment)`), 0.7},
	},
	models.FieldRegion: {
		{regexp.MustCompile(`(?i)^(region|territory|market|area|state)$`), 1.0},
		{regexp.MustCompile(`(?i)(region|territory|market)`), 0.7},
	},
	models.FieldDistributor: {
		{regexp.MustCompile(`(?i)^(distributor|wholesaler|dist|distributor[_ ]?name)$`), 1.0},
		{regexp.MustCompile(`(?i)(distributor|wholesaler)`), 0.7},
	},
	models.FieldDateOfSale: {
		{regexp.MustCompile(`(?i)^(date[_ ]?of[_ ]?sale|sale[_ ]?date|sold[_ ]?date|depletion[_ ]?date)$`), 1.0},
		{regexp.MustCompile(`(?i)(sold|depletion)`), 0.7},
	},
}

// Value-analysis confidences, by classified content.
const (
	valueDateConfidence     = 0.85
	valueMonthConfidence    = 0.85
	valueYearConfidence     = 0.85
	valueRevenueConfidence  = 0.8
	valueQuantityConfidence = 0.75

	// valueSampleLimit bounds how many non-null values per column are
	// examined during value analysis.
	valueSampleLimit = 10
)

var (
	dateLikePattern = regexp.MustCompile(`^\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}$|^\d{4}[-/.]\d{1,2}[-/.]\d{1,2}$`)

	monthNames = map[string]bool{
		"jan": true, "feb": true, "mar": true, "apr": true, "may": true,
		"jun": true, "jul": true, "aug": true, "sep": true, "sept": true,
		"oct": true, "nov": true, "dec": true,
		"january": true, "february": true, "march": true, "april": true,
		"june": true, "july": true, "august": true, "september": true,
		"october": true, "november": true, "december": true,
	}

	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"02-Jan-2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}
)

// PatternStrategy maps columns by name using the per-field regex tiers,
// then falls back to sampling column values for canonical fields that are
// still unmapped. columnIndices gives the original cell position of each
// detected column so values can be pulled from the sample rows.
func PatternStrategy(columns []string, columnIndices []int, sampleRows []models.Row) *models.DetectionResult {
	result := &models.DetectionResult{
		Mapping: models.ColumnMapping{},
		Method:  models.MethodPattern,
		Details: map[models.CanonicalField]models.FieldDetail{},
	}

	used := make(map[int]bool, len(columns))

	for _, field := range models.CanonicalFields {
		tiers, ok := fieldPatterns[field]
		if !ok {
			continue
		}
	tierLoop:
		for _, tier := range tiers {
			for i, col := range columns {
				if used[i] {
					continue
				}
				if tier.pattern.MatchString(strings.TrimSpace(col)) {
					result.Mapping[field] = col
					result.Details[field] = models.FieldDetail{
						Column:     col,
						Confidence: tier.weight,
						Source:     "pattern",
					}
					used[i] = true
					break tierLoop
				}
			}
		}
	}

	applyValueAnalysis(result, columns, columnIndices, sampleRows, used)

	result.Confidence = averageDetailConfidence(result.Details)
	return result
}

// applyValueAnalysis inspects the values of still-unused columns to place
// canonical fields that name matching could not resolve.
func applyValueAnalysis(result *models.DetectionResult, columns []string, columnIndices []int, sampleRows []models.Row, used map[int]bool) {
	type valueCheck struct {
		field      models.CanonicalField
		matches    func([]string) bool
		confidence float64
	}
	checks := []valueCheck{
		{models.FieldDate, isLikelyDateColumn, valueDateConfidence},
		{models.FieldMonth, isLikelyMonth, valueMonthConfidence},
		{models.FieldYear, isLikelyYear, valueYearConfidence},
		{models.FieldRevenue, isLikelyRevenue, valueRevenueConfidence},
		{models.FieldQuantity, isLikelyQuantity, valueQuantityConfidence},
	}

	for _, check := range checks {
		if _, mapped := result.Mapping[check.field]; mapped {
			continue
		}
		for i, col := range columns {
			if used[i] {
				continue
			}
			samples := collectColumnSamples(sampleRows, columnIndex(columnIndices, i), valueSampleLimit)
			if len(samples) == 0 {
				continue
			}
			if check.matches(samples) {
				result.Mapping[check.field] = col
				result.Details[check.field] = models.FieldDetail{
					Column:     col,
					Confidence: check.confidence,
					Source:     "value-analysis",
				}
				used[i] = true
				break
			}
		}
	}
}

// columnIndex resolves the original cell position for the i-th detected
// column, defaulting to i when indices were not supplied.
func columnIndex(columnIndices []int, i int) int {
	if i < len(columnIndices) {
		return columnIndices[i]
	}
	return i
}

// collectColumnSamples gathers up to limit non-null trimmed values from
// the given cell position across the sample rows.
func collectColumnSamples(rows []models.Row, cellIndex int, limit int) []string {
	samples := make([]string, 0, limit)
	for _, row := range rows {
		if len(samples) >= limit {
			break
		}
		if cellIndex < 0 || cellIndex >= len(row.Cells) {
			continue
		}
		val := row.Cells[cellIndex].Value
		if val == nil {
			continue
		}
		trimmed := strings.TrimSpace(*val)
		if trimmed == "" {
			continue
		}
		samples = append(samples, trimmed)
	}
	return samples
}

// matchRatio returns the fraction of samples the predicate accepts.
func matchRatio(samples []string, match func(string) bool) float64 {
	if len(samples) == 0 {
		return 0
	}
	matched := 0
	for _, s := range samples {
		if match(s) {
			matched++
		}
	}
	return float64(matched) / float64(len(samples))
}

// isLikelyDateColumn reports whether at least 70% of the samples parse as
// dates or look date-shaped.
func isLikelyDateColumn(samples []string) bool {
	return matchRatio(samples, func(s string) bool {
		if dateLikePattern.MatchString(s) {
			return true
		}
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
		return false
	}) >= 0.7
}

// isLikelyMonth reports whether at least 70% of the samples are month
// names or integers 1-12.
func isLikelyMonth(samples []string) bool {
	return matchRatio(samples, func(s string) bool {
		if monthNames[strings.ToLower(s)] {
			return true
		}
		n, err := strconv.Atoi(s)
		return err == nil && n >= 1 && n <= 12
	}) >= 0.7
}

// isLikelyYear reports whether at least 70% of the samples are integers in
// [2000, 2100].
func isLikelyYear(samples []string) bool {
	return matchRatio(samples, func(s string) bool {
		n, err := strconv.Atoi(s)
		return err == nil && n >= 2000 && n <= 2100
	}) >= 0.7
}

// isLikelyRevenue reports whether at least 80% of the samples are positive
// numbers after stripping currency formatting, and at least one carries a
// decimal point with a value above 10. The decimal requirement separates
// dollar amounts from case counts.
func isLikelyRevenue(samples []string) bool {
	hasDecimalOver10 := false
	ratio := matchRatio(samples, func(s string) bool {
		n, ok := parseNumeric(s)
		if !ok || n <= 0 {
			return false
		}
		if strings.Contains(s, ".") && n > 10 {
			hasDecimalOver10 = true
		}
		return true
	})
	return ratio >= 0.8 && hasDecimalOver10
}

// isLikelyQuantity reports whether at least 70% of the samples are positive
// integers below 10000.
func isLikelyQuantity(samples []string) bool {
	return matchRatio(samples, func(s string) bool {
		n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
		return err == nil && n > 0 && n < 10000
	}) >= 0.7
}
