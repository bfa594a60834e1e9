package services

import "regexp"

var (
	// Date-shaped substrings are wildcarded first so "2024-01-15" becomes
	// one placeholder instead of three.
	isoDateSubstring = regexp.MustCompile(`\d{4}[-_.]\d{1,2}[-_.]\d{1,2}`)
	usDateSubstring  = regexp.MustCompile(`\d{1,2}[-_.]\d{1,2}[-_.]\d{2,4}`)
	digitRun         = regexp.MustCompile(`\d+`)

	// separatorRun collapses wildcard placeholders and the separators
	// around them into a single wildcard.
	separatorRun = regexp.MustCompile(`[-_ ]*%+[-_ ]*`)
)

// GenerateFilenamePattern reduces a filename to a reusable shape by
// replacing dates and digit runs with "%" and collapsing the separators
// around them: "sales_2024-01-15_report.csv" -> "sales%report.csv".
// Applying it to its own output is a no-op, so stored patterns can be
// safely re-normalized.
func GenerateFilenamePattern(filename string) string {
	pattern := isoDateSubstring.ReplaceAllString(filename, "%")
	pattern = usDateSubstring.ReplaceAllString(pattern, "%")
	pattern = digitRun.ReplaceAllString(pattern, "%")
	pattern = separatorRun.ReplaceAllString(pattern, "%")
	return pattern
}
