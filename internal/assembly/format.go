package assembly

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
)

var englishPrinter = message.NewPrinter(language.English)

// FormatValue renders a cell for display. Numeric formats parse the value
// and re-emit it with locale grouping or fixed decimals; non-numeric input
// under a numeric format falls through to plain string coercion.
//
//	CURRENCY   "1234"     -> "$1,234"
//	NUMBER     "1234567"  -> "1,234,567"
//	DECIMAL    "12.345"   -> "12.35"
//	PERCENTAGE "57.03"    -> "57.03%"
//	STRING     unchanged
func FormatValue(value string, format config.Format) string {
	if !format.Numeric() {
		return value
	}
	// Tolerate grouping that survived upstream normalization.
	n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", ""), 64)
	if err != nil {
		return value
	}

	switch format {
	case config.FormatCurrency:
		return "$" + localizedNumber(n)
	case config.FormatNumber:
		return localizedNumber(n)
	case config.FormatDecimal:
		return strconv.FormatFloat(n, 'f', 2, 64)
	case config.FormatPercentage:
		return strconv.FormatFloat(n, 'f', 2, 64) + "%"
	}
	return value
}

// localizedNumber groups an integral value as an integer and keeps two
// decimals otherwise, both with English thousands separators.
func localizedNumber(n float64) string {
	if n == math.Trunc(n) {
		return englishPrinter.Sprintf("%d", int64(n))
	}
	return englishPrinter.Sprintf("%.2f", n)
}

// parseNumeric extracts a float for charting. Unparsable cells plot as
// zero rather than breaking the series length.
func parseNumeric(value string) float64 {
	n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", ""), 64)
	if err != nil {
		return 0
	}
	return n
}
