package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDateLayout     = "2006-01-02"
	defaultDateTimeLayout = "2006-01-02T15:04:05.000Z"
)

// parseLayouts are tried in order when a date value arrives as text.
var parseLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// layoutTokens rewrites pattern-letter tokens (yyyy-MM-dd style, as mapping
// files written against other ecosystems carry) into Go reference-time
// layouts. Doubled tokens only; a format already written as a Go layout
// contains none of them and passes through unchanged.
var layoutTokens = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"fff", "000",
	"tt", "PM",
)

func layoutOf(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return layoutTokens.Replace(format)
}

// convertValue coerces a raw column value per the mapping's dataType. An
// unparseable value falls back to its string form rather than failing the
// whole row.
func convertValue(value any, dataType, format string) any {
	switch dataType {
	case "date":
		if t, ok := asTime(value); ok {
			return t.Format(layoutOf(format, defaultDateLayout))
		}
		return stringify(value)
	case "datetime":
		if t, ok := asTime(value); ok {
			return t.UTC().Format(layoutOf(format, defaultDateTimeLayout))
		}
		return stringify(value)
	case "bool":
		// TODO: downstream sync currently expects this flag inverted;
		// drop the negation once the importer is fixed.
		if b, err := strconv.ParseBool(stringify(value)); err == nil {
			return !b
		}
		return false
	default:
		return stringify(value)
	}
}

func asTime(value any) (time.Time, bool) {
	if t, ok := value.(time.Time); ok {
		return t, true
	}
	s := stringify(value)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringify(value any) string {
	switch t := value.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
