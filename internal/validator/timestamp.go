package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the single timestamp form handed to tools: UTC,
// seconds precision plus up to six fractional digits, Z suffix.
const CanonicalLayout = "2006-01-02T15:04:05.999999Z07:00"

// zoneless layouts are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var excessFraction = regexp.MustCompile(`\.(\d{9})\d+`)

// NormalizeTimestamp parses the accepted timestamp forms and renders the
// canonical one. Unix seconds (10 digits) and milliseconds (13 digits) are
// accepted as well.
func NormalizeTimestamp(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty timestamp")
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			switch len(s) {
			case 10:
				return format(time.Unix(n, 0)), nil
			case 13:
				return format(time.UnixMilli(n)), nil
			}
		}
		return "", fmt.Errorf("unrecognized epoch timestamp %q", s)
	}

	// Go parses at most nine fractional digits.
	trimmed := excessFraction.ReplaceAllString(s, ".$1")
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return format(t), nil
		}
	}
	return "", fmt.Errorf("unrecognized timestamp %q; use YYYY-MM-DDTHH:MM:SSZ", s)
}

func format(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(CanonicalLayout)
}

func timestampInput(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return "", fmt.Errorf("fractional epoch timestamps are not supported")
		}
		return strconv.FormatInt(int64(x), 10), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case json.Number:
		if _, err := x.Int64(); err != nil {
			return "", fmt.Errorf("epoch timestamp %s must be a whole number", x)
		}
		return x.String(), nil
	default:
		return "", fmt.Errorf("expected a timestamp, got %T", v)
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
