package csvfile

import (
	"strconv"
	"strings"
	"time"

	"github.com/reviewkit/reviewkit/pkg/errors"
)

// Date format hints accepted in ConnectorConfig.DateFormat.
const (
	FormatDayFirst   = "DD/MM/YYYY"
	FormatMonthFirst = "MM/DD/YYYY"
)

// isoLayouts are tried first, in order.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate parses a review date. Policy, in order: full ISO-8601; the
// explicit format hint when supplied; a heuristic for ambiguous NN/NN/YYYY
// strings. The heuristic treats the first component as the day when it
// exceeds 12, and assumes day-first otherwise. That default is an
// unconfirmed carry-over, which is why the explicit hint exists; callers
// with known-locale files should always set it.
func parseDate(value, formatHint string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New(errors.ErrorTypeValidation, "date is empty")
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	day, month, year, ok := splitNumericDate(value)
	if !ok {
		return time.Time{}, errors.Newf(errors.ErrorTypeParse, "unparseable date %q", value)
	}

	switch formatHint {
	case FormatDayFirst:
		// components already day-first
	case FormatMonthFirst:
		day, month = month, day
	default:
		// No hint: first component >12 cannot be a month, so it is the
		// day. Otherwise day-first is assumed.
		if month > 12 && day <= 12 {
			day, month = month, day
		}
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, errors.Newf(errors.ErrorTypeParse, "date %q has out-of-range components", value)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (e.g. Feb 31); reject it instead
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, errors.Newf(errors.ErrorTypeParse, "date %q does not exist", value)
	}

	return t, nil
}

// splitNumericDate splits NN/NN/YYYY (or NN-NN-YYYY) into first, second,
// and year components. The caller decides which of first/second is the day.
func splitNumericDate(value string) (first, second, year int, ok bool) {
	sep := "/"
	if !strings.Contains(value, "/") {
		sep = "-"
	}

	parts := strings.Split(value, sep)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}

	if len(parts[2]) != 4 {
		return 0, 0, 0, false
	}

	return nums[0], nums[1], nums[2], true
}
