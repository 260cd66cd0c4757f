package csvfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Run("iso layouts", func(t *testing.T) {
		cases := map[string]time.Time{
			"2024-03-15":           time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			"2024-03-15T10:30:00Z": time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
			"2024-03-15 10:30:00":  time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		}
		for input, want := range cases {
			got, err := parseDate(input, "")
			require.NoError(t, err, input)
			assert.Equal(t, want, got, input)
		}
	})

	t.Run("explicit hint wins over heuristic", func(t *testing.T) {
		got, err := parseDate("03/04/2024", FormatMonthFirst)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got)

		got, err = parseDate("03/04/2024", FormatDayFirst)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("heuristic on unambiguous components", func(t *testing.T) {
		// 25 cannot be a month, so 25/12/2024 is day-first
		got, err := parseDate("25/12/2024", "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), got)

		// 12/25/2024 must be month-first for the same reason
		got, err = parseDate("12/25/2024", "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("ambiguous defaults to day-first", func(t *testing.T) {
		got, err := parseDate("03/04/2024", "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("dash separator", func(t *testing.T) {
		got, err := parseDate("25-12-2024", "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("rejections", func(t *testing.T) {
		for _, input := range []string{
			"",
			"not-a-date",
			"31/02/2024", // does not exist
			"13/13/2024",
			"03/04/24", // two-digit year
			"1/2",
		} {
			_, err := parseDate(input, "")
			assert.Error(t, err, input)
		}
	})
}
