package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCV_ParseNumber(t *testing.T) {
	t.Parallel()

	testTable := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"36,50", 36.5, false},
		{"1.234,56", 1234.56, false},
		{"  103,2110 ", 103.211, false},
		{"", 0, true},
		{"abc", 0, true},
	}

	for _, testCase := range testTable {
		value, err := parseBCVNumber(testCase.input)

		if testCase.wantErr {
			assert.Error(t, err)

			continue
		}

		require.NoError(t, err)
		assert.InEpsilon(t, testCase.expected, value, 1e-9)
	}
}

func TestBCV_ParseSpanishDate(t *testing.T) {
	t.Parallel()

	t.Run("with day of week", func(t *testing.T) {
		t.Parallel()

		parsed, err := parseSpanishDate("Martes, 13 Enero 2026")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.January, 13, 0, 0, 0, 0, time.UTC), parsed)
	})

	t.Run("without day of week", func(t *testing.T) {
		t.Parallel()

		parsed, err := parseSpanishDate("5 Septiembre 2025")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, time.September, 5, 0, 0, 0, 0, time.UTC), parsed)
	})

	t.Run("invalid month", func(t *testing.T) {
		t.Parallel()

		_, err := parseSpanishDate("13 Januar 2026")

		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Parallel()

		_, err := parseSpanishDate("2026-01-13")

		assert.Error(t, err)
	})
}
