package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"0":        "Rp 0",
		"500":      "Rp 500",
		"2500":     "Rp 2.500",
		"40000":    "Rp 40.000",
		"1234567":  "Rp 1.234.567",
		"1250.5":   "Rp 1.250,50",
		"-1500":    "-Rp 1.500",
		"100000.0": "Rp 100.000",
	}
	for in, want := range cases {
		assert.Equal(t, want, Format(decimal.RequireFromString(in)), in)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse(" 35000 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(35000)))

	_, err = Parse("")
	assert.Error(t, err)

	_, err = Parse("Rp 10")
	assert.Error(t, err)
}

func TestSum(t *testing.T) {
	total := Sum(decimal.NewFromInt(5000), decimal.NewFromInt(35000), decimal.RequireFromString("0.5"))
	assert.Equal(t, "40000.5", total.String())
	assert.True(t, Sum().IsZero())
}
