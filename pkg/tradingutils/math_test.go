package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestWeightedAverageCost(t *testing.T) {
	tests := []struct {
		name      string
		oldQty    string
		oldAvg    string
		fillQty   string
		fillPrice string
		want      string
	}{
		{"first fill", "0", "0", "2", "50", "50"},
		{"equal weights", "2", "50", "2", "60", "55"},
		{"heavier existing position", "8", "10", "2", "20", "12"},
		{"fractional quantities", "1.5", "100", "0.5", "80", "95"},
		{"repeating division rounds at cost precision", "1", "1", "2", "2", "1.66666667"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverageCost(d(tt.oldQty), d(tt.oldAvg), d(tt.fillQty), d(tt.fillPrice))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestWeightedAverageCost_ZeroTotal(t *testing.T) {
	got := WeightedAverageCost(d("0"), d("0"), d("0"), d("50"))
	assert.True(t, got.IsZero())
}

func TestNotional(t *testing.T) {
	assert.True(t, d("100").Equal(Notional(d("2"), d("50"))))
	assert.True(t, d("1.25").Equal(Notional(d("0.5"), d("2.5"))))
}
