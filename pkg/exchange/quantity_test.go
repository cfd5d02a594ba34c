package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundDown(t *testing.T) {
	tests := []struct {
		name     string
		q        string
		step     string
		minQty   string
		decimals int32
		want     string
	}{
		{"exact multiple", "1.5", "0.1", "0.1", 1, "1.5"},
		{"floors to step", "1.2345", "0.01", "0.01", 2, "1.23"},
		{"never rounds up", "0.99999", "0.001", "0.001", 3, "0.999"},
		{"below minimum", "0.0009", "0.0001", "0.001", 4, "0"},
		{"floored below minimum", "0.0019", "0.001", "0.002", 3, "0"},
		{"coarse step", "7.9", "5", "5", 0, "5"},
		{"truncates decimals after step", "1.23456", "0.00001", "0.001", 3, "1.234"},
		{"zero input", "0", "0.01", "0.01", 2, "0"},
		{"negative input", "-1", "0.01", "0.01", 2, "0"},
		{"no step", "3.14159", "0", "0", 2, "3.14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundDown(d(tt.q), d(tt.step), d(tt.minQty), tt.decimals)
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestRoundDownIdempotentAndBounded(t *testing.T) {
	steps := []string{"0.001", "0.01", "0.1", "1", "0.00025"}
	inputs := []string{"0.0001", "0.0033", "1.23456789", "10", "99.999", "0.5", "1234.5678"}

	for _, step := range steps {
		for _, in := range inputs {
			q := d(in)
			once := RoundDown(q, d(step), d(step), 8)
			twice := RoundDown(once, d(step), d(step), 8)
			assert.True(t, once.Equal(twice), "step %s input %s: %s != %s", step, in, once, twice)
			assert.True(t, once.LessThanOrEqual(q), "step %s input %s: %s > input", step, in, once)
		}
	}
}

func TestNetQuantity(t *testing.T) {
	assert.True(t, d("0.999").Equal(NetQuantity(d("1"), d("0.001"))))
	assert.True(t, decimal.Zero.Equal(NetQuantity(d("0.001"), d("0.002"))))
}

func TestDecimalsOf(t *testing.T) {
	assert.Equal(t, int32(3), decimalsOf(d("0.00100000")))
	assert.Equal(t, int32(0), decimalsOf(d("1.00000000")))
	assert.Equal(t, int32(0), decimalsOf(d("10")))
	assert.Equal(t, int32(8), decimalsOf(decimal.Zero))
}

func TestSymbolInfoRoundQuantity(t *testing.T) {
	info := &SymbolInfo{StepSize: d("0.001"), MinQty: d("0.01"), QtyDecimals: 3}
	assert.True(t, d("0.123").Equal(info.RoundQuantity(d("0.12399"))))
	assert.True(t, info.RoundQuantity(d("0.009")).IsZero())
}
