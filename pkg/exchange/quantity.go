package exchange

import "github.com/shopspring/decimal"

// NetQuantity 成交数量扣除手续费后的可平数量
func NetQuantity(filled, fee decimal.Decimal) decimal.Decimal {
	net := filled.Sub(fee)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// RoundDown 按 stepSize 向下取整并截断到 decimals 位，小于 minQty 返回 0
// 结果不会大于输入
func RoundDown(q, stepSize, minQty decimal.Decimal, decimals int32) decimal.Decimal {
	if !q.IsPositive() {
		return decimal.Zero
	}
	if stepSize.IsPositive() {
		q = q.Div(stepSize).Floor().Mul(stepSize)
	}
	q = q.Truncate(decimals)
	if q.LessThan(minQty) || !q.IsPositive() {
		return decimal.Zero
	}
	return q
}

// RoundQuantity 按交易对信息取整
func (s *SymbolInfo) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return RoundDown(q, s.StepSize, s.MinQty, s.QtyDecimals)
}

// decimalsOf 由 stepSize 推导小数位，例如 0.00100000 -> 3
func decimalsOf(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 8
	}
	var n int32
	for n < 18 && !step.Truncate(n).Equal(step) {
		n++
	}
	return n
}
