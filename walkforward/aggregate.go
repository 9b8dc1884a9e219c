package walkforward

import (
	"math"

	"quantlab/backtest"
)

// Aggregate 把各窗口的样本外结果汇总为一份整体报告
// 收益跨窗口复利：每个窗口的测试期收益作用在上一窗口结束时的余额上
func Aggregate(symbol, strategyName string, initialBalance float64, results []WindowResult) Summary {
	s := Summary{
		Symbol:         symbol,
		Strategy:       strategyName,
		Windows:        results,
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		BestWindow:     -1,
		WorstWindow:    -1,
	}

	if len(results) == 0 {
		return s
	}

	profitable := 0
	returns := make([]float64, 0, len(results))
	scale := 1.0 // 当前窗口起始余额相对初始余额的复利倍数

	for i, r := range results {
		for _, pt := range r.TestEquity {
			s.Equity = append(s.Equity, backtest.EquityPoint{
				Timestamp: pt.Timestamp,
				Balance:   pt.Balance * scale,
			})
		}
		scale *= 1 + r.TestReturnPct/100
		s.FinalBalance *= 1 + r.TestReturnPct/100
		s.TotalTestTrades += r.TestTrades
		returns = append(returns, r.TestReturnPct)

		if r.TestReturnPct > 0 {
			profitable++
		}
		if r.Fallback {
			s.FallbackWindows++
		}
		if r.TestStats.MaxDrawdownPct > s.MaxWindowDrawdown {
			s.MaxWindowDrawdown = r.TestStats.MaxDrawdownPct
		}
		if s.BestWindow < 0 || r.TestReturnPct > results[s.BestWindow].TestReturnPct {
			s.BestWindow = i
		}
		if s.WorstWindow < 0 || r.TestReturnPct < results[s.WorstWindow].TestReturnPct {
			s.WorstWindow = i
		}
	}

	if initialBalance > 0 {
		s.CompoundedReturnPct = (s.FinalBalance - initialBalance) / initialBalance * 100
	}
	s.Consistency = float64(profitable) / float64(len(results)) * 100

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	s.AvgReturnPct = mean

	if len(returns) > 1 {
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns) - 1)
		s.ReturnStdDev = math.Sqrt(variance)
	}

	return s
}
