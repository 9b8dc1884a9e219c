package backtest

import (
	"math"
)

// Stats 回测统计指标
type Stats struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalReturnPct  float64 `json:"total_return_pct"`
	TotalNetPnL     float64 `json:"total_net_pnl"`
	TotalFees       float64 `json:"total_fees"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	ProfitFactor    float64 `json:"profit_factor"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	LargestWin      float64 `json:"largest_win"`
	LargestLoss     float64 `json:"largest_loss"`
	MaxWinStreak    int     `json:"max_win_streak"`
	MaxLossStreak   int     `json:"max_loss_streak"`
	StopLossExits   int     `json:"stop_loss_exits"`
	TakeProfitExits int     `json:"take_profit_exits"`
	SignalExits     int     `json:"signal_exits"`
}

// CalculateStats 从交易记录和权益序列计算统计指标
func CalculateStats(trades []*SimulatedTrade, equity []EquityPoint, initialBalance float64) Stats {
	var s Stats

	var grossProfit, grossLoss float64
	var winStreak, lossStreak int

	for _, t := range trades {
		if t.IsOpen {
			continue
		}
		s.TotalTrades++
		s.TotalNetPnL += t.NetPnL
		s.TotalFees += t.EntryFee + t.ExitFee

		switch t.ExitReason {
		case ExitReasonStopLoss:
			s.StopLossExits++
		case ExitReasonTakeProfit:
			s.TakeProfitExits++
		case ExitReasonSignal:
			s.SignalExits++
		}

		if t.NetPnL > 0 {
			s.WinningTrades++
			grossProfit += t.NetPnL
			s.AvgWin += t.NetPnL
			if t.NetPnL > s.LargestWin {
				s.LargestWin = t.NetPnL
			}
			winStreak++
			lossStreak = 0
			if winStreak > s.MaxWinStreak {
				s.MaxWinStreak = winStreak
			}
		} else {
			s.LosingTrades++
			grossLoss += math.Abs(t.NetPnL)
			s.AvgLoss += t.NetPnL
			if t.NetPnL < s.LargestLoss {
				s.LargestLoss = t.NetPnL
			}
			lossStreak++
			winStreak = 0
			if lossStreak > s.MaxLossStreak {
				s.MaxLossStreak = lossStreak
			}
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AvgWin /= float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss /= float64(s.LosingTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		s.ProfitFactor = math.Inf(1)
	}

	if initialBalance > 0 && len(equity) > 0 {
		final := equity[len(equity)-1].Balance
		s.TotalReturnPct = (final - initialBalance) / initialBalance * 100
	}

	s.MaxDrawdownPct = calculateMaxDrawdown(equity, initialBalance)
	s.SharpeRatio = calculateSharpe(equity)

	return s
}

// calculateMaxDrawdown 峰值到谷值的最大回撤（百分比，非负数）
func calculateMaxDrawdown(equity []EquityPoint, initialBalance float64) float64 {
	peak := initialBalance
	maxDD := 0.0

	for _, p := range equity {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			dd := (peak - p.Balance) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateSharpe 基于逐K线收益率的简化夏普比率（未年化）
func calculateSharpe(equity []EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Balance
		if prev <= 0 {
			continue
		}
		returns = append(returns, (equity[i].Balance-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(len(returns)))
}
