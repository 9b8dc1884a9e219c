package walkforward

import (
	"context"
	"fmt"
	"math"

	"quantlab/backtest"
	"quantlab/exchange"
	"quantlab/logger"
	"quantlab/strategy"
)

// Metric 候选参数的评分函数
type Metric func(stats backtest.Stats) float64

// RobustScore 稳健评分：总收益减去两倍最大回撤
// 高收益高回撤的参数组会被显著惩罚
func RobustScore(stats backtest.Stats) float64 {
	return stats.TotalReturnPct - 2*stats.MaxDrawdownPct
}

// SharpeScore 夏普比率评分
func SharpeScore(stats backtest.Stats) float64 {
	return stats.SharpeRatio
}

// MetricByName 按配置名称选择评分函数
func MetricByName(name string) (Metric, error) {
	switch name {
	case "robust_score", "":
		return RobustScore, nil
	case "sharpe":
		return SharpeScore, nil
	default:
		return nil, fmt.Errorf("未知评分指标: %s", name)
	}
}

// ExpandGrid 展开参数网格为候选列表
// 枚举顺序稳定：第一个维度变化最慢，最后一个维度变化最快
func ExpandGrid(base strategy.Params, dims []GridDimension) ([]strategy.Params, error) {
	for _, dim := range dims {
		if len(dim.Values) == 0 {
			return nil, fmt.Errorf("网格维度 %s 没有取值", dim.Key)
		}
	}

	candidates := []strategy.Params{base}
	for _, dim := range dims {
		next := make([]strategy.Params, 0, len(candidates)*len(dim.Values))
		for _, c := range candidates {
			for _, v := range dim.Values {
				merged, err := c.With(dim.Key, v)
				if err != nil {
					return nil, fmt.Errorf("网格维度 %s 非法: %w", dim.Key, err)
				}
				next = append(next, merged)
			}
		}
		candidates = next
	}
	return candidates, nil
}

// Optimizer 训练期参数网格优化器
type Optimizer struct {
	Kind       strategy.Kind
	Base       strategy.Params
	Dimensions []GridDimension
	Guardrails Guardrails
	Metric     Metric
	Backtest   backtest.Config

	// OnCandidate 每个候选评估完成后回调（进度上报用），可为 nil
	OnCandidate func(done, total int)
}

// Optimize 在训练K线上遍历网格，返回最优参数
// 得分严格更高才取代当前最优（并列时先到先得）
// 全部候选被淘汰时回退到基准参数并标记 Fallback
func (o *Optimizer) Optimize(ctx context.Context, candles []*exchange.Candle) (*OptimizeResult, error) {
	candidates, err := ExpandGrid(o.Base, o.Dimensions)
	if err != nil {
		return nil, err
	}

	result := &OptimizeResult{
		BestScore: math.Inf(-1),
		Trace:     make([]CandidateTrace, 0, len(candidates)),
	}

	for i, params := range candidates {
		// 候选之间检查取消请求，保证协作式中断的响应延迟不超过一次回测
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trace := o.evaluate(ctx, candles, params)
		result.Trace = append(result.Trace, trace)

		if !trace.Rejected && trace.Score > result.BestScore {
			result.Best = params
			result.BestScore = trace.Score
		}

		if o.OnCandidate != nil {
			o.OnCandidate(i+1, len(candidates))
		}
	}

	if math.IsInf(result.BestScore, -1) {
		logger.Warn("⚠️ 全部 %d 个候选参数被淘汰，回退到基准参数", len(candidates))
		result.Best = o.Base
		result.Fallback = true
	}

	return result, nil
}

// evaluate 评估单个候选：训练期回测 + 淘汰规则 + 评分
func (o *Optimizer) evaluate(ctx context.Context, candles []*exchange.Candle, params strategy.Params) CandidateTrace {
	trace := CandidateTrace{Params: params, Score: math.Inf(-1)}

	adapter, err := strategy.New(o.Kind, params)
	if err != nil {
		trace.Rejected = true
		trace.Reason = fmt.Sprintf("参数非法: %v", err)
		return trace
	}

	result, err := backtest.Simulate(candles, adapter, o.Backtest)
	if err != nil {
		trace.Rejected = true
		trace.Reason = fmt.Sprintf("回测失败: %v", err)
		return trace
	}
	trace.Stats = result.Stats

	if reason := o.checkGuardrails(result); reason != "" {
		trace.Rejected = true
		trace.Reason = reason
		return trace
	}

	trace.Score = o.Metric(result.Stats)
	if math.IsNaN(trace.Score) {
		trace.Rejected = true
		trace.Score = math.Inf(-1)
		trace.Reason = "评分为 NaN"
	}
	return trace
}

// checkGuardrails 淘汰规则，返回非空字符串表示淘汰原因
func (o *Optimizer) checkGuardrails(result *backtest.Result) string {
	g := o.Guardrails

	completed := result.CompletedTrades()
	if g.MinTrades > 0 && completed < g.MinTrades {
		return fmt.Sprintf("交易数不足: %d < %d", completed, g.MinTrades)
	}

	if g.MaxDrawdownPct > 0 && result.Stats.MaxDrawdownPct > g.MaxDrawdownPct {
		return fmt.Sprintf("回撤超限: %.2f%% > %.2f%%", result.Stats.MaxDrawdownPct, g.MaxDrawdownPct)
	}

	// 彩票交易检测：总盈利主要来自单笔交易的候选不可信
	if g.LotteryTradeFraction > 0 && result.Stats.TotalNetPnL > 0 {
		for _, t := range result.Trades {
			if t.IsOpen {
				continue
			}
			if t.NetPnL > result.Stats.TotalNetPnL*g.LotteryTradeFraction {
				return fmt.Sprintf("单笔盈利占比超限: %.2f > %.2f×%.2f",
					t.NetPnL, g.LotteryTradeFraction, result.Stats.TotalNetPnL)
			}
		}
	}

	return ""
}
