package walkforward

import (
	"fmt"
	"strings"
	"time"

	"quantlab/utils"
)

func fmtDay(t time.Time) string {
	return utils.ToConfiguredTimezone(t).Format("2006-01-02")
}

func fmtShort(t time.Time) string {
	return utils.ToConfiguredTimezone(t).Format("01-02")
}

// FormatReport 生成文本格式的走查报告
func FormatReport(s Summary) string {
	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════\n")
	fmt.Fprintf(&b, "📊 走查分析报告: %s / %s\n", s.Symbol, s.Strategy)
	b.WriteString("═══════════════════════════════════════════════\n")
	fmt.Fprintf(&b, "窗口数:       %d\n", len(s.Windows))
	fmt.Fprintf(&b, "初始余额:     %.2f\n", s.InitialBalance)
	fmt.Fprintf(&b, "最终余额:     %.2f\n", s.FinalBalance)
	fmt.Fprintf(&b, "复利总收益:   %.2f%%\n", s.CompoundedReturnPct)
	fmt.Fprintf(&b, "平均窗口收益: %.2f%% (标准差 %.2f)\n", s.AvgReturnPct, s.ReturnStdDev)
	fmt.Fprintf(&b, "盈利窗口占比: %.0f%%\n", s.Consistency)
	fmt.Fprintf(&b, "最大窗口回撤: %.2f%%\n", s.MaxWindowDrawdown)
	fmt.Fprintf(&b, "样本外交易数: %d\n", s.TotalTestTrades)
	if s.FallbackWindows > 0 {
		fmt.Fprintf(&b, "⚠️ 回退窗口数: %d（该窗口全部候选被淘汰）\n", s.FallbackWindows)
	}

	if s.BestWindow >= 0 {
		best := s.Windows[s.BestWindow]
		fmt.Fprintf(&b, "最佳窗口:     #%d (%s ~ %s) %.2f%%\n",
			best.Window.Index, fmtDay(best.Window.TestStart), fmtDay(best.Window.TestEnd),
			best.TestReturnPct)
	}
	if s.WorstWindow >= 0 {
		worst := s.Windows[s.WorstWindow]
		fmt.Fprintf(&b, "最差窗口:     #%d (%s ~ %s) %.2f%%\n",
			worst.Window.Index, fmtDay(worst.Window.TestStart), fmtDay(worst.Window.TestEnd),
			worst.TestReturnPct)
	}

	b.WriteString("───────────────────────────────────────────────\n")
	for _, w := range s.Windows {
		marker := "  "
		if w.Fallback {
			marker = "⚠️"
		}
		fmt.Fprintf(&b, "%s 窗口 #%-3d 训练 %s~%s 测试 %s~%s 收益 %7.2f%% 交易 %d\n",
			marker, w.Window.Index,
			fmtShort(w.Window.TrainStart), fmtShort(w.Window.TrainEnd),
			fmtShort(w.Window.TestStart), fmtShort(w.Window.TestEnd),
			w.TestReturnPct, w.TestTrades)
	}
	b.WriteString("═══════════════════════════════════════════════\n")

	return b.String()
}
