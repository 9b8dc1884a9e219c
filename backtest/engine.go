package backtest

import (
	"fmt"

	"quantlab/exchange"
	"quantlab/logger"
	"quantlab/metrics"
	"quantlab/strategy"
)

// Engine 历史行情模拟引擎
// 状态机：Flat → (BUY/SELL) → Open(side) → (TP/SL/CLOSE/反向信号) → Flat
// 同一时刻最多一个持仓
type Engine struct {
	candles []*exchange.Candle
	adapter strategy.Adapter
	cfg     Config

	balance    float64
	open       *SimulatedTrade
	entryIndex int  // 开仓所在K线下标（入场K线保护用）
	justClosed bool // 本根K线刚平仓，禁止同K线再次入场

	equity         []EquityPoint
	trades         []*SimulatedTrade
	evalErrors     int
	ignoredEntries int
}

// Simulate 运行回测：逐K线重放行情驱动策略适配器
// K线数量不足策略所需回看长度时返回 ErrInsufficientData
func Simulate(candles []*exchange.Candle, adapter strategy.Adapter, cfg Config) (*Result, error) {
	minRequired := adapter.MinCandles()
	if len(candles) <= minRequired {
		return nil, fmt.Errorf("%w: %d 根K线不足以满足策略回看长度 %d",
			exchange.ErrInsufficientData, len(candles), minRequired)
	}

	e := &Engine{
		candles: candles,
		adapter: adapter,
		cfg:     cfg,
		balance: cfg.InitialBalance,
		equity:  make([]EquityPoint, 0, len(candles)),
		trades:  make([]*SimulatedTrade, 0),
	}

	adapter.SyncPosition(strategy.PositionState{})

	for i := minRequired; i < len(candles); i++ {
		e.step(i)
	}

	// 最后一根K线后仍有持仓，按收盘价强制平仓
	if e.open != nil {
		last := len(candles) - 1
		e.closePosition(last, candles[last].Close, ExitReasonEndOfPeriod)
		logger.Debug("📊 回测结束，强制平仓 (%s)", ExitReasonEndOfPeriod)
	}

	metrics.RecordSimulation(len(candles))

	result := &Result{
		Symbol:         candles[0].Symbol,
		Strategy:       adapter.Name(),
		StartTime:      candles[0].OpenTime,
		EndTime:        candles[len(candles)-1].CloseTime,
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   e.balance,
		Trades:         e.trades,
		Equity:         e.equity,
		EvalErrors:     e.evalErrors,
	}
	result.Stats = CalculateStats(e.trades, e.equity, cfg.InitialBalance)

	return result, nil
}

// step 处理第 i 根K线
func (e *Engine) step(i int) {
	e.justClosed = false
	candle := e.candles[i]

	// 策略只能看到 [0..i-1] 的已收盘K线，第 i 根作为正在形成的K线传入
	sig, err := e.adapter.Evaluate(e.candles[:i], candle)
	if err != nil {
		// 单根K线的评估错误被隔离：降级为 HOLD，回测继续
		e.evalErrors++
		logger.Debug("⚠️ 策略评估失败（第 %d 根），降级为 HOLD: %v", i, err)
		sig = strategy.Hold()
	}

	// 持仓时先检查离场条件，再考虑入场信号
	if e.open != nil {
		e.checkExits(i, sig)
	}

	if e.open == nil && !e.justClosed && (sig.Action == strategy.ActionBuy || sig.Action == strategy.ActionSell) {
		e.openPosition(i, sig)
		// 入场当根也做盘中离场检测：止损可触发，止盈受入场K线保护
		if e.open != nil {
			e.checkExits(i, strategy.Hold())
		}
	} else if e.open != nil && (sig.Action == strategy.ActionBuy || sig.Action == strategy.ActionSell) {
		// 持仓期间的新入场信号直接忽略，不排队
		e.ignoredEntries++
		logger.Debug("⏸️ 已有持仓，忽略入场信号 %s（第 %d 根）", sig.Action, i)
	}

	e.equity = append(e.equity, EquityPoint{
		Timestamp: candle.CloseTime,
		Balance:   e.balance,
	})
}

// checkExits 检查持仓离场条件
func (e *Engine) checkExits(i int, sig strategy.Signal) {
	candle := e.candles[i]
	trade := e.open
	params := e.adapter.Params()

	// 1. 策略显式给出的平仓原因优先
	if sig.ExitReason != "" {
		price := candle.Close
		if sig.Price > 0 {
			price = sig.Price
		}
		e.closePosition(i, price, sig.ExitReason)
		return
	}

	// 2. 止损/止盈：用K线的最高/最低价做盘中检测
	//    同K线内止损止盈都触发时，止损优先（保守原则）
	//    入场K线保护：开仓当根只允许止损，止盈推迟到下一根
	entryCandle := i == e.entryIndex

	if trade.Side == strategy.SideLong {
		if params.StopLossPct > 0 {
			stop := trade.EntryPrice * (1 - params.StopLossPct)
			if candle.Low <= stop {
				e.closePosition(i, stop, ExitReasonStopLoss)
				return
			}
		}
		if params.TakeProfitPct > 0 && !entryCandle {
			target := trade.EntryPrice * (1 + params.TakeProfitPct)
			if candle.High >= target {
				e.closePosition(i, target, ExitReasonTakeProfit)
				return
			}
		}
	} else {
		if params.StopLossPct > 0 {
			stop := trade.EntryPrice * (1 + params.StopLossPct)
			if candle.High >= stop {
				e.closePosition(i, stop, ExitReasonStopLoss)
				return
			}
		}
		if params.TakeProfitPct > 0 && !entryCandle {
			target := trade.EntryPrice * (1 - params.TakeProfitPct)
			if candle.Low <= target {
				e.closePosition(i, target, ExitReasonTakeProfit)
				return
			}
		}
	}

	// 3. CLOSE 信号：按当前收盘价平仓
	if sig.Action == strategy.ActionClose {
		e.closePosition(i, candle.Close, ExitReasonClose)
		return
	}

	// 4. 反向入场信号先平掉当前持仓
	if (sig.Action == strategy.ActionBuy && trade.Side == strategy.SideShort) ||
		(sig.Action == strategy.ActionSell && trade.Side == strategy.SideLong) {
		e.closePosition(i, candle.Close, ExitReasonSignal)
	}
}

// openPosition 开仓：以第 i 根K线的开盘价入场（不是触发信号的收盘价）
func (e *Engine) openPosition(i int, sig strategy.Signal) {
	if e.balance <= 0 {
		return
	}

	candle := e.candles[i]
	side := strategy.SideLong
	if sig.Action == strategy.ActionSell {
		side = strategy.SideShort
	}

	// 点差方向性施加：买方付卖价，卖方收买价
	entryPrice := candle.Open
	if side == strategy.SideLong {
		entryPrice *= 1 + e.cfg.Spread
	} else {
		entryPrice *= 1 - e.cfg.Spread
	}

	// 仓位按余额比例计算
	quantity := e.balance * e.cfg.RiskFraction / entryPrice
	if quantity <= 0 {
		return
	}

	notional := quantity * entryPrice
	entryFee := notional * e.cfg.FeeRate

	// 开仓手续费立即从余额扣除
	e.balance -= entryFee

	trade := &SimulatedTrade{
		EntryTime:  candle.OpenTime,
		EntryPrice: entryPrice,
		Side:       side,
		Quantity:   quantity,
		Notional:   notional,
		EntryFee:   entryFee,
		IsOpen:     true,
	}
	e.open = trade
	e.entryIndex = i
	e.trades = append(e.trades, trade)

	e.adapter.SyncPosition(strategy.PositionState{
		Side:       side,
		EntryPrice: entryPrice,
		EntryTime:  candle.OpenTime,
	})

	logger.Debug("📈 开仓 %s: 价格=%.4f, 数量=%.6f, 手续费=%.4f", side, entryPrice, quantity, entryFee)
}

// closePosition 平仓：对原始价格施加点差后结算
func (e *Engine) closePosition(i int, rawPrice float64, reason string) {
	trade := e.open
	candle := e.candles[i]

	// 多头离场收买价，空头回补付卖价
	exitPrice := rawPrice
	if trade.Side == strategy.SideLong {
		exitPrice *= 1 - e.cfg.Spread
	} else {
		exitPrice *= 1 + e.cfg.Spread
	}

	// 退出手续费按点差调整后的名义价值计算
	exitNotional := trade.Quantity * exitPrice
	exitFee := exitNotional * e.cfg.FeeRate

	// 杠杆只放大毛盈亏
	var gross float64
	if trade.Side == strategy.SideLong {
		gross = (exitPrice - trade.EntryPrice) * trade.Quantity * e.cfg.Leverage
	} else {
		gross = (trade.EntryPrice - exitPrice) * trade.Quantity * e.cfg.Leverage
	}

	net := gross - trade.EntryFee - exitFee

	// 开仓手续费已在入场时扣除
	e.balance += gross - exitFee

	trade.ExitTime = candle.CloseTime
	trade.ExitPrice = exitPrice
	trade.ExitFee = exitFee
	trade.GrossPnL = gross
	trade.NetPnL = net
	trade.ExitReason = reason
	trade.IsOpen = false

	e.open = nil
	e.justClosed = true

	e.adapter.SyncPosition(strategy.PositionState{})

	logger.Debug("📉 平仓 %s (%s): 价格=%.4f, 净盈亏=%.4f, 余额=%.4f",
		trade.Side, reason, exitPrice, net, e.balance)
}
