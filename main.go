package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantlab/backtest"
	"quantlab/config"
	"quantlab/database"
	"quantlab/exchange"
	"quantlab/lock"
	"quantlab/logger"
	"quantlab/task"
	"quantlab/utils"
	"quantlab/walkforward"
	"quantlab/web"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("version", false, "显示版本号")
	flag.Parse()

	if *showVersion {
		fmt.Printf("quantlab %s\n", Version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Fatal("时区配置非法: %v", err)
	}
	logger.SetLocation(utils.GlobalLocation)

	logger.Info("🚀 quantlab %s 启动", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── K线数据源（Binance + CSV缓存）──
	binanceSource := exchange.NewBinanceSource(
		cfg.Exchange.APIKey, cfg.Exchange.SecretKey,
		cfg.Exchange.RateLimit, cfg.Exchange.MinCandles)
	source, err := exchange.NewCachingSource(binanceSource, cfg.Exchange.CacheDir)
	if err != nil {
		logger.Fatal("初始化数据缓存失败: %v", err)
	}

	// ── 结果持久化 ──
	repo, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败: %v", err)
	}
	defer repo.Close()
	logger.Info("💾 数据库就绪: %s", cfg.Database.Type)

	// ── 分布式锁（多实例部署）──
	dlock, err := lock.New(&cfg.Lock)
	if err != nil {
		logger.Fatal("初始化分布式锁失败: %v", err)
	}
	defer dlock.Close()

	// ── 走查执行器与任务协调器 ──
	metric, err := walkforward.MetricByName(cfg.WalkForward.Metric)
	if err != nil {
		logger.Fatal("优化指标配置非法: %v", err)
	}

	runner := &task.Runner{
		Source: source,
		Backtest: backtestConfig(cfg),
		Windows: walkforward.WindowConfig{
			Mode:         walkforward.Mode(cfg.WalkForward.Mode),
			TrainingDays: cfg.WalkForward.TrainingDays,
			TestDays:     cfg.WalkForward.TestDays,
			StepDays:     cfg.WalkForward.StepDays,
		},
		Guardrails: walkforward.Guardrails{
			MinTrades:            cfg.WalkForward.Guardrails.MinTrades,
			MaxDrawdownPct:       cfg.WalkForward.Guardrails.MaxDrawdownPct,
			LotteryTradeFraction: cfg.WalkForward.Guardrails.LotteryTradeFraction,
		},
		Metric: metric,
		Repo:   repo,
	}
	coordinator := task.NewCoordinator(cfg.Task, dlock, runner)

	// ── 配置热重载（仅日志级别等安全字段）──
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		logger.SetLevel(logger.ParseLogLevel(next.System.LogLevel))
	})
	if err != nil {
		logger.Warn("⚠️ 配置监控器创建失败: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 配置监控启动失败: %v", err)
		}
		defer watcher.Stop()
	}

	// ── Web 服务 ──
	if !cfg.Web.Enabled {
		logger.Info("⏳ Web 服务未启用，仅等待退出信号")
		<-ctx.Done()
		logger.Info("👋 quantlab 已退出")
		return
	}

	server := web.NewServer(cfg.Web, cfg.Task, coordinator, repo)
	if err := server.Start(ctx); err != nil {
		logger.Fatal("Web 服务异常退出: %v", err)
	}

	// 给运行中任务一个短暂的收尾窗口
	time.Sleep(200 * time.Millisecond)
	logger.Info("👋 quantlab 已退出")
}

func backtestConfig(cfg *config.Config) backtest.Config {
	return backtest.Config{
		InitialBalance: cfg.Backtest.InitialBalance,
		FeeRate:        cfg.Backtest.FeeRate,
		Spread:         cfg.Backtest.Spread,
		Leverage:       cfg.Backtest.Leverage,
		RiskFraction:   cfg.Backtest.RiskFraction,
	}
}
