package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"quantlab/config"
	"quantlab/lock"
	"quantlab/logger"
	"quantlab/metrics"
	"quantlab/strategy"
	"quantlab/walkforward"
)

// State 任务状态
// running 是唯一的非终态，终态之间不可迁移
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

// Phase 任务阶段
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseOptimizing  Phase = "optimizing"
	PhaseTraining    Phase = "training"
	PhaseTesting     Phase = "testing"
	PhaseAggregating Phase = "aggregating"
)

// 阶段权重：fetching 和 aggregating 为全局阶段，
// 中间三个阶段在每个窗口的份额内按比例分摊
const (
	weightFetching    = 0.05
	weightOptimizing  = 0.40
	weightTraining    = 0.25
	weightTesting     = 0.25
	weightAggregating = 0.05
)

var (
	// ErrTooManyTasks 全局并发上限已满
	ErrTooManyTasks = errors.New("全局运行任务数已达上限")
	// ErrOwnerBusy 单用户并发上限已满
	ErrOwnerBusy = errors.New("该用户已有运行中的任务")
	// ErrTaskNotFound 任务不存在或不属于该用户
	ErrTaskNotFound = errors.New("任务不存在")
	// ErrLockHeld 分布式锁被其他实例持有
	ErrLockHeld = errors.New("该用户的任务正在其他实例上运行")
)

// Request 分析任务请求
type Request struct {
	Owner      string                      `json:"owner"`
	Symbol     string                      `json:"symbol"`
	Interval   string                      `json:"interval"`
	Strategy   strategy.Kind               `json:"strategy"`
	BaseParams strategy.Params             `json:"base_params"`
	Dimensions []walkforward.GridDimension `json:"dimensions"`
	Start      time.Time                   `json:"start"`
	End        time.Time                   `json:"end"`
}

// Snapshot 任务状态的不可变快照
// 所有查询接口都返回副本，调用方持有的快照不会被后续更新改写
type Snapshot struct {
	ID           string               `json:"id"`
	Owner        string               `json:"owner"`
	Symbol       string               `json:"symbol"`
	Strategy     string               `json:"strategy"`
	State        State                `json:"state"`
	Phase        Phase                `json:"phase"`
	Progress     float64              `json:"progress"` // 0~1
	WindowsTotal int                  `json:"windows_total"`
	WindowsDone  int                  `json:"windows_done"`
	ETASeconds   float64              `json:"eta_seconds"` // <0 表示尚无法估算
	Error        string               `json:"error,omitempty"`
	Summary      *walkforward.Summary `json:"summary,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// entry 协调器内部的任务条目，所有字段受协调器的单把互斥锁保护
type entry struct {
	snapshot Snapshot
	cancel   context.CancelFunc
	// 窗口内当前阶段的累计完成度（0~1，跨 optimizing/training/testing 归一化）
	windowPhaseProgress float64
}

// ProgressFunc 进度订阅回调（WebSocket 推送用）
type ProgressFunc func(Snapshot)

// AnalysisRunner 执行单次分析的接口
type AnalysisRunner interface {
	Run(ctx context.Context, taskID string, req Request, progress RunProgressFunc) (*walkforward.Summary, error)
}

// Coordinator 分析任务协调器
// 单把互斥锁保护任务注册表，任何状态读写都在锁内完成
type Coordinator struct {
	mu    sync.Mutex
	tasks map[string]*entry

	cfg    config.TaskConfig
	dlock  lock.DistributedLock
	runner AnalysisRunner

	onProgress ProgressFunc
}

// NewCoordinator 创建任务协调器
func NewCoordinator(cfg config.TaskConfig, dlock lock.DistributedLock, runner AnalysisRunner) *Coordinator {
	if dlock == nil {
		dlock = lock.NewNopLock()
	}
	return &Coordinator{
		tasks:  make(map[string]*entry),
		cfg:    cfg,
		dlock:  dlock,
		runner: runner,
	}
}

// SetProgressFunc 注册进度订阅回调（在状态变更的锁外调用）
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) {
	c.mu.Lock()
	c.onProgress = fn
	c.mu.Unlock()
}

// Submit 提交分析任务
// 准入控制：全局并发上限、单用户上限、分布式锁，三者全部通过才接受任务
func (c *Coordinator) Submit(req Request) (string, error) {
	if req.Owner == "" {
		return "", fmt.Errorf("owner 不能为空")
	}
	if !req.End.After(req.Start) {
		return "", fmt.Errorf("时间区间非法: %s >= %s", req.Start, req.End)
	}

	id := newTaskID()
	lockKey := "analysis:" + req.Owner
	ttl := time.Duration(c.cfg.TimeoutMinutes) * time.Minute

	c.mu.Lock()
	running, ownerRunning := c.runningCounts(req.Owner)
	if running >= c.cfg.MaxRunning {
		c.mu.Unlock()
		return "", ErrTooManyTasks
	}
	if ownerRunning >= c.cfg.MaxPerOwner {
		c.mu.Unlock()
		return "", ErrOwnerBusy
	}

	// 锁内注册，防止并发提交竞争同一配额
	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	now := time.Now()
	e := &entry{
		snapshot: Snapshot{
			ID:           id,
			Owner:        req.Owner,
			Symbol:       req.Symbol,
			Strategy:     string(req.Strategy),
			State:        StateRunning,
			Phase:        PhaseFetching,
			ETASeconds:   -1,
			WindowsTotal: -1,
			StartedAt:    now,
			UpdatedAt:    now,
		},
		cancel: cancel,
	}
	c.tasks[id] = e
	c.mu.Unlock()

	// 分布式锁在注册表之外获取，失败则回滚注册
	acquired, err := c.dlock.TryLock(ctx, lockKey, ttl)
	if err != nil {
		c.removeTask(id)
		cancel()
		return "", fmt.Errorf("获取分布式锁失败: %w", err)
	}
	if !acquired {
		c.removeTask(id)
		cancel()
		return "", ErrLockHeld
	}

	metrics.TaskStarted()
	logger.Info("🚀 任务 %s 已提交: %s %s %s (%s ~ %s)",
		id, req.Owner, req.Symbol, req.Strategy,
		req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))

	go c.run(ctx, cancel, id, lockKey, req)

	return id, nil
}

// run 后台执行任务并在结束时落终态
func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, id, lockKey string, req Request) {
	defer cancel()
	defer func() {
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unlockCancel()
		if err := c.dlock.Unlock(unlockCtx, lockKey); err != nil {
			logger.Warn("⚠️ 释放分布式锁失败: %v", err)
		}
	}()

	go c.extendLockLoop(ctx, lockKey)

	summary, err := c.runner.Run(ctx, id, req, c.progressSink(id))

	switch {
	case err == nil:
		c.finish(id, StateCompleted, "", summary)
	case errors.Is(err, context.Canceled):
		c.finish(id, StateCancelled, "", nil)
	case errors.Is(err, context.DeadlineExceeded):
		c.finish(id, StateError, "任务超时", nil)
	default:
		c.finish(id, StateError, err.Error(), nil)
	}
}

// extendLockLoop 按心跳间隔为分布式锁续期，任务结束时随 ctx 停止
func (c *Coordinator) extendLockLoop(ctx context.Context, lockKey string) {
	ttl := time.Duration(c.cfg.TimeoutMinutes) * time.Minute
	ticker := time.NewTicker(time.Duration(c.cfg.HeartbeatSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.dlock.Extend(ctx, lockKey, ttl); err != nil {
				logger.Warn("⚠️ 分布式锁续期失败: %v", err)
			}
		}
	}
}

// Get 查询任务快照，owner 不匹配视为不存在
func (c *Coordinator) Get(id, owner string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.tasks[id]
	if !ok || e.snapshot.Owner != owner {
		return Snapshot{}, ErrTaskNotFound
	}
	return e.snapshot, nil
}

// List 列出某用户的全部任务快照
func (c *Coordinator) List(owner string) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0)
	for _, e := range c.tasks {
		if e.snapshot.Owner == owner {
			out = append(out, e.snapshot)
		}
	}
	return out
}

// Cancel 请求取消任务（协作式，实际停止发生在下一个检查点）
// 取消已到终态的任务是幂等的无操作
func (c *Coordinator) Cancel(id, owner string) error {
	c.mu.Lock()
	e, ok := c.tasks[id]
	if !ok || e.snapshot.Owner != owner {
		c.mu.Unlock()
		return ErrTaskNotFound
	}
	if e.snapshot.State != StateRunning {
		c.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	c.mu.Unlock()

	logger.Info("🛑 任务 %s 收到取消请求", id)
	cancel()
	return nil
}

// runningCounts 统计运行中任务数（调用方必须持锁）
func (c *Coordinator) runningCounts(owner string) (total, forOwner int) {
	for _, e := range c.tasks {
		if e.snapshot.State != StateRunning {
			continue
		}
		total++
		if e.snapshot.Owner == owner {
			forOwner++
		}
	}
	return total, forOwner
}

func (c *Coordinator) removeTask(id string) {
	c.mu.Lock()
	delete(c.tasks, id)
	c.mu.Unlock()
}

// progressSink 构造 runner 的进度回调：更新快照并通知订阅者
func (c *Coordinator) progressSink(id string) RunProgressFunc {
	return func(p RunProgress) {
		c.mu.Lock()
		e, ok := c.tasks[id]
		if !ok || e.snapshot.State != StateRunning {
			c.mu.Unlock()
			return
		}

		e.snapshot.Phase = p.Phase
		e.snapshot.WindowsTotal = p.WindowsTotal
		e.snapshot.WindowsDone = p.WindowsDone
		e.windowPhaseProgress = p.WindowPhaseProgress
		e.snapshot.Progress = overallProgress(p)
		e.snapshot.ETASeconds = estimateETA(e.snapshot.StartedAt, p)
		e.snapshot.UpdatedAt = time.Now()

		snap := e.snapshot
		fn := c.onProgress
		c.mu.Unlock()

		if fn != nil {
			fn(snap)
		}
	}
}

// finish 把任务迁移到终态（终态是吸收态，重复调用被忽略）
func (c *Coordinator) finish(id string, state State, errMsg string, summary *walkforward.Summary) {
	c.mu.Lock()
	e, ok := c.tasks[id]
	if !ok || e.snapshot.State != StateRunning {
		c.mu.Unlock()
		return
	}

	e.snapshot.State = state
	e.snapshot.Error = errMsg
	e.snapshot.Summary = summary
	e.snapshot.UpdatedAt = time.Now()
	e.snapshot.ETASeconds = 0
	if state == StateCompleted {
		e.snapshot.Progress = 1
	}

	snap := e.snapshot
	fn := c.onProgress
	c.mu.Unlock()

	metrics.TaskFinished(string(state), time.Since(snap.StartedAt))

	switch state {
	case StateCompleted:
		logger.Info("✅ 任务 %s 完成，耗时 %s", id, time.Since(snap.StartedAt).Round(time.Second))
	case StateCancelled:
		logger.Info("🛑 任务 %s 已取消", id)
	case StateError:
		logger.Error("❌ 任务 %s 失败: %s", id, errMsg)
	}

	if fn != nil {
		fn(snap)
	}
}

// overallProgress 按阶段权重合成总进度
// fetching 和 aggregating 是全局阶段，中间阶段按窗口份额分摊
func overallProgress(p RunProgress) float64 {
	if p.Phase == PhaseFetching {
		return weightFetching * p.WindowPhaseProgress
	}
	if p.Phase == PhaseAggregating {
		return 1 - weightAggregating + weightAggregating*p.WindowPhaseProgress
	}

	if p.WindowsTotal <= 0 {
		return weightFetching
	}

	perWindow := (weightOptimizing + weightTraining + weightTesting) / float64(p.WindowsTotal)
	progress := weightFetching + float64(p.WindowsDone)*perWindow

	// 当前窗口内按子阶段权重推进
	windowShare := 0.0
	switch p.Phase {
	case PhaseOptimizing:
		windowShare = weightOptimizing * p.WindowPhaseProgress
	case PhaseTraining:
		windowShare = weightOptimizing + weightTraining*p.WindowPhaseProgress
	case PhaseTesting:
		windowShare = weightOptimizing + weightTraining + weightTesting*p.WindowPhaseProgress
	}
	progress += windowShare / (weightOptimizing + weightTraining + weightTesting) * perWindow

	return progress
}

// estimateETA 用已完成窗口的平均耗时外推剩余时间（秒）
// 一个窗口都没完成前返回 -1
func estimateETA(startedAt time.Time, p RunProgress) float64 {
	if p.WindowsDone <= 0 || p.WindowsTotal <= 0 {
		return -1
	}
	elapsed := time.Since(startedAt).Seconds()
	perWindow := elapsed / float64(p.WindowsDone)
	remaining := float64(p.WindowsTotal-p.WindowsDone-1) + (1 - p.WindowPhaseProgress)
	if remaining < 0 {
		remaining = 0
	}
	return perWindow * remaining
}

func newTaskID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "task-" + hex.EncodeToString(b)
}
