// C:/workspace/go/Swarm-Coverage-Go/trainer/trainer.go
//
// Package trainer 驱动完整的 QMIX 训练流程: 采样回合、存入回放缓冲区、
// 批量更新、探索率调度、周期性日志与覆盖率崩溃后的自动恢复。
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math/rand/v2"
	"time"

	"Swarm-Coverage/checkpoint"
	"Swarm-Coverage/config"
	"Swarm-Coverage/learner"
	"Swarm-Coverage/memory"
	"Swarm-Coverage/metrics"
	"Swarm-Coverage/network"
	"Swarm-Coverage/schedule"
	"Swarm-Coverage/simulation"
)

// Window 是一个日志窗口 (最近 LogInterval 个回合) 的汇总。
type Window struct {
	Episode  int
	Epsilon  float64
	Stats    metrics.Aggregate
	Loss     float64 // 窗口内更新的平均损失，没有更新时为 0
	Updates  int
	Decision Decision
}

// Observer 接收训练过程中的窗口汇总，例如报表收集器。
type Observer interface {
	OnWindow(w Window)
}

// Result 汇总一次训练。
type Result struct {
	Episodes     int
	Final        metrics.Aggregate
	Windows      []Window
	BestCoverage float64
	Restores     int
	Checkpoint   string
}

// Trainer 持有一次训练运行的全部状态。同一时间只能在一个 goroutine 中使用。
type Trainer struct {
	scenario config.Scenario
	hyper    config.Hyperparameters
	logger   *log.Logger
	observer Observer

	env      *simulation.GridEnvironment
	params   *network.ParameterSet
	learner  *learner.Learner
	memory   *memory.EpisodeMemory
	epsilon  *schedule.EpsilonSchedule
	recovery *RecoveryMonitor
	policy   *policy

	history []metrics.EpisodeStats
	losses  []float64
	now     func() time.Time
}

// New 校验配置并构建环境、网络、学习器与回放缓冲区。
func New(scenario config.Scenario, envParams config.EnvParams, hyper config.Hyperparameters, logger *log.Logger) (*Trainer, error) {
	if err := hyper.Validate(); err != nil {
		return nil, err
	}
	env, err := simulation.NewGridEnvironment(scenario, envParams, hyper.Seed)
	if err != nil {
		return nil, fmt.Errorf("create environment: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	obsDim := env.ObservationSize()
	dims := network.Dims{
		NumAgents:    scenario.NumAgents,
		ObsDim:       obsDim,
		StateDim:     obsDim,
		NumActions:   simulation.NumActions,
		HiddenDim:    hyper.AgentHiddenDim,
		MixingHidden: hyper.MixingHiddenDim,
		HyperHidden:  hyper.HyperHiddenDim,
	}
	params := network.NewParameterSet(dims, rand.New(rand.NewPCG(hyper.Seed, config.StreamQMIXInit)))

	t := &Trainer{
		scenario: scenario,
		hyper:    hyper,
		logger:   logger,
		env:      env,
		params:   params,
		learner:  learner.New(params, hyper),
		memory:   memory.NewEpisodeMemory(hyper.BufferSize, rand.New(rand.NewPCG(hyper.Seed, config.StreamQMIXReplay))),
		epsilon:  schedule.FromConfig(hyper, scenario.ObstacleDensity),
		recovery: NewRecoveryMonitor(hyper.Recovery, scenario.ObstacleDensity, hyper.LogInterval),
		policy:   newPolicy(params.Agents, rand.New(rand.NewPCG(hyper.Seed, config.StreamQMIXActions)), hyper.UseAvailableActions),
		now:      time.Now,
	}
	return t, nil
}

// SetObserver 注册窗口汇总的接收者。
func (t *Trainer) SetObserver(o Observer) { t.observer = o }

// Params 返回在线参数。
func (t *Trainer) Params() *network.ParameterSet { return t.params }

// History 返回已完成回合的指标。
func (t *Trainer) History() []metrics.EpisodeStats { return t.history }

// WarmStart 从课程学习的上一阶段加载参数。文件不存在或结构不兼容时只记录警告，
// 使用新初始化的参数继续训练，返回是否真正加载。
func (t *Trainer) WarmStart(path string) bool {
	if path == "" {
		return false
	}
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			t.logger.Printf("⚠️ 初始检查点 %s 不存在，使用随机初始化", path)
		} else {
			t.logger.Printf("⚠️ 读取初始检查点失败: %v，使用随机初始化", err)
		}
		return false
	}
	if err := ckpt.ApplyTo(t.params); err != nil {
		t.logger.Printf("⚠️ 初始检查点与当前场景不兼容 (%dx%d, %d 个智能体): %v，使用随机初始化",
			ckpt.MapHeight, ckpt.MapWidth, ckpt.NumAgents, err)
		return false
	}
	t.learner.SyncTargets()
	t.logger.Printf("🔁 已从 %s 热启动 (地图 %dx%d, 障碍物密度 %.2f)", path, ckpt.MapHeight, ckpt.MapWidth, ckpt.ObstacleDensity)
	return true
}

// Run 执行配置的全部回合。ctx 在回合之间检查，取消时返回已完成部分的结果和 ctx 的错误，
// 不会写检查点。
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	h := t.hyper
	tier := config.TierFor(t.scenario.ObstacleDensity)
	t.logger.Printf("🚀 开始训练: 地图 %dx%d, %d 个智能体, 障碍物密度 %.2f (%s), 参数量 %d",
		t.scenario.Height, t.scenario.Width, t.scenario.NumAgents, t.scenario.ObstacleDensity, tier, t.params.NumParams())
	t.logger.Printf("探索率: 起始 %.2f, 下限 %.3f, 衰减 %.5f", h.EpsilonStart, t.epsilon.Floor(), t.epsilon.Decay())
	t.WarmStart(h.InitCheckpoint)

	var res Result
	for episode := 1; episode <= h.Episodes; episode++ {
		if err := ctx.Err(); err != nil {
			res.Episodes = len(t.history)
			res.Final = metrics.AggregateStats(t.history)
			return res, err
		}
		t.runEpisode(episode)

		for _, a := range t.epsilon.ApplyAccelerations(episode) {
			t.logger.Printf("⚡ 第 %d 回合起 epsilon 衰减因子调整为 %.5f", a.Episode, a.Decay)
		}
		t.epsilon.Step(episode)

		if episode%h.LogInterval == 0 {
			w := t.closeWindow(episode)
			res.Windows = append(res.Windows, w)
			if w.Decision == Restore {
				res.Restores++
			}
		}
	}

	res.Episodes = len(t.history)
	res.Final = metrics.AggregateStats(t.history)
	t.logger.Print(metrics.TerminalLine(res.Final))

	if best, cov := t.recovery.Best(); best != nil {
		if err := t.params.CopyFrom(best); err == nil {
			t.learner.SyncTargets()
			t.logger.Printf("🏆 训练结束，应用最佳快照 (窗口覆盖率 %.3f)", cov)
		}
		res.BestCoverage = cov
	}

	if h.CheckpointDir != "" {
		path, err := checkpoint.Save(h.CheckpointDir, t.scenario, checkpoint.FromParameterSet(t.params, t.scenario), t.now())
		if err != nil {
			return res, fmt.Errorf("save checkpoint: %w", err)
		}
		res.Checkpoint = path
		t.logger.Printf("💾 检查点已保存到 %s", path)
	}
	return res, nil
}

// runEpisode 采样一个回合并在缓冲区足够时做一次更新。
func (t *Trainer) runEpisode(episode int) {
	ep, stats := t.rollout(episode, t.epsilon.Get(episode))
	t.memory.Push(ep)
	t.history = append(t.history, stats)

	if !t.memory.CanSample(max(t.hyper.MinBuffer, t.hyper.BatchSize)) {
		return
	}
	batch := memory.NewBatch(t.memory.Sample(t.hyper.BatchSize))
	us, err := t.learner.Update(batch)
	if err != nil {
		t.logger.Printf("⚠️ 第 %d 回合跳过更新: %v", episode, err)
		return
	}
	t.losses = append(t.losses, us.Loss)
	if us.TargetSynced {
		t.logger.Printf("🎯 第 %d 次更新后同步目标网络 (loss=%.4f, grad_norm=%.3f)", us.Updates, us.Loss, us.GradNorm)
	}
}

// closeWindow 汇总最近一个窗口，写进度日志并做恢复判断。
func (t *Trainer) closeWindow(episode int) Window {
	n := t.hyper.LogInterval
	recent := t.history[max(0, len(t.history)-n):]
	w := Window{
		Episode: episode,
		Epsilon: t.epsilon.Get(episode),
		Stats:   metrics.AggregateStats(recent),
		Updates: len(t.losses),
	}
	if len(t.losses) > 0 {
		sum := 0.0
		for _, l := range t.losses {
			sum += l
		}
		w.Loss = sum / float64(len(t.losses))
	}
	t.losses = t.losses[:0]

	t.logger.Print(metrics.ProgressLine(episode, w.Stats, w.Epsilon))
	if t.memory.Len() == t.memory.Capacity() || episode == n {
		t.logger.Printf("📦 回放缓冲区 %d/%d 条轨迹, 约 %s", t.memory.Len(), t.memory.Capacity(), t.memory.Footprint().HumanReadable())
	}

	coverage := w.Stats.Mean(metrics.MetricCoverage)
	w.Decision = t.recovery.Evaluate(episode, coverage, t.params, t.learner.Target)
	switch w.Decision {
	case Snapshot:
		t.logger.Printf("📸 覆盖率 %.3f 创新高，保存参数快照", coverage)
	case Degrade:
		t.logger.Printf("📉 覆盖率 %.3f 低于最佳 %.3f (连续 %d 次)", coverage, t.bestCoverage(), t.recovery.Degraded())
	case CooldownSkip:
		t.logger.Printf("⏳ 覆盖率持续低迷，但距上次恢复不足 %d 回合，暂不回滚", t.hyper.Recovery.Cooldown)
	case Restore:
		prev, next := t.restoreEpsilon(episode)
		t.logger.Printf("♻️ 覆盖率崩溃到 %.3f，回滚到最佳快照 (%.3f)，epsilon %.3f -> %.3f",
			coverage, t.bestCoverage(), prev, next)
	}

	if t.observer != nil {
		t.observer.OnWindow(w)
	}
	return w
}

// restoreEpsilon 以第 episode 回合实际使用的探索率为基准抬高 epsilon，平台期内基准是平台值。
func (t *Trainer) restoreEpsilon(episode int) (prev, next float64) {
	prev = t.epsilon.Get(episode)
	t.epsilon.SetValue(t.recovery.RecoveredEpsilon(prev))
	return prev, t.epsilon.Current()
}

func (t *Trainer) bestCoverage() float64 {
	_, c := t.recovery.Best()
	return c
}
