// Package baseline 实现用于对比的单步经验回放 Q-learning。两种组织方式:
// 全局网络一次输出所有智能体的 Q 值，或者每个智能体一个独立网络。
// 两者的损失都是所有 (样本, 智能体) 上 TD 误差平方的平均值。
package baseline

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"Swarm-Coverage/checkpoint"
	"Swarm-Coverage/config"
	"Swarm-Coverage/memory"
	"Swarm-Coverage/metrics"
	"Swarm-Coverage/network"
	"Swarm-Coverage/schedule"
	"Swarm-Coverage/simulation"
)

// Result 汇总一次基线训练。
type Result struct {
	Episodes   int
	Updates    int
	Final      metrics.Aggregate
	Checkpoint string
}

// QLearner 持有基线训练的全部状态。
type QLearner struct {
	scenario config.Scenario
	cfg      config.BaselineConfig
	logger   *log.Logger

	env     *simulation.GridEnvironment
	nets    network.MLPGroup
	targets network.MLPGroup
	grads   network.MLPGroup
	opt     *network.RMSprop
	memory  *memory.TransitionMemory
	epsilon *schedule.EpsilonSchedule
	rng     *rand.Rand

	numAgents  int
	numActions int
	// 每个网络负责的智能体数量: 全局网络为 N，独立网络为 1
	agentsPerNet int

	updates int
	history []metrics.EpisodeStats
	now     func() time.Time
}

// New 校验配置并构建环境与网络。
func New(scenario config.Scenario, envParams config.EnvParams, cfg config.BaselineConfig, logger *log.Logger) (*QLearner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	env, err := simulation.NewGridEnvironment(scenario, envParams, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("create environment: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	n, a := env.NumAgents(), simulation.NumActions
	initRNG := rand.New(rand.NewPCG(cfg.Seed, config.StreamBaselineInit))
	obsDim := env.ObservationSize()

	var nets network.MLPGroup
	perNet := n
	switch cfg.Strategy {
	case config.GlobalStrategy:
		nets = network.MLPGroup{network.NewMLP([]int{obsDim, cfg.HiddenDim, cfg.HiddenDim, n * a}, initRNG)}
	case config.PerUnitStrategy:
		perNet = 1
		for i := 0; i < n; i++ {
			nets = append(nets, network.NewMLP([]int{obsDim, cfg.HiddenDim, cfg.HiddenDim, a}, initRNG))
		}
	}
	grads := nets.Clone()
	grads.Zero()

	minEps := cfg.EpsilonEnd
	return &QLearner{
		scenario:     scenario,
		cfg:          cfg,
		logger:       logger,
		env:          env,
		nets:         nets,
		targets:      nets.Clone(),
		grads:        grads,
		opt:          network.NewRMSprop(cfg.LearningRate),
		memory:       memory.NewTransitionMemory(cfg.MemorySize, rand.New(rand.NewPCG(cfg.Seed, config.StreamBaselineReplay))),
		epsilon:      schedule.New(cfg.EpsilonStart, cfg.EpsilonEnd, cfg.EpsilonDecay, minEps, nil, nil),
		rng:          rand.New(rand.NewPCG(cfg.Seed, config.StreamBaselineActions)),
		numAgents:    n,
		numActions:   a,
		agentsPerNet: perNet,
		now:          time.Now,
	}, nil
}

// Networks 返回在线网络。
func (l *QLearner) Networks() network.MLPGroup { return l.nets }

// History 返回已完成回合的指标。
func (l *QLearner) History() []metrics.EpisodeStats { return l.history }

// owner 返回智能体 i 所在的网络以及它的 Q 值在该网络输出中的偏移。
func (l *QLearner) owner(i int) (net, offset int) {
	return i / l.agentsPerNet, (i % l.agentsPerNet) * l.numActions
}

// qValues 对 nets 做一次前向计算，返回每个智能体的 Q 值。
func (l *QLearner) qValues(nets network.MLPGroup, obs []float64) [][]float64 {
	outs := make([][]float64, len(nets))
	for k, m := range nets {
		outs[k] = m.Forward(obs)
	}
	q := make([][]float64, l.numAgents)
	for i := range q {
		k, off := l.owner(i)
		q[i] = outs[k][off : off+l.numActions]
	}
	return q
}

// QValues 返回在线网络在 obs 下每个智能体的 Q 值。
func (l *QLearner) QValues(obs []float64) [][]float64 { return l.qValues(l.nets, obs) }

// SelectActions 是联合 epsilon-greedy: 以概率 epsilon 所有智能体都随机行动，否则都取贪心动作。
func (l *QLearner) SelectActions(obs []float64, epsilon float64) []int {
	actions := make([]int, l.numAgents)
	if l.rng.Float64() < epsilon {
		for i := range actions {
			actions[i] = l.rng.IntN(l.numActions)
		}
		return actions
	}
	for i, q := range l.QValues(obs) {
		actions[i] = network.Argmax(q, nil)
	}
	return actions
}

// Loss 计算一批经验的 TD 损失，并把梯度累加到 l.grads。
//
//	y = r_i + γ (1 - done) max_a Q_target,i(s', a)
//	L = mean over (b, i) of (Q_i(s, a_i) - y)²
func (l *QLearner) Loss(batch []memory.Transition) float64 {
	scale := 1 / float64(len(batch)*l.numAgents)
	loss := 0.0
	for _, tr := range batch {
		next := l.qValues(l.targets, tr.NextObs)

		outs := make([][]float64, len(l.nets))
		caches := make([]*network.MLPCache, len(l.nets))
		for k, m := range l.nets {
			outs[k], caches[k] = m.ForwardCached(tr.Obs)
		}
		dys := make([][]float64, len(l.nets))
		for k := range dys {
			dys[k] = make([]float64, len(outs[k]))
		}

		for i := 0; i < l.numAgents; i++ {
			y := tr.Rewards[i]
			if !tr.Done {
				y += l.cfg.Gamma * maxOf(next[i])
			}
			k, off := l.owner(i)
			diff := outs[k][off+tr.Actions[i]] - y
			loss += diff * diff * scale
			dys[k][off+tr.Actions[i]] = 2 * diff * scale
		}
		for k, m := range l.nets {
			m.Backward(caches[k], dys[k], l.grads[k])
		}
	}
	return loss
}

func maxOf(xs []float64) float64 {
	best := math.Inf(-1)
	for _, x := range xs {
		best = math.Max(best, x)
	}
	return best
}

// update 做一次梯度更新，每 TargetUpdateInterval 次同步一次目标网络。
func (l *QLearner) update(batch []memory.Transition) float64 {
	l.grads.Zero()
	loss := l.Loss(batch)
	network.ClipGradNorm(l.grads, l.cfg.GradClip)
	l.opt.Step(l.nets, l.grads)

	l.updates++
	if l.updates%l.cfg.TargetUpdateInterval == 0 {
		if err := l.targets.CopyFrom(l.nets); err != nil {
			panic(fmt.Sprintf("baseline: sync target networks: %v", err))
		}
	}
	return loss
}

// runEpisode 跑完一个回合，每一步都存经验并在缓冲区足够时更新。
func (l *QLearner) runEpisode(episode int, epsilon float64) metrics.EpisodeStats {
	env := l.env
	obs := []float64(env.Reset())
	acc := metrics.NewAccumulator(l.numAgents, env.Energy())
	acts := make([]simulation.Action, l.numAgents)
	minMemory := max(l.cfg.MinMemory, l.cfg.BatchSize)

	for {
		actions := l.SelectActions(obs, epsilon)
		for i, a := range actions {
			acts[i] = simulation.Action(a)
		}
		res := env.Step(acts)
		next := []float64(res.Observation)
		l.memory.Push(memory.Transition{
			Obs:     obs,
			Actions: actions,
			Rewards: append([]float64(nil), res.Rewards...),
			NextObs: next,
			Done:    res.Done(),
		})
		acc.Add(res.Rewards, res.Info.NewCells, res.Info.Collisions, res.Info.ObstacleHits)

		if l.memory.Len() >= minMemory {
			l.update(l.memory.Sample(l.cfg.BatchSize))
		}
		obs = next
		if res.Done() {
			return acc.Finish(episode, res.Info.Coverage, true, res.Info.Energy)
		}
	}
}

// BaselineFileName 返回形如 qlearning_global_map12_uavs4_1700000000.ckpt 的文件名。
func BaselineFileName(strategy config.Strategy, scenario config.Scenario, at time.Time) string {
	return fmt.Sprintf("qlearning_%s_map%d_uavs%d_%d.ckpt", strategy, scenario.Height, scenario.NumAgents, at.Unix())
}

// Run 执行全部回合，ctx 在回合之间检查。取消时返回已完成部分和 ctx 的错误，不写检查点。
func (l *QLearner) Run(ctx context.Context) (Result, error) {
	cfg := l.cfg
	l.logger.Printf("🚀 Q-learning 基线 (%s): 地图 %dx%d, %d 个智能体, 障碍物密度 %.2f",
		cfg.Strategy, l.scenario.Height, l.scenario.Width, l.numAgents, l.scenario.ObstacleDensity)

	var res Result
	for episode := 1; episode <= cfg.Episodes; episode++ {
		if err := ctx.Err(); err != nil {
			res.Episodes, res.Updates = len(l.history), l.updates
			res.Final = metrics.AggregateStats(l.history)
			return res, err
		}
		stats := l.runEpisode(episode, l.epsilon.Get(episode))
		l.history = append(l.history, stats)
		l.epsilon.Step(episode)

		if episode%cfg.LogInterval == 0 {
			recent := l.history[max(0, len(l.history)-cfg.LogInterval):]
			l.logger.Print(metrics.ProgressLine(episode, metrics.AggregateStats(recent), l.epsilon.Current()))
		}
	}

	res.Episodes, res.Updates = len(l.history), l.updates
	res.Final = metrics.AggregateStats(l.history)
	l.logger.Print(metrics.TerminalLine(res.Final))
	l.logger.Printf("📦 经验回放 %d 条, 约 %s, 共 %d 次更新", l.memory.Len(), l.memory.Footprint().HumanReadable(), l.updates)

	if cfg.CheckpointDir != "" {
		networks := make([][]*network.Tensor, len(l.nets))
		for k, m := range l.nets {
			networks[k] = m.Tensors()
		}
		name := BaselineFileName(cfg.Strategy, l.scenario, l.now())
		path, err := checkpoint.SaveAs(cfg.CheckpointDir, name, checkpoint.FromTensors(networks, nil, l.scenario))
		if err != nil {
			return res, fmt.Errorf("save checkpoint: %w", err)
		}
		res.Checkpoint = path
		l.logger.Printf("💾 检查点已保存到 %s", path)
	}
	return res, nil
}
