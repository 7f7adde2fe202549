// C:/workspace/go/Swarm-Coverage-Go/learner/learner.go
package learner

import (
	"errors"
	"fmt"

	"Swarm-Coverage/config"
	"Swarm-Coverage/memory"
	"Swarm-Coverage/network"
)

// ErrEmptyBatch 表示批次中没有任何有效时间步。
var ErrEmptyBatch = errors.New("batch has no valid timesteps")

// GreedyChoice 记录计算目标值时从目标网络读取的动作，用于校验 double-Q 选择。
type GreedyChoice struct {
	Episode int
	Step    int // 目标值对应的是第 Step+1 个观测
	Agent   int
	Action  int
}

// UpdateStats 汇总一次参数更新。
type UpdateStats struct {
	Loss         float64
	GradNorm     float64
	ValidSteps   float64
	Updates      int
	TargetSynced bool
	Greedy       []GreedyChoice
}

// Learner 在一批变长轨迹上计算带掩码的 TD 损失，并用 RMSprop 更新在线参数。
type Learner struct {
	Live   *network.ParameterSet
	Target *network.ParameterSet

	grads *network.ParameterSet
	opt   *network.RMSprop

	gamma          float64
	gradClip       float64
	doubleQ        bool
	useAvail       bool
	targetInterval int
	updates        int

	// TraceGreedy 为 true 时在 UpdateStats.Greedy 中记录每个目标动作。
	TraceGreedy bool
}

// New 创建学习器，目标网络初始化为在线参数的深拷贝。
func New(live *network.ParameterSet, h config.Hyperparameters) *Learner {
	return &Learner{
		Live:           live,
		Target:         live.Clone(),
		grads:          live.ZeroLike(),
		opt:            network.NewRMSprop(h.LearningRate),
		gamma:          h.Gamma,
		gradClip:       h.GradClip,
		doubleQ:        h.DoubleQ,
		useAvail:       h.UseAvailableActions,
		targetInterval: max(1, h.TargetUpdateInterval),
	}
}

// SyncTargets 把在线参数硬拷贝到目标网络。
func (l *Learner) SyncTargets() {
	if err := l.Target.CopyFrom(l.Live); err != nil {
		panic(fmt.Sprintf("learner: sync targets: %v", err))
	}
}

// Updates 返回已经执行的更新次数。
func (l *Learner) Updates() int { return l.updates }

// Update 在一个批次上执行一次梯度更新，每 K 次更新后同步目标网络。
func (l *Learner) Update(batch *memory.Batch) (UpdateStats, error) {
	valid := batch.ValidSteps()
	if valid == 0 {
		return UpdateStats{}, ErrEmptyBatch
	}

	stats := UpdateStats{ValidSteps: valid}
	l.computeGradients(batch, &stats)

	stats.GradNorm = network.ClipGradNorm(l.grads, l.gradClip)
	l.opt.Step(l.Live, l.grads)

	l.updates++
	stats.Updates = l.updates
	if l.updates%l.targetInterval == 0 {
		l.SyncTargets()
		stats.TargetSynced = true
	}
	return stats, nil
}

// computeGradients 清零梯度后在整个批次上累加损失与梯度。
func (l *Learner) computeGradients(batch *memory.Batch, stats *UpdateStats) {
	l.grads.Zero()
	for b, ep := range batch.Episodes {
		stats.Loss += l.accumulate(b, ep, stats.ValidSteps, stats)
	}
	stats.Loss /= stats.ValidSteps
}

// accumulate 处理单条轨迹: 展开在线和目标网络，计算 TD 误差并做时间反向传播。
// 返回该轨迹的平方误差之和。
func (l *Learner) accumulate(b int, ep *memory.Episode, valid float64, stats *UpdateStats) float64 {
	T := ep.Length
	n := ep.NumAgents
	obs := make([][]float64, T+1)
	for t := range obs {
		obs[t] = ep.Obs(t)
	}

	liveQ := make([][][]float64, n)   // [agent][t] 在线 Q 值, t = 0..T
	targetQ := make([][][]float64, n) // [agent][t] 目标 Q 值
	caches := make([][]*network.AgentCache, n)
	for i := 0; i < n; i++ {
		live, target := l.Live.Agents[i], l.Target.Agents[i]
		liveQ[i] = make([][]float64, T+1)
		targetQ[i] = make([][]float64, T+1)
		caches[i] = make([]*network.AgentCache, T)
		h, th := live.InitHidden(), target.InitHidden()
		for t := 0; t <= T; t++ {
			if t < T {
				liveQ[i][t], h, caches[i][t] = live.ForwardCached(obs[t], h)
			} else {
				liveQ[i][t], h = live.Forward(obs[t], h)
			}
			targetQ[i][t], th = target.Forward(obs[t], th)
		}
	}

	dQ := make([][]float64, T) // [t][agent] 对所选动作 Q 值的梯度
	sq := 0.0
	for t := 0; t < T; t++ {
		chosen := make([]float64, n)
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			chosen[i] = liveQ[i][t][ep.Action(t, i)]

			var mask []bool
			if l.useAvail {
				mask = ep.Avail(t+1, i)
			}
			if l.doubleQ {
				a := network.Argmax(liveQ[i][t+1], mask)
				next[i] = targetQ[i][t+1][a]
				if l.TraceGreedy {
					stats.Greedy = append(stats.Greedy, GreedyChoice{Episode: b, Step: t, Agent: i, Action: a})
				}
			} else {
				next[i] = targetQ[i][t+1][network.Argmax(targetQ[i][t+1], mask)]
			}
		}

		qTot, cache := l.Live.Mixer.ForwardCached(chosen, obs[t])
		targetTot := l.Target.Mixer.Forward(next, obs[t+1])
		notDone := 1.0
		if ep.Done(t) {
			notDone = 0
		}
		y := ep.TeamReward(t) + l.gamma*notDone*targetTot

		td := qTot - y
		sq += td * td
		dQ[t] = l.Live.Mixer.Backward(cache, 2*td/valid, l.grads.Mixer)
	}

	for i := 0; i < n; i++ {
		agent, grad := l.Live.Agents[i], l.grads.Agents[i]
		var dNext []float64
		for t := T - 1; t >= 0; t-- {
			dq := make([]float64, len(liveQ[i][t]))
			dq[ep.Action(t, i)] = dQ[t][i]
			dNext = agent.Backward(caches[i][t], dq, dNext, grad)
		}
	}
	return sq
}
