package trainer

import (
	"math/rand/v2"

	"Swarm-Coverage/memory"
	"Swarm-Coverage/metrics"
	"Swarm-Coverage/network"
	"Swarm-Coverage/simulation"
)

// policy 是分散执行的 epsilon-greedy 策略，每个智能体只用自己的网络和隐状态。
type policy struct {
	agents   []*network.AgentValueNetwork
	hidden   [][]float64
	rng      *rand.Rand
	useAvail bool
}

func newPolicy(agents []*network.AgentValueNetwork, rng *rand.Rand, useAvail bool) *policy {
	return &policy{agents: agents, hidden: make([][]float64, len(agents)), rng: rng, useAvail: useAvail}
}

// reset 把所有隐状态清零。
func (p *policy) reset() {
	for i, a := range p.agents {
		p.hidden[i] = a.InitHidden()
	}
}

// act 先推进每个智能体的隐状态，再独立地以概率 epsilon 随机选择动作。
// 启用可用动作掩码时，随机动作和贪心动作都只在可用动作中选择。
func (p *policy) act(obs []float64, avail [][]bool, epsilon float64) []int {
	actions := make([]int, len(p.agents))
	for i, a := range p.agents {
		var q []float64
		q, p.hidden[i] = a.Forward(obs, p.hidden[i])

		var mask []bool
		if p.useAvail && avail != nil {
			mask = avail[i]
		}
		if p.rng.Float64() < epsilon {
			actions[i] = p.randomAction(len(q), mask)
		} else {
			actions[i] = network.Argmax(q, mask)
		}
	}
	return actions
}

func (p *policy) randomAction(n int, mask []bool) int {
	var choices []int
	for a, ok := range mask {
		if ok {
			choices = append(choices, a)
		}
	}
	if len(choices) == 0 {
		return p.rng.IntN(n)
	}
	return choices[p.rng.IntN(len(choices))]
}

// rollout 用当前策略跑完一个回合，返回记录好的轨迹和回合指标。
func (t *Trainer) rollout(episode int, epsilon float64) (*memory.Episode, metrics.EpisodeStats) {
	env := t.env
	obs := []float64(env.Reset())
	t.policy.reset()

	var avail [][]bool
	if t.hyper.UseAvailableActions {
		avail = env.AvailableActions()
	}
	builder := memory.NewEpisodeBuilder(env.NumAgents(), len(obs), simulation.NumActions, t.hyper.QuantizeObservations)
	acc := metrics.NewAccumulator(env.NumAgents(), env.Energy())

	acts := make([]simulation.Action, env.NumAgents())
	for {
		actions := t.policy.act(obs, avail, epsilon)
		for i, a := range actions {
			acts[i] = simulation.Action(a)
		}
		res := env.Step(acts)
		builder.Add(obs, avail, actions, res.Rewards, res.Done())
		acc.Add(res.Rewards, res.Info.NewCells, res.Info.Collisions, res.Info.ObstacleHits)

		obs = []float64(res.Observation)
		if t.hyper.UseAvailableActions {
			avail = env.AvailableActions()
		}
		if res.Done() {
			return builder.Finish(obs, avail), acc.Finish(episode, res.Info.Coverage, true, res.Info.Energy)
		}
	}
}
