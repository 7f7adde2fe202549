package memory

import (
	"fmt"
	"math"

	"github.com/c2h5oh/datasize"
)

// Episode 是一条完整轨迹: T 个转移以及 T+1 个观测 (包括最后的下一观测)。
// 被推入 EpisodeMemory 之后它就是只读的。
type Episode struct {
	NumAgents int
	ObsDim    int
	Length    int

	quantized bool
	obsF      []float32
	obsQ      []uint8

	actions []int32   // T*N
	rewards []float32 // T*N
	dones   []bool    // T
	avail   []bool    // (T+1)*N*A，未记录时为 nil
	numAct  int
}

// Obs 返回第 t 个观测 (0 <= t <= Length)。
func (e *Episode) Obs(t int) []float64 {
	out := make([]float64, e.ObsDim)
	off := t * e.ObsDim
	if e.quantized {
		for i := range out {
			out[i] = float64(e.obsQ[off+i]) / 255
		}
		return out
	}
	for i := range out {
		out[i] = float64(e.obsF[off+i])
	}
	return out
}

// Action 返回智能体 agent 在第 t 步执行的动作。
func (e *Episode) Action(t, agent int) int {
	return int(e.actions[t*e.NumAgents+agent])
}

// Reward 返回智能体 agent 在第 t 步获得的奖励。
func (e *Episode) Reward(t, agent int) float64 {
	return float64(e.rewards[t*e.NumAgents+agent])
}

// TeamReward 返回第 t 步所有智能体奖励之和。
func (e *Episode) TeamReward(t int) float64 {
	s := 0.0
	for i := 0; i < e.NumAgents; i++ {
		s += e.Reward(t, i)
	}
	return s
}

// Done 表示第 t 步之后 episode 是否结束。
func (e *Episode) Done(t int) bool { return e.dones[t] }

// Avail 返回第 t 个观测时智能体 agent 的可用动作掩码；未记录时返回 nil。
func (e *Episode) Avail(t, agent int) []bool {
	if e.avail == nil {
		return nil
	}
	off := (t*e.NumAgents + agent) * e.numAct
	return e.avail[off : off+e.numAct]
}

// Bytes 估算这条轨迹占用的内存。
func (e *Episode) Bytes() datasize.ByteSize {
	n := len(e.obsQ) + 4*len(e.obsF) + 4*len(e.actions) + 4*len(e.rewards) + len(e.dones) + len(e.avail)
	return datasize.ByteSize(n)
}

// EpisodeBuilder 在 rollout 过程中逐步记录一条轨迹。
type EpisodeBuilder struct {
	ep *Episode
}

// NewEpisodeBuilder 创建记录器；quantize 为 true 时观测按 8 位存储 (取值截断到 [0,1])。
func NewEpisodeBuilder(numAgents, obsDim, numActions int, quantize bool) *EpisodeBuilder {
	return &EpisodeBuilder{ep: &Episode{
		NumAgents: numAgents,
		ObsDim:    obsDim,
		quantized: quantize,
		numAct:    numActions,
	}}
}

func (b *EpisodeBuilder) appendObs(obs []float64, avail [][]bool) {
	ep := b.ep
	if len(obs) != ep.ObsDim {
		panic(fmt.Sprintf("memory: observation size %d, want %d", len(obs), ep.ObsDim))
	}
	if ep.quantized {
		for _, v := range obs {
			ep.obsQ = append(ep.obsQ, quantize(v))
		}
	} else {
		for _, v := range obs {
			ep.obsF = append(ep.obsF, float32(v))
		}
	}
	if avail != nil {
		for _, mask := range avail {
			ep.avail = append(ep.avail, mask...)
		}
	}
}

// Add 记录一个转移: 当前观测、各智能体动作、奖励与结束标志。
func (b *EpisodeBuilder) Add(obs []float64, avail [][]bool, actions []int, rewards []float64, done bool) {
	ep := b.ep
	if len(actions) != ep.NumAgents || len(rewards) != ep.NumAgents {
		panic(fmt.Sprintf("memory: got %d actions and %d rewards for %d agents", len(actions), len(rewards), ep.NumAgents))
	}
	b.appendObs(obs, avail)
	for i := range actions {
		ep.actions = append(ep.actions, int32(actions[i]))
		ep.rewards = append(ep.rewards, float32(rewards[i]))
	}
	ep.dones = append(ep.dones, done)
	ep.Length++
}

// Finish 记录最后的下一观测并返回完成的轨迹，之后记录器不可再用。
func (b *EpisodeBuilder) Finish(lastObs []float64, lastAvail [][]bool) *Episode {
	b.appendObs(lastObs, lastAvail)
	ep := b.ep
	b.ep = nil
	return ep
}

func quantize(v float64) uint8 {
	v = math.Max(0, math.Min(1, v))
	return uint8(math.Round(v * 255))
}
