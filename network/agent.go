package network

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// AgentValueNetwork 是单个智能体的循环价值网络:
// fc1 (ReLU) -> GRU 单元 -> fc2，输出每个动作的 Q 值。
// 每个智能体拥有独立的一份参数，结构完全相同。
type AgentValueNetwork struct {
	InputDim   int
	HiddenDim  int
	NumActions int

	FC1W Tensor
	FC1B Tensor
	GRU  GRUCell
	FC2W Tensor
	FC2B Tensor
}

// NewAgentValueNetwork 用 Xavier 均匀分布初始化全连接层权重，偏置为零。
func NewAgentValueNetwork(inputDim, hiddenDim, numActions int, rng *rand.Rand) *AgentValueNetwork {
	a := &AgentValueNetwork{
		InputDim:   inputDim,
		HiddenDim:  hiddenDim,
		NumActions: numActions,
		FC1W:       NewTensor("fc1.weight", hiddenDim, inputDim),
		FC1B:       NewTensor("fc1.bias", hiddenDim, 1),
		GRU:        newGRUCell(hiddenDim, hiddenDim),
		FC2W:       NewTensor("fc2.weight", numActions, hiddenDim),
		FC2B:       NewTensor("fc2.bias", numActions, 1),
	}
	xavierUniform(&a.FC1W, rng)
	xavierUniform(&a.FC2W, rng)
	a.GRU.init(rng)
	return a
}

// InitHidden 返回全零隐状态。
func (a *AgentValueNetwork) InitHidden() []float64 {
	return make([]float64, a.HiddenDim)
}

// Tensors 以固定顺序返回全部参数。
func (a *AgentValueNetwork) Tensors() []*Tensor {
	out := []*Tensor{&a.FC1W, &a.FC1B}
	out = append(out, a.GRU.tensors()...)
	return append(out, &a.FC2W, &a.FC2B)
}

// AgentCache 保存一次前向计算的中间量，用于反向传播。
type AgentCache struct {
	obs    []float64
	x      []float64
	gru    gruCache
	hidden []float64
}

// Forward 计算 (观测, 隐状态) -> (Q 值, 新隐状态)。
func (a *AgentValueNetwork) Forward(obs, hidden []float64) (q, next []float64) {
	q, next, _ = a.ForwardCached(obs, hidden)
	return q, next
}

// ForwardCached 与 Forward 相同，同时返回反向传播所需的缓存。
func (a *AgentValueNetwork) ForwardCached(obs, hidden []float64) (q, next []float64, cache *AgentCache) {
	x := relu(linear(&a.FC1W, &a.FC1B, obs))
	next, gc := a.GRU.forward(x, hidden)
	q = linear(&a.FC2W, &a.FC2B, next)
	return q, next, &AgentCache{obs: obs, x: x, gru: gc, hidden: next}
}

// Backward 把 dq (对 Q 值) 与 dNext (从后一个时间步传回的隐状态梯度) 反向传播，
// 梯度累加到 grad 中，返回对上一时刻隐状态的梯度。
func (a *AgentValueNetwork) Backward(cache *AgentCache, dq, dNext []float64, grad *AgentValueNetwork) []float64 {
	dh := linearBackward(&a.FC2W, &grad.FC2W, &grad.FC2B, cache.hidden, dq)
	if dNext != nil {
		floats.Add(dh, dNext)
	}
	dx, dPrev := a.GRU.backward(&cache.gru, dh, &grad.GRU)
	dx = reluBackward(cache.x, dx)
	linearBackward(&a.FC1W, &grad.FC1W, &grad.FC1B, cache.obs, dx)
	return dPrev
}

// Argmax 返回 Q 值最大的动作；mask 非空时只在可用动作中选择。
// 没有任何可用动作时退化为不加掩码。
func Argmax(q []float64, mask []bool) int {
	best, bestVal := -1, math.Inf(-1)
	for i, v := range q {
		if mask != nil && !mask[i] {
			continue
		}
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best < 0 {
		return floats.MaxIdx(q)
	}
	return best
}
