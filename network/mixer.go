package network

import (
	"math"
	"math/rand/v2"
)

// MixingNetwork 是 QMIX 的单调混合网络。超网络由全局状态生成两层混合权重，
// 权重取绝对值，因此联合价值对每个智能体的 Q 值单调不减。
type MixingNetwork struct {
	NumAgents   int
	StateDim    int
	EmbedDim    int
	HyperHidden int

	HyperW1A Tensor // Hh x S
	HyperW1a Tensor // Hh
	HyperW1B Tensor // N*M x Hh
	HyperW1b Tensor // N*M
	HyperB1  Tensor // M x S
	HyperB1b Tensor // M
	HyperW2A Tensor // Hh x S
	HyperW2a Tensor // Hh
	HyperW2B Tensor // M x Hh
	HyperW2b Tensor // M
	V1       Tensor // M x S
	V1b      Tensor // M
	V2       Tensor // 1 x M
	V2b      Tensor // 1
}

// NewMixingNetwork 按 U(-1/sqrt(fan_in), 1/sqrt(fan_in)) 初始化所有线性层。
func NewMixingNetwork(numAgents, stateDim, embedDim, hyperHidden int, rng *rand.Rand) *MixingNetwork {
	m := &MixingNetwork{
		NumAgents:   numAgents,
		StateDim:    stateDim,
		EmbedDim:    embedDim,
		HyperHidden: hyperHidden,
		HyperW1A:    NewTensor("hyper_w_1.0.weight", hyperHidden, stateDim),
		HyperW1a:    NewTensor("hyper_w_1.0.bias", hyperHidden, 1),
		HyperW1B:    NewTensor("hyper_w_1.2.weight", numAgents*embedDim, hyperHidden),
		HyperW1b:    NewTensor("hyper_w_1.2.bias", numAgents*embedDim, 1),
		HyperB1:     NewTensor("hyper_b_1.weight", embedDim, stateDim),
		HyperB1b:    NewTensor("hyper_b_1.bias", embedDim, 1),
		HyperW2A:    NewTensor("hyper_w_final.0.weight", hyperHidden, stateDim),
		HyperW2a:    NewTensor("hyper_w_final.0.bias", hyperHidden, 1),
		HyperW2B:    NewTensor("hyper_w_final.2.weight", embedDim, hyperHidden),
		HyperW2b:    NewTensor("hyper_w_final.2.bias", embedDim, 1),
		V1:          NewTensor("V.0.weight", embedDim, stateDim),
		V1b:         NewTensor("V.0.bias", embedDim, 1),
		V2:          NewTensor("V.2.weight", 1, embedDim),
		V2b:         NewTensor("V.2.bias", 1, 1),
	}
	pairs := [][2]*Tensor{
		{&m.HyperW1A, &m.HyperW1a}, {&m.HyperW1B, &m.HyperW1b}, {&m.HyperB1, &m.HyperB1b},
		{&m.HyperW2A, &m.HyperW2a}, {&m.HyperW2B, &m.HyperW2b}, {&m.V1, &m.V1b}, {&m.V2, &m.V2b},
	}
	for _, p := range pairs {
		bound := 1 / math.Sqrt(float64(p[0].Cols))
		uniform(p[0], bound, rng)
		uniform(p[1], bound, rng)
	}
	return m
}

// Tensors 以固定顺序返回全部参数。
func (m *MixingNetwork) Tensors() []*Tensor {
	return []*Tensor{
		&m.HyperW1A, &m.HyperW1a, &m.HyperW1B, &m.HyperW1b, &m.HyperB1, &m.HyperB1b,
		&m.HyperW2A, &m.HyperW2a, &m.HyperW2B, &m.HyperW2b, &m.V1, &m.V1b, &m.V2, &m.V2b,
	}
}

// MixerCache 保存一次混合前向计算的中间量。
type MixerCache struct {
	q, state []float64
	a1       []float64 // ReLU(hyper_w_1 第一层)
	raw1     []float64 // 取绝对值前的 W1
	pre      []float64 // q·W1 + b1
	hidden   []float64
	a2       []float64
	raw2     []float64
	v1       []float64
}

// Forward 返回联合价值 Q_tot(q, s)。
func (m *MixingNetwork) Forward(q, state []float64) float64 {
	out, _ := m.ForwardCached(q, state)
	return out
}

// ForwardCached 与 Forward 相同，同时返回反向传播所需的缓存。
func (m *MixingNetwork) ForwardCached(q, state []float64) (float64, *MixerCache) {
	M := m.EmbedDim
	c := &MixerCache{q: q, state: state}

	c.a1 = relu(linear(&m.HyperW1A, &m.HyperW1a, state))
	c.raw1 = linear(&m.HyperW1B, &m.HyperW1b, c.a1)
	b1 := linear(&m.HyperB1, &m.HyperB1b, state)

	c.pre = make([]float64, M)
	copy(c.pre, b1)
	for i, qi := range q {
		for j := 0; j < M; j++ {
			c.pre[j] += qi * math.Abs(c.raw1[i*M+j])
		}
	}
	c.hidden = relu(c.pre)

	c.a2 = relu(linear(&m.HyperW2A, &m.HyperW2a, state))
	c.raw2 = linear(&m.HyperW2B, &m.HyperW2b, c.a2)
	c.v1 = relu(linear(&m.V1, &m.V1b, state))
	v := linear(&m.V2, &m.V2b, c.v1)[0]

	out := v
	for j := 0; j < M; j++ {
		out += c.hidden[j] * math.Abs(c.raw2[j])
	}
	return out, c
}

// Backward 把 dOut 反向传播到混合网络参数 (累加到 grad) 并返回对各智能体 Q 值的梯度。
// 对状态输入的梯度被丢弃。
func (m *MixingNetwork) Backward(c *MixerCache, dOut float64, grad *MixingNetwork) []float64 {
	M := m.EmbedDim

	// 第二层
	dRaw2 := make([]float64, M)
	dHidden := make([]float64, M)
	for j := 0; j < M; j++ {
		dRaw2[j] = dOut * c.hidden[j] * sign(c.raw2[j])
		dHidden[j] = dOut * math.Abs(c.raw2[j])
	}
	da2 := linearBackward(&m.HyperW2B, &grad.HyperW2B, &grad.HyperW2b, c.a2, dRaw2)
	linearBackward(&m.HyperW2A, &grad.HyperW2A, &grad.HyperW2a, c.state, reluBackward(c.a2, da2))

	dv1 := linearBackward(&m.V2, &grad.V2, &grad.V2b, c.v1, []float64{dOut})
	linearBackward(&m.V1, &grad.V1, &grad.V1b, c.state, reluBackward(c.v1, dv1))

	// 第一层
	dPre := reluBackward(c.hidden, dHidden)
	linearBackward(&m.HyperB1, &grad.HyperB1, &grad.HyperB1b, c.state, dPre)

	dq := make([]float64, len(c.q))
	dRaw1 := make([]float64, len(c.raw1))
	for i, qi := range c.q {
		for j := 0; j < M; j++ {
			k := i*M + j
			dq[i] += math.Abs(c.raw1[k]) * dPre[j]
			dRaw1[k] = qi * dPre[j] * sign(c.raw1[k])
		}
	}
	da1 := linearBackward(&m.HyperW1B, &grad.HyperW1B, &grad.HyperW1b, c.a1, dRaw1)
	linearBackward(&m.HyperW1A, &grad.HyperW1A, &grad.HyperW1a, c.state, reluBackward(c.a1, da1))
	return dq
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
