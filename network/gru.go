package network

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// GRUCell 是单步门控循环单元，门的排列顺序为 [r, z, n]:
//
//	r  = σ(W_ir x + b_ir + W_hr h + b_hr)
//	z  = σ(W_iz x + b_iz + W_hz h + b_hz)
//	n  = tanh(W_in x + b_in + r ⊙ (W_hn h + b_hn))
//	h' = (1 - z) ⊙ n + z ⊙ h
type GRUCell struct {
	InputDim  int
	HiddenDim int

	Wi Tensor // 3H x In
	Bi Tensor // 3H
	Wh Tensor // 3H x H
	Bh Tensor // 3H
}

func newGRUCell(inputDim, hiddenDim int) GRUCell {
	return GRUCell{
		InputDim:  inputDim,
		HiddenDim: hiddenDim,
		Wi:        NewTensor("rnn.weight_ih", 3*hiddenDim, inputDim),
		Bi:        NewTensor("rnn.bias_ih", 3*hiddenDim, 1),
		Wh:        NewTensor("rnn.weight_hh", 3*hiddenDim, hiddenDim),
		Bh:        NewTensor("rnn.bias_hh", 3*hiddenDim, 1),
	}
}

// init 以 U(-1/sqrt(H), 1/sqrt(H)) 初始化全部参数。
func (g *GRUCell) init(rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(g.HiddenDim))
	for _, t := range g.tensors() {
		uniform(t, bound, rng)
	}
}

func (g *GRUCell) tensors() []*Tensor {
	return []*Tensor{&g.Wi, &g.Bi, &g.Wh, &g.Bh}
}

type gruCache struct {
	x, h    []float64
	r, z, n []float64
	hn      []float64 // W_hn h + b_hn
}

func (g *GRUCell) forward(x, h []float64) ([]float64, gruCache) {
	H := g.HiddenDim
	gi := linear(&g.Wi, &g.Bi, x)
	gh := linear(&g.Wh, &g.Bh, h)

	c := gruCache{
		x:  x,
		h:  h,
		r:  make([]float64, H),
		z:  make([]float64, H),
		n:  make([]float64, H),
		hn: gh[2*H:],
	}
	next := make([]float64, H)
	for j := 0; j < H; j++ {
		c.r[j] = sigmoid(gi[j] + gh[j])
		c.z[j] = sigmoid(gi[H+j] + gh[H+j])
		c.n[j] = math.Tanh(gi[2*H+j] + c.r[j]*gh[2*H+j])
		next[j] = (1-c.z[j])*c.n[j] + c.z[j]*h[j]
	}
	return next, c
}

// backward 返回对输入 x 和上一时刻隐状态 h 的梯度。
func (g *GRUCell) backward(c *gruCache, dNext []float64, grad *GRUCell) (dx, dh []float64) {
	H := g.HiddenDim
	dGi := make([]float64, 3*H)
	dGh := make([]float64, 3*H)
	dh = make([]float64, H)

	for j := 0; j < H; j++ {
		dn := dNext[j] * (1 - c.z[j])
		dz := dNext[j] * (c.h[j] - c.n[j])
		dh[j] = dNext[j] * c.z[j]

		dnPre := dn * (1 - c.n[j]*c.n[j])
		dzPre := dz * c.z[j] * (1 - c.z[j])
		dr := dnPre * c.hn[j]
		drPre := dr * c.r[j] * (1 - c.r[j])

		dGi[j], dGi[H+j], dGi[2*H+j] = drPre, dzPre, dnPre
		dGh[j], dGh[H+j], dGh[2*H+j] = drPre, dzPre, dnPre*c.r[j]
	}

	dx = linearBackward(&g.Wi, &grad.Wi, &grad.Bi, c.x, dGi)
	floats.Add(dh, linearBackward(&g.Wh, &grad.Wh, &grad.Bh, c.h, dGh))
	return dx, dh
}
