package network

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Parameters 是一组按固定顺序排列的参数张量。
type Parameters interface {
	Tensors() []*Tensor
}

// RMSprop 与常见深度学习框架的默认实现一致:
//
//	v = α v + (1-α) g²
//	θ = θ - lr · g / (sqrt(v) + ε)
type RMSprop struct {
	LR    float64
	Alpha float64
	Eps   float64

	square [][]float64
}

// NewRMSprop 使用 α=0.99, ε=1e-8。
func NewRMSprop(lr float64) *RMSprop {
	return &RMSprop{LR: lr, Alpha: 0.99, Eps: 1e-8}
}

// Step 用 grads 更新 params，两者的张量必须一一对应。
func (o *RMSprop) Step(params, grads Parameters) {
	ps, gs := params.Tensors(), grads.Tensors()
	if o.square == nil {
		o.square = make([][]float64, len(ps))
		for i, t := range ps {
			o.square[i] = make([]float64, len(t.Data))
		}
	}
	for i, t := range ps {
		v := o.square[i]
		g := gs[i].Data
		for k := range t.Data {
			v[k] = o.Alpha*v[k] + (1-o.Alpha)*g[k]*g[k]
			t.Data[k] -= o.LR * g[k] / (math.Sqrt(v[k]) + o.Eps)
		}
	}
}

// ClipGradNorm 把全部梯度的全局 L2 范数裁剪到 maxNorm 以内，返回裁剪前的范数。
func ClipGradNorm(grads Parameters, maxNorm float64) float64 {
	total := 0.0
	tensors := grads.Tensors()
	for _, t := range tensors {
		n := floats.Norm(t.Data, 2)
		total += n * n
	}
	total = math.Sqrt(total)
	if maxNorm <= 0 {
		return total
	}
	if coef := maxNorm / (total + 1e-6); coef < 1 {
		for _, t := range tensors {
			floats.Scale(coef, t.Data)
		}
	}
	return total
}
