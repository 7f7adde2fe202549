package network

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/tiendc/go-deepcopy"
)

// Linear 是一个全连接层。
type Linear struct {
	W Tensor
	B Tensor
}

// MLP 是 Linear→ReLU→...→Linear 结构的前馈网络，最后一层没有激活。
// 张量按层位置命名: net.0, net.2, ... (奇数位置留给激活层)。
type MLP struct {
	Layers []Linear
}

// NewMLP 按 sizes (输入、各隐藏层、输出) 创建网络，权重和偏置都取
// U(-1/sqrt(fan_in), 1/sqrt(fan_in))。
func NewMLP(sizes []int, rng *rand.Rand) *MLP {
	if len(sizes) < 2 {
		panic(fmt.Sprintf("network: mlp needs at least two sizes, got %v", sizes))
	}
	m := &MLP{Layers: make([]Linear, len(sizes)-1)}
	for i := range m.Layers {
		in, out := sizes[i], sizes[i+1]
		l := Linear{
			W: NewTensor(fmt.Sprintf("net.%d.weight", 2*i), out, in),
			B: NewTensor(fmt.Sprintf("net.%d.bias", 2*i), out, 1),
		}
		bound := 1 / math.Sqrt(float64(in))
		uniform(&l.W, bound, rng)
		uniform(&l.B, bound, rng)
		m.Layers[i] = l
	}
	return m
}

// Tensors 依层返回权重和偏置。
func (m *MLP) Tensors() []*Tensor {
	out := make([]*Tensor, 0, 2*len(m.Layers))
	for i := range m.Layers {
		out = append(out, &m.Layers[i].W, &m.Layers[i].B)
	}
	return out
}

// OutputDim 返回输出维度。
func (m *MLP) OutputDim() int { return m.Layers[len(m.Layers)-1].W.Rows }

// MLPCache 保存反向传播需要的每层输入。
type MLPCache struct {
	inputs [][]float64
}

// Forward 计算网络输出。
func (m *MLP) Forward(x []float64) []float64 {
	y, _ := m.ForwardCached(x)
	return y
}

// ForwardCached 计算输出并保留中间结果。
func (m *MLP) ForwardCached(x []float64) ([]float64, *MLPCache) {
	c := &MLPCache{inputs: make([][]float64, len(m.Layers))}
	for i := range m.Layers {
		c.inputs[i] = x
		x = linear(&m.Layers[i].W, &m.Layers[i].B, x)
		if i < len(m.Layers)-1 {
			x = relu(x)
		}
	}
	return x, c
}

// Backward 把 dL/dy 反传到 grad 中累加。
func (m *MLP) Backward(c *MLPCache, dy []float64, grad *MLP) {
	for i := len(m.Layers) - 1; i >= 0; i-- {
		l, g := &m.Layers[i], &grad.Layers[i]
		dx := linearBackward(&l.W, &g.W, &g.B, c.inputs[i], dy)
		if i > 0 {
			// 该层的输入就是上一层 ReLU 的输出
			dx = reluBackward(c.inputs[i], dx)
		}
		dy = dx
	}
}

// Clone 返回深拷贝。
func (m *MLP) Clone() *MLP {
	var out MLP
	if err := deepcopy.Copy(&out, m); err != nil {
		panic(fmt.Sprintf("network: clone mlp: %v", err))
	}
	return &out
}

// CopyFrom 复制 src 的数值，形状不一致时不做任何修改。
func (m *MLP) CopyFrom(src *MLP) error {
	dst, from := m.Tensors(), src.Tensors()
	if len(dst) != len(from) {
		return fmt.Errorf("%w: %d tensors vs %d tensors", ErrShapeMismatch, len(dst), len(from))
	}
	for i := range dst {
		if err := dst[i].SameShape(from[i]); err != nil {
			return err
		}
	}
	for i := range dst {
		copy(dst[i].Data, from[i].Data)
	}
	return nil
}

// MLPGroup 让多个 MLP 作为一组参数交给优化器。
type MLPGroup []*MLP

// Tensors 依次拼接每个网络的张量。
func (g MLPGroup) Tensors() []*Tensor {
	var out []*Tensor
	for _, m := range g {
		out = append(out, m.Tensors()...)
	}
	return out
}

// Zero 把所有张量置零。
func (g MLPGroup) Zero() {
	for _, t := range g.Tensors() {
		t.Zero()
	}
}

// Clone 深拷贝每个网络。
func (g MLPGroup) Clone() MLPGroup {
	out := make(MLPGroup, len(g))
	for i, m := range g {
		out[i] = m.Clone()
	}
	return out
}

// CopyFrom 逐个复制网络参数。
func (g MLPGroup) CopyFrom(src MLPGroup) error {
	if len(g) != len(src) {
		return fmt.Errorf("%w: %d networks vs %d networks", ErrShapeMismatch, len(g), len(src))
	}
	for i := range g {
		if err := g[i].CopyFrom(src[i]); err != nil {
			return err
		}
	}
	return nil
}
