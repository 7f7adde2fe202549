package network

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch 表示两组参数的结构不一致。
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Tensor 是按行优先存储的二维参数块，偏置向量的 Cols 为 1。
// 数据以导出字段保存，方便深拷贝和序列化；计算时通过 gonum 视图访问。
type Tensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// NewTensor 创建一个全零张量。
func NewTensor(name string, rows, cols int) Tensor {
	return Tensor{Name: name, Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Mat 返回与 Data 共享存储的矩阵视图。
func (t *Tensor) Mat() *mat.Dense {
	return mat.NewDense(t.Rows, t.Cols, t.Data)
}

// Vec 返回与 Data 共享存储的向量视图。
func (t *Tensor) Vec() *mat.VecDense {
	return mat.NewVecDense(len(t.Data), t.Data)
}

// Zero 把所有元素置零。
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// SameShape 检查两个张量的名字和形状是否一致。
func (t *Tensor) SameShape(o *Tensor) error {
	if t.Name != o.Name || t.Rows != o.Rows || t.Cols != o.Cols || len(t.Data) != len(o.Data) {
		return fmt.Errorf("%w: %s[%dx%d] vs %s[%dx%d]", ErrShapeMismatch, t.Name, t.Rows, t.Cols, o.Name, o.Rows, o.Cols)
	}
	return nil
}

// xavierUniform 以 U(-a, a), a = sqrt(6/(fan_in+fan_out)) 初始化权重。
func xavierUniform(t *Tensor, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(t.Rows+t.Cols))
	uniform(t, bound, rng)
}

func uniform(t *Tensor, bound float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// linear 计算 y = W x + b。
func linear(w, b *Tensor, x []float64) []float64 {
	out := make([]float64, w.Rows)
	y := mat.NewVecDense(w.Rows, out)
	y.MulVec(w.Mat(), mat.NewVecDense(len(x), x))
	floats.Add(out, b.Data)
	return out
}

// linearBackward 累加 dW += dy xᵀ 与 db += dy，并返回 dx = Wᵀ dy。
func linearBackward(w, gw, gb *Tensor, x, dy []float64) []float64 {
	dyVec := mat.NewVecDense(len(dy), dy)
	gm := gw.Mat()
	gm.RankOne(gm, 1, dyVec, mat.NewVecDense(len(x), x))
	floats.Add(gb.Data, dy)

	dx := make([]float64, w.Cols)
	mat.NewVecDense(w.Cols, dx).MulVec(w.Mat().T(), dyVec)
	return dx
}

func relu(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// reluBackward 只让激活值为正的位置通过梯度。
func reluBackward(activated, dy []float64) []float64 {
	out := make([]float64, len(dy))
	for i, v := range activated {
		if v > 0 {
			out[i] = dy[i]
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
