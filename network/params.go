package network

import (
	"fmt"
	"math/rand/v2"

	"github.com/tiendc/go-deepcopy"
)

// Dims 描述一次训练中网络的全部尺寸。
type Dims struct {
	NumAgents    int
	ObsDim       int
	StateDim     int
	NumActions   int
	HiddenDim    int
	MixingHidden int
	HyperHidden  int
}

// ParameterSet 是全部智能体网络加混合网络的参数图。
// Clone 总是深拷贝，快照与在线参数之间不会共享存储。
type ParameterSet struct {
	Agents []*AgentValueNetwork
	Mixer  *MixingNetwork
}

// NewParameterSet 用给定的随机数流初始化一组新参数。
func NewParameterSet(d Dims, rng *rand.Rand) *ParameterSet {
	p := &ParameterSet{Agents: make([]*AgentValueNetwork, d.NumAgents)}
	for i := range p.Agents {
		p.Agents[i] = NewAgentValueNetwork(d.ObsDim, d.HiddenDim, d.NumActions, rng)
	}
	p.Mixer = NewMixingNetwork(d.NumAgents, d.StateDim, d.MixingHidden, d.HyperHidden, rng)
	return p
}

// Clone 返回参数的深拷贝。
func (p *ParameterSet) Clone() *ParameterSet {
	var out ParameterSet
	if err := deepcopy.Copy(&out, p); err != nil {
		panic(fmt.Sprintf("network: clone parameter set: %v", err))
	}
	return &out
}

func (a *AgentValueNetwork) clone() *AgentValueNetwork {
	var out AgentValueNetwork
	if err := deepcopy.Copy(&out, a); err != nil {
		panic(fmt.Sprintf("network: clone agent network: %v", err))
	}
	return &out
}

func (m *MixingNetwork) clone() *MixingNetwork {
	var out MixingNetwork
	if err := deepcopy.Copy(&out, m); err != nil {
		panic(fmt.Sprintf("network: clone mixing network: %v", err))
	}
	return &out
}

// ZeroLike 返回一组同形状的全零参数，用作梯度累加器。
func (p *ParameterSet) ZeroLike() *ParameterSet {
	out := p.Clone()
	out.Zero()
	return out
}

// Zero 把所有参数置零。
func (p *ParameterSet) Zero() {
	for _, t := range p.Tensors() {
		t.Zero()
	}
}

// Tensors 以固定顺序返回所有参数: 各智能体依次排列，最后是混合网络。
func (p *ParameterSet) Tensors() []*Tensor {
	var out []*Tensor
	for _, a := range p.Agents {
		out = append(out, a.Tensors()...)
	}
	if p.Mixer != nil {
		out = append(out, p.Mixer.Tensors()...)
	}
	return out
}

// NumParams 返回标量参数总数。
func (p *ParameterSet) NumParams() int {
	n := 0
	for _, t := range p.Tensors() {
		n += len(t.Data)
	}
	return n
}

// CheckCompatible 检查两组参数的智能体数量与所有张量形状是否一致。
func (p *ParameterSet) CheckCompatible(o *ParameterSet) error {
	if len(p.Agents) != len(o.Agents) {
		return fmt.Errorf("%w: %d agents vs %d agents", ErrShapeMismatch, len(p.Agents), len(o.Agents))
	}
	if (p.Mixer == nil) != (o.Mixer == nil) {
		return fmt.Errorf("%w: mixer present in only one set", ErrShapeMismatch)
	}
	a, b := p.Tensors(), o.Tensors()
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d tensors vs %d tensors", ErrShapeMismatch, len(a), len(b))
	}
	for i := range a {
		if err := a[i].SameShape(b[i]); err != nil {
			return err
		}
	}
	return nil
}

// CopyFrom 把 src 的数值复制进 p。形状不一致时不做任何修改。
func (p *ParameterSet) CopyFrom(src *ParameterSet) error {
	if err := p.CheckCompatible(src); err != nil {
		return err
	}
	dst, from := p.Tensors(), src.Tensors()
	for i := range dst {
		copy(dst[i].Data, from[i].Data)
	}
	return nil
}
