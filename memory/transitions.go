package memory

import (
	"math/rand/v2"

	"github.com/c2h5oh/datasize"
)

// Transition 是单步经验 (s, a, r, s', done)，奖励按智能体分开记录。
type Transition struct {
	Obs     []float64
	Actions []int
	Rewards []float64
	NextObs []float64
	Done    bool
}

// Bytes 估算一条经验占用的内存。
func (t Transition) Bytes() datasize.ByteSize {
	n := 8*(len(t.Obs)+len(t.NextObs)+len(t.Rewards)+len(t.Actions)) + 1
	return datasize.ByteSize(n)
}

// TransitionMemory 是单步经验的环形缓冲区。
type TransitionMemory struct {
	capacity int
	items    []Transition
	next     int
	rng      *rand.Rand
	bytes    datasize.ByteSize
}

// NewTransitionMemory 创建容量为 capacity 的缓冲区。
func NewTransitionMemory(capacity int, rng *rand.Rand) *TransitionMemory {
	return &TransitionMemory{capacity: capacity, items: make([]Transition, 0, capacity), rng: rng}
}

// Push 存入一条经验，满了之后覆盖最旧的一条。
func (m *TransitionMemory) Push(t Transition) {
	if len(m.items) < m.capacity {
		m.items = append(m.items, t)
	} else {
		m.bytes -= m.items[m.next].Bytes()
		m.items[m.next] = t
	}
	m.bytes += t.Bytes()
	m.next = (m.next + 1) % m.capacity
}

// Len 返回当前经验条数。
func (m *TransitionMemory) Len() int { return len(m.items) }

// Footprint 返回占用内存的估计值。
func (m *TransitionMemory) Footprint() datasize.ByteSize { return m.bytes }

// Sample 无放回地抽取 n 条经验。
func (m *TransitionMemory) Sample(n int) []Transition {
	if n > len(m.items) {
		n = len(m.items)
	}
	perm := m.rng.Perm(len(m.items))
	out := make([]Transition, n)
	for i := range out {
		out[i] = m.items[perm[i]]
	}
	return out
}
