package memory

import (
	"math/rand/v2"

	"github.com/c2h5oh/datasize"
)

// EpisodeMemory 是固定容量的轨迹环形缓冲区，满了之后覆盖最旧的轨迹。
type EpisodeMemory struct {
	capacity int
	episodes []*Episode
	next     int
	rng      *rand.Rand
	bytes    datasize.ByteSize
}

// NewEpisodeMemory 创建缓冲区，rng 只用于采样。
func NewEpisodeMemory(capacity int, rng *rand.Rand) *EpisodeMemory {
	return &EpisodeMemory{
		capacity: capacity,
		episodes: make([]*Episode, 0, capacity),
		rng:      rng,
	}
}

// Push 存入一条完成的轨迹。
func (m *EpisodeMemory) Push(ep *Episode) {
	if len(m.episodes) < m.capacity {
		m.episodes = append(m.episodes, ep)
	} else {
		m.bytes -= m.episodes[m.next].Bytes()
		m.episodes[m.next] = ep
	}
	m.bytes += ep.Bytes()
	m.next = (m.next + 1) % m.capacity
}

// Len 返回当前存储的轨迹数量。
func (m *EpisodeMemory) Len() int { return len(m.episodes) }

// Capacity 返回容量。
func (m *EpisodeMemory) Capacity() int { return m.capacity }

// CanSample 判断是否至少有 n 条轨迹。
func (m *EpisodeMemory) CanSample(n int) bool { return len(m.episodes) >= n }

// Footprint 返回所有轨迹占用内存的估计值。
func (m *EpisodeMemory) Footprint() datasize.ByteSize { return m.bytes }

// Sample 无放回地均匀抽取 n 条轨迹。
func (m *EpisodeMemory) Sample(n int) []*Episode {
	if n > len(m.episodes) {
		n = len(m.episodes)
	}
	perm := m.rng.Perm(len(m.episodes))
	out := make([]*Episode, n)
	for i := range out {
		out[i] = m.episodes[perm[i]]
	}
	return out
}
