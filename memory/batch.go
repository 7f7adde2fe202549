package memory

// Batch 把长度不一的轨迹对齐到批内最大长度，Mask[b][t] 标记有效的时间步。
type Batch struct {
	Episodes []*Episode
	MaxLen   int
	Mask     [][]float64
}

// NewBatch 构造一个批次。
func NewBatch(episodes []*Episode) *Batch {
	b := &Batch{Episodes: episodes}
	for _, ep := range episodes {
		b.MaxLen = max(b.MaxLen, ep.Length)
	}
	b.Mask = make([][]float64, len(episodes))
	for i, ep := range episodes {
		row := make([]float64, b.MaxLen)
		for t := 0; t < ep.Length; t++ {
			row[t] = 1
		}
		b.Mask[i] = row
	}
	return b
}

// Size 返回批内轨迹数量。
func (b *Batch) Size() int { return len(b.Episodes) }

// ValidSteps 返回有效时间步总数。
func (b *Batch) ValidSteps() float64 {
	s := 0.0
	for _, row := range b.Mask {
		for _, v := range row {
			s += v
		}
	}
	return s
}
