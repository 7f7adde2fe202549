package simulation

import (
	"math/rand/v2"

	"Swarm-Coverage/config"
)

// ObstacleField 保存一张静态障碍物布局。
type ObstacleField struct {
	height int
	width  int
	kind   config.ObstacleType
	mask   []bool
	count  int
}

// NewObstacleField 以拒绝采样的方式放置 int(height*width*density) 个障碍物，
// 最多尝试 10 倍于目标数量的次数；尝试用尽时接受较少的障碍物。
func NewObstacleField(height, width int, density float64, kind config.ObstacleType, rng *rand.Rand) *ObstacleField {
	f := &ObstacleField{
		height: height,
		width:  width,
		kind:   kind,
		mask:   make([]bool, height*width),
	}
	if density <= 0 {
		return f
	}

	target := int(float64(height*width) * density)
	attempts := target * 10
	for f.count < target && attempts > 0 {
		attempts--
		idx := rng.IntN(height)*width + rng.IntN(width)
		if !f.mask[idx] {
			f.mask[idx] = true
			f.count++
		}
	}
	return f
}

// IsObstacle 对越界坐标同样返回 true。
func (f *ObstacleField) IsObstacle(row, col int) bool {
	if row < 0 || row >= f.height || col < 0 || col >= f.width {
		return true
	}
	return f.mask[row*f.width+col]
}

// ClearCells 只清除给定格子上的障碍物。
// 它不保证其余空闲区域从这些格子出发都是可达的。
func (f *ObstacleField) ClearCells(cells []Position) {
	for _, p := range cells {
		if p.Row < 0 || p.Row >= f.height || p.Col < 0 || p.Col >= f.width {
			continue
		}
		idx := p.Row*f.width + p.Col
		if f.mask[idx] {
			f.mask[idx] = false
			f.count--
		}
	}
}

// Count 返回障碍物数量。
func (f *ObstacleField) Count() int { return f.count }

// Kind 返回障碍物类型。
func (f *ObstacleField) Kind() config.ObstacleType { return f.kind }

// Mask 返回按行优先展开的障碍物掩码副本。
func (f *ObstacleField) Mask() []bool {
	out := make([]bool, len(f.mask))
	copy(out, f.mask)
	return out
}
