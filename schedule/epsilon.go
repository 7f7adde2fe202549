// C:/workspace/go/Swarm-Coverage-Go/schedule/epsilon.go
package schedule

import (
	"math"
	"sort"

	"Swarm-Coverage/config"
)

// EpsilonSchedule 是带平台期与加速事件的 epsilon-greedy 探索率调度器。
// 回合编号从 1 开始。
type EpsilonSchedule struct {
	start float64
	end   float64
	decay float64
	min   float64

	current       float64
	plateaus      []config.Plateau
	accelerations []config.Acceleration
	applied       []bool
}

// New 创建调度器，平台期按起始回合排序。加速事件最多取前两个。
func New(start, end, decay, minEpsilon float64, plateaus []config.Plateau, accelerations []config.Acceleration) *EpsilonSchedule {
	ps := append([]config.Plateau(nil), plateaus...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].Start < ps[j].Start })
	if len(accelerations) > 2 {
		accelerations = accelerations[:2]
	}
	acc := append([]config.Acceleration(nil), accelerations...)
	return &EpsilonSchedule{
		start:         start,
		end:           end,
		decay:         decay,
		min:           minEpsilon,
		current:       start,
		plateaus:      ps,
		accelerations: acc,
		applied:       make([]bool, len(acc)),
	}
}

// FromConfig 按障碍物密度档位选择下限与衰减因子。
func FromConfig(h config.Hyperparameters, density float64) *EpsilonSchedule {
	tier := config.TierFor(density)
	end, decay := h.ExplorationFor(tier)
	return New(h.EpsilonStart, end, decay, h.MinEpsilonFor(tier), h.EpsilonPlateaus, h.Accelerations)
}

func (s *EpsilonSchedule) activePlateau(episode int) (config.Plateau, bool) {
	for _, p := range s.plateaus {
		if p.Start <= episode && episode <= p.End {
			return p, true
		}
	}
	return config.Plateau{}, false
}

// Get 返回第 episode 回合使用的探索率；处于平台期时返回平台值。
func (s *EpsilonSchedule) Get(episode int) float64 {
	if p, ok := s.activePlateau(episode); ok {
		return math.Max(s.min, p.Value)
	}
	return s.current
}

// Step 在第 episode 回合结束后推进调度。下一回合处于平台期时直接取平台值，
// 否则按衰减因子几何衰减到 max(end, min)。
func (s *EpsilonSchedule) Step(episode int) {
	if p, ok := s.activePlateau(episode + 1); ok {
		s.current = math.Max(s.min, p.Value)
		return
	}
	floor := math.Max(s.end, s.min)
	s.current = math.Max(floor, s.current*s.decay)
}

// ApplyAccelerations 在到达配置的回合后永久替换衰减因子，每个事件只触发一次。
// 返回本次触发的事件。
func (s *EpsilonSchedule) ApplyAccelerations(episode int) []config.Acceleration {
	var fired []config.Acceleration
	for i, a := range s.accelerations {
		if s.applied[i] || episode < a.Episode {
			continue
		}
		s.applied[i] = true
		s.decay = a.Decay
		fired = append(fired, a)
	}
	return fired
}

// Reset 把探索率恢复到初始值。
func (s *EpsilonSchedule) Reset() { s.current = s.start }

// SetValue 强制设置探索率 (不低于硬下限)。
func (s *EpsilonSchedule) SetValue(v float64) { s.current = math.Max(s.min, v) }

// DecayTowards 以 factor ∈ [0,1] 把当前值向 target 混合。
func (s *EpsilonSchedule) DecayTowards(target, factor float64) {
	target = math.Max(s.min, target)
	factor = math.Min(math.Max(factor, 0), 1)
	s.current = factor*s.current + (1-factor)*target
}

func (s *EpsilonSchedule) Current() float64 { return s.current }
func (s *EpsilonSchedule) Decay() float64   { return s.decay }
func (s *EpsilonSchedule) Floor() float64   { return math.Max(s.end, s.min) }
