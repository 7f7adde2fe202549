// C:/workspace/go/Swarm-Coverage-Go/trainer/recovery.go
package trainer

import (
	"math"

	"Swarm-Coverage/config"
	"Swarm-Coverage/network"
)

// Decision 是恢复监视器在一个日志窗口上做出的判断。
type Decision int

const (
	// Hold 表示无事发生。
	Hold Decision = iota
	// Snapshot 表示覆盖率刷新了最好成绩，已保存参数快照。
	Snapshot
	// Degrade 表示覆盖率低于最好成绩减去容忍度，退化计数加一。
	Degrade
	// Restore 表示连续退化达到耐心值，参数已回滚到快照。
	Restore
	// CooldownSkip 表示达到了耐心值但仍在冷却期内。
	CooldownSkip
)

func (d Decision) String() string {
	switch d {
	case Snapshot:
		return "snapshot"
	case Degrade:
		return "degrade"
	case Restore:
		return "restore"
	case CooldownSkip:
		return "cooldown"
	default:
		return "hold"
	}
}

// RecoveryMonitor 保存最好的参数快照，在覆盖率崩溃后回滚。
type RecoveryMonitor struct {
	enabled   bool
	start     int
	threshold float64
	tolerance float64
	patience  int
	minImp    float64
	cooldown  int

	resetEpsilon float64
	boost        float64

	best         *network.ParameterSet
	bestCoverage float64
	degrade      int
	lastRecovery int
}

// NewRecoveryMonitor 按密度档位解析阈值。起始回合不早于第一个日志窗口。
func NewRecoveryMonitor(rc config.RecoveryConfig, density float64, logInterval int) *RecoveryMonitor {
	threshold, tolerance := rc.ThresholdsFor(config.TierFor(density))
	return &RecoveryMonitor{
		enabled:      rc.Enabled,
		start:        max(rc.StartEpisode, logInterval),
		threshold:    threshold,
		tolerance:    tolerance,
		patience:     max(1, rc.Patience),
		minImp:       rc.MinImprovement,
		cooldown:     max(0, rc.Cooldown),
		resetEpsilon: rc.ResetEpsilon,
		boost:        rc.EpsilonBoost,
		bestCoverage: math.Inf(-1),
		lastRecovery: -max(0, rc.Cooldown),
	}
}

// Evaluate 根据窗口平均覆盖率更新状态。返回 Restore 时 live 和 target
// 已经被快照覆盖。
func (m *RecoveryMonitor) Evaluate(episode int, coverage float64, live, target *network.ParameterSet) Decision {
	if !m.enabled || episode < m.start {
		return Hold
	}

	switch {
	case coverage >= m.threshold && coverage > m.bestCoverage+m.minImp:
		m.best = live.Clone()
		m.bestCoverage = coverage
		m.degrade = 0
		return Snapshot
	case coverage >= m.threshold:
		m.degrade = 0
		return Hold
	case m.best != nil && m.bestCoverage >= m.threshold && coverage <= m.bestCoverage-m.tolerance:
		m.degrade++
		if m.degrade < m.patience {
			return Degrade
		}
		if episode-m.lastRecovery < m.cooldown {
			return CooldownSkip
		}
		if err := live.CopyFrom(m.best); err != nil {
			// 快照取自同一组参数，形状不可能不同
			panic("trainer: recovery snapshot does not match live parameters: " + err.Error())
		}
		if target != nil {
			_ = target.CopyFrom(m.best)
		}
		m.lastRecovery = episode
		m.degrade = 0
		return Restore
	default:
		m.degrade = 0
		return Hold
	}
}

// RecoveredEpsilon 返回回滚后应使用的探索率。
func (m *RecoveryMonitor) RecoveredEpsilon(prev float64) float64 {
	if prev < m.resetEpsilon {
		return math.Min(prev+m.boost, m.resetEpsilon)
	}
	return m.resetEpsilon
}

// Best 返回最好快照及其覆盖率，没有快照时返回 nil。
func (m *RecoveryMonitor) Best() (*network.ParameterSet, float64) {
	return m.best, m.bestCoverage
}

func (m *RecoveryMonitor) Degraded() int     { return m.degrade }
func (m *RecoveryMonitor) LastRecovery() int { return m.lastRecovery }
