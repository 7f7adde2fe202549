package config

// DensityTier 按障碍物密度给场景分档，越密集的地图需要越多的探索。
type DensityTier int

const (
	LowDensity DensityTier = iota
	MediumDensity
	HighDensity
)

func (t DensityTier) String() string {
	switch t {
	case MediumDensity:
		return "medium"
	case HighDensity:
		return "high"
	default:
		return "low"
	}
}

// TierFor 返回密度对应的档位: >=0.20 为高, >=0.10 为中, 其余为低。
func TierFor(density float64) DensityTier {
	switch {
	case density >= 0.20:
		return HighDensity
	case density >= 0.10:
		return MediumDensity
	default:
		return LowDensity
	}
}

// ExplorationFor 返回该档位下 epsilon 的下限与衰减因子。
func (h Hyperparameters) ExplorationFor(tier DensityTier) (end, decay float64) {
	switch tier {
	case HighDensity:
		return h.EpsilonEndHighDensity, h.EpsilonDecayHighDensity
	case MediumDensity:
		return h.EpsilonEndMediumDensity, h.EpsilonDecayMediumDensity
	default:
		return h.EpsilonEnd, h.EpsilonDecay
	}
}

// MinEpsilonFor 返回 epsilon 的硬下限；未显式配置时与分档后的下限一致。
func (h Hyperparameters) MinEpsilonFor(tier DensityTier) float64 {
	if h.EpsilonMin > 0 {
		return h.EpsilonMin
	}
	end, _ := h.ExplorationFor(tier)
	return end
}

// ThresholdsFor 返回该档位下恢复机制的覆盖率阈值与回落容忍度。
func (r RecoveryConfig) ThresholdsFor(tier DensityTier) (threshold, tolerance float64) {
	switch tier {
	case HighDensity:
		return r.CoverageThresholdHighDensity, r.DropToleranceHighDensity
	case MediumDensity:
		return r.CoverageThresholdMediumDensity, r.DropToleranceMediumDensity
	default:
		return r.CoverageThreshold, r.DropTolerance
	}
}
