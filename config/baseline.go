package config

import "fmt"

// Strategy 选择 Q-learning 基线的网络组织方式。
type Strategy string

const (
	// GlobalStrategy 用一个网络同时输出所有智能体的 Q 值 (N*A 个输出)。
	GlobalStrategy Strategy = "global"
	// PerUnitStrategy 为每个智能体单独训练一个网络 (A 个输出)。
	PerUnitStrategy Strategy = "per_unit"
)

// BaselineConfig 是基于经验回放的 Q-learning 基线的超参数。
type BaselineConfig struct {
	Seed     uint64   `json:"seed"`
	Strategy Strategy `json:"strategy"`

	HiddenDim            int     `json:"hiddenDim"`
	LearningRate         float64 `json:"learningRate"`
	MemorySize           int     `json:"memorySize"`
	MinMemory            int     `json:"minMemory"`
	BatchSize            int     `json:"batchSize"`
	Gamma                float64 `json:"gamma"`
	Episodes             int     `json:"episodes"`
	TargetUpdateInterval int     `json:"targetUpdateInterval"`
	LogInterval          int     `json:"logInterval"`
	GradClip             float64 `json:"gradClip"`

	EpsilonStart float64 `json:"epsilonStart"`
	EpsilonEnd   float64 `json:"epsilonEnd"`
	EpsilonDecay float64 `json:"epsilonDecay"`

	CheckpointDir string `json:"checkpointDir"`
}

// DefaultBaselineConfig 返回基线的默认超参数。
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		Seed:                 42,
		Strategy:             GlobalStrategy,
		HiddenDim:            167,
		LearningRate:         1e-3,
		MemorySize:           200,
		MinMemory:            32,
		BatchSize:            32,
		Gamma:                0.99,
		Episodes:             100,
		TargetUpdateInterval: 100,
		LogInterval:          10,
		GradClip:             5.0,
		EpsilonStart:         1.0,
		EpsilonEnd:           0.05,
		EpsilonDecay:         0.99,
		CheckpointDir:        "experiments/checkpoints",
	}
}

// Validate 检查基线超参数是否合法。
func (c BaselineConfig) Validate() error {
	switch {
	case c.Strategy != GlobalStrategy && c.Strategy != PerUnitStrategy:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidHyper, c.Strategy)
	case c.HiddenDim < 1:
		return fmt.Errorf("%w: hidden dim %d", ErrInvalidHyper, c.HiddenDim)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %g", ErrInvalidHyper, c.LearningRate)
	case c.BatchSize < 1 || c.MemorySize < c.BatchSize:
		return fmt.Errorf("%w: batch size %d with memory size %d", ErrInvalidHyper, c.BatchSize, c.MemorySize)
	case c.Episodes < 1 || c.LogInterval < 1 || c.TargetUpdateInterval < 1:
		return fmt.Errorf("%w: episodes, log interval and target interval must be positive", ErrInvalidHyper)
	case c.Gamma < 0 || c.Gamma > 1:
		return fmt.Errorf("%w: gamma %g", ErrInvalidHyper, c.Gamma)
	}
	return nil
}
