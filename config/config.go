// C:/workspace/go/Swarm-Coverage-Go/config/config.go
package config

import (
	"errors"
	"fmt"
)

// ===================================================================
//                           场景描述
// ===================================================================

// ObstacleType 描述障碍物的类型。目前只有静态障碍物会真正生效。
type ObstacleType string

const (
	StaticObstacles  ObstacleType = "static"
	DynamicObstacles ObstacleType = "dynamic"
)

// Scenario 描述一次训练所面对的覆盖任务。
type Scenario struct {
	Height          int          `json:"height"`
	Width           int          `json:"width"`
	NumAgents       int          `json:"numAgents"`
	ObstacleDensity float64      `json:"obstacleDensity"`
	ObstacleType    ObstacleType `json:"obstacleType"`
}

// ===================================================================
//                           环境参数
// ===================================================================

// EnvParams 封装了网格环境的奖励常量与回合限制。
type EnvParams struct {
	MaxSteps     int `json:"maxSteps"`
	EnergyBudget int `json:"energyBudget"`

	RewardNewCellBase float64 `json:"rewardNewCellBase"`
	RewardVisitedCell float64 `json:"rewardVisitedCell"`
	RewardObstacle    float64 `json:"rewardObstacle"`
	RewardCollision   float64 `json:"rewardCollision"`
	RewardComplete    float64 `json:"rewardComplete"`
	RewardNoProgress  float64 `json:"rewardNoProgress"`

	NoProgressPatience int `json:"noProgressPatience"`

	// 势能塑形奖励
	EnablePotentialReward bool    `json:"enablePotentialReward"`
	ShapingWeight         float64 `json:"shapingWeight"`
	ObstacleShapingWeight float64 `json:"obstacleShapingWeight"`
	// ObstacleShapingWeights 按障碍物密度覆盖 ObstacleShapingWeight，键为密度值。
	ObstacleShapingWeights map[float64]float64 `json:"obstacleShapingWeights,omitempty"`
}

// DefaultEnvParams 返回与论文实验一致的默认奖励设置。
func DefaultEnvParams() EnvParams {
	return EnvParams{
		MaxSteps:              2000,
		EnergyBudget:          2400,
		RewardNewCellBase:     358.74,
		RewardVisitedCell:     -31.14,
		RewardObstacle:        -225.17,
		RewardCollision:       -100.0,
		RewardComplete:        1000.0,
		RewardNoProgress:      -2.0,
		NoProgressPatience:    30,
		EnablePotentialReward: true,
		ShapingWeight:         10.0,
		ObstacleShapingWeight: 2.0,
	}
}

// ResolveShaping 根据场景的障碍物密度和消融开关，给出实际生效的两个塑形权重。
func (p EnvParams) ResolveShaping(density float64) (shaping, obstacle float64) {
	if !p.EnablePotentialReward {
		return 0, 0
	}
	obstacle = p.ObstacleShapingWeight
	if density > 0 {
		if w, ok := p.ObstacleShapingWeights[density]; ok {
			obstacle = w
		}
	}
	return p.ShapingWeight, obstacle
}

// ===================================================================
//                           探索与恢复参数
// ===================================================================

// Plateau 在 [Start, End] (含两端, 从 1 开始计数) 的回合内把 epsilon 固定为 Value。
type Plateau struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Value float64 `json:"value"`
}

// Acceleration 在到达 Episode 后把 epsilon 衰减因子永久改为 Decay。
type Acceleration struct {
	Episode int     `json:"episode"`
	Decay   float64 `json:"decay"`
}

// RecoveryConfig 控制覆盖率崩溃后的自动恢复机制。
type RecoveryConfig struct {
	Enabled bool `json:"enabled"`

	CoverageThreshold              float64 `json:"coverageThreshold"`
	CoverageThresholdMediumDensity float64 `json:"coverageThresholdMediumDensity"`
	CoverageThresholdHighDensity   float64 `json:"coverageThresholdHighDensity"`

	DropTolerance              float64 `json:"dropTolerance"`
	DropToleranceMediumDensity float64 `json:"dropToleranceMediumDensity"`
	DropToleranceHighDensity   float64 `json:"dropToleranceHighDensity"`

	Patience       int     `json:"patience"`
	ResetEpsilon   float64 `json:"resetEpsilon"`
	EpsilonBoost   float64 `json:"epsilonBoost"`
	MinImprovement float64 `json:"minImprovement"`
	StartEpisode   int     `json:"startEpisode"`
	Cooldown       int     `json:"cooldown"`
}

// ===================================================================
//                           训练超参数
// ===================================================================

// Hyperparameters 汇总 QMIX 训练需要的全部超参数。
type Hyperparameters struct {
	Seed uint64 `json:"seed"`

	LearningRate         float64 `json:"learningRate"`
	BatchSize            int     `json:"batchSize"`
	BufferSize           int     `json:"bufferSize"`
	MinBuffer            int     `json:"minBuffer"`
	Episodes             int     `json:"episodes"`
	Gamma                float64 `json:"gamma"`
	TargetUpdateInterval int     `json:"targetUpdateInterval"`
	GradClip             float64 `json:"gradClip"`
	LogInterval          int     `json:"logInterval"`

	AgentHiddenDim  int `json:"agentHiddenDim"`
	MixingHiddenDim int `json:"mixingHiddenDim"`
	HyperHiddenDim  int `json:"hyperHiddenDim"`

	DoubleQ              bool `json:"doubleQ"`
	UseAvailableActions  bool `json:"useAvailableActions"`
	QuantizeObservations bool `json:"quantizeObservations"`

	EpsilonStart float64 `json:"epsilonStart"`
	EpsilonEnd   float64 `json:"epsilonEnd"`
	EpsilonDecay float64 `json:"epsilonDecay"`
	// EpsilonMin 为 0 时沿用分档后的 EpsilonEnd。
	EpsilonMin float64 `json:"epsilonMin"`

	EpsilonEndMediumDensity   float64 `json:"epsilonEndMediumDensity"`
	EpsilonDecayMediumDensity float64 `json:"epsilonDecayMediumDensity"`
	EpsilonEndHighDensity     float64 `json:"epsilonEndHighDensity"`
	EpsilonDecayHighDensity   float64 `json:"epsilonDecayHighDensity"`

	EpsilonPlateaus []Plateau      `json:"epsilonPlateaus,omitempty"`
	Accelerations   []Acceleration `json:"accelerations,omitempty"`

	Recovery RecoveryConfig `json:"recovery"`

	CheckpointDir  string `json:"checkpointDir"`
	ReportDir      string `json:"reportDir"`
	InitCheckpoint string `json:"initCheckpoint"`
}

// DefaultHyperparameters 返回 QMIX 的默认超参数。
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Seed:                 42,
		LearningRate:         5e-4,
		BatchSize:            32,
		BufferSize:           5000,
		MinBuffer:            200,
		Episodes:             100,
		Gamma:                0.99,
		TargetUpdateInterval: 200,
		GradClip:             10.0,
		LogInterval:          10,

		AgentHiddenDim:  64,
		MixingHiddenDim: 32,
		HyperHiddenDim:  64,

		DoubleQ:              true,
		QuantizeObservations: true,

		EpsilonStart: 1.0,
		EpsilonEnd:   0.05,
		EpsilonDecay: 0.995,

		EpsilonEndMediumDensity:   0.10,
		EpsilonDecayMediumDensity: 0.9997,
		EpsilonEndHighDensity:     0.12,
		EpsilonDecayHighDensity:   0.9995,

		Recovery: RecoveryConfig{
			CoverageThreshold:              0.9,
			CoverageThresholdMediumDensity: 0.95,
			CoverageThresholdHighDensity:   0.90,
			DropTolerance:                  0.02,
			DropToleranceMediumDensity:     0.04,
			DropToleranceHighDensity:       0.05,
			Patience:                       3,
			ResetEpsilon:                   0.4,
			EpsilonBoost:                   0.05,
			MinImprovement:                 0.01,
			StartEpisode:                   150,
		},

		CheckpointDir: "experiments/checkpoints",
	}
}

// ===================================================================
//                           校验
// ===================================================================

var (
	ErrInvalidMapSize      = errors.New("invalid map size")
	ErrInvalidAgents       = errors.New("invalid agent count")
	ErrInvalidDensity      = errors.New("invalid obstacle density")
	ErrInvalidObstacleType = errors.New("invalid obstacle type")
	ErrInvalidEnvParams    = errors.New("invalid environment parameters")
	ErrInvalidHyper        = errors.New("invalid hyperparameters")
)

// Validate 检查场景描述是否合法。
func (s Scenario) Validate() error {
	if s.Height < 1 || s.Width < 1 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidMapSize, s.Height, s.Width)
	}
	if s.NumAgents < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAgents, s.NumAgents)
	}
	if s.ObstacleDensity < 0 || s.ObstacleDensity >= 1 {
		return fmt.Errorf("%w: %.3f", ErrInvalidDensity, s.ObstacleDensity)
	}
	// 空值按静态处理
	switch s.ObstacleType {
	case "", StaticObstacles, DynamicObstacles:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidObstacleType, s.ObstacleType)
	}
	return nil
}

// Validate 检查环境参数是否合法。
func (p EnvParams) Validate() error {
	if p.MaxSteps < 1 {
		return fmt.Errorf("%w: max steps %d", ErrInvalidEnvParams, p.MaxSteps)
	}
	if p.EnergyBudget < 1 {
		return fmt.Errorf("%w: energy budget %d", ErrInvalidEnvParams, p.EnergyBudget)
	}
	return nil
}

// Validate 检查超参数是否合法。
func (h Hyperparameters) Validate() error {
	switch {
	case h.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %g", ErrInvalidHyper, h.LearningRate)
	case h.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidHyper, h.BatchSize)
	case h.BufferSize < h.BatchSize:
		return fmt.Errorf("%w: buffer size %d < batch size %d", ErrInvalidHyper, h.BufferSize, h.BatchSize)
	case h.MinBuffer < h.BatchSize:
		return fmt.Errorf("%w: min buffer %d < batch size %d", ErrInvalidHyper, h.MinBuffer, h.BatchSize)
	case h.Episodes < 1:
		return fmt.Errorf("%w: episodes %d", ErrInvalidHyper, h.Episodes)
	case h.Gamma < 0 || h.Gamma > 1:
		return fmt.Errorf("%w: gamma %g", ErrInvalidHyper, h.Gamma)
	case h.TargetUpdateInterval < 1:
		return fmt.Errorf("%w: target update interval %d", ErrInvalidHyper, h.TargetUpdateInterval)
	case h.LogInterval < 1:
		return fmt.Errorf("%w: log interval %d", ErrInvalidHyper, h.LogInterval)
	case h.AgentHiddenDim < 1 || h.MixingHiddenDim < 1 || h.HyperHiddenDim < 1:
		return fmt.Errorf("%w: hidden dims must be positive", ErrInvalidHyper)
	case len(h.Accelerations) > 2:
		return fmt.Errorf("%w: at most two epsilon accelerations, got %d", ErrInvalidHyper, len(h.Accelerations))
	}
	return nil
}
