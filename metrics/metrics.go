// C:/workspace/go/Swarm-Coverage-Go/metrics/metrics.go
//
// Package metrics 计算覆盖任务的回合指标，并格式化训练日志中固定格式的进度行。
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EpisodeStats 记录单个回合的评估指标。
type EpisodeStats struct {
	Episode      int     `json:"episode"`
	Steps        int     `json:"steps"`
	Coverage     float64 `json:"coverage"`
	PA           float64 `json:"pa"` // 访问新格子的动作占全部动作的比例
	Collisions   int     `json:"collisions"`
	ObstacleHits int     `json:"obstacle_hits"`
	Energy       int     `json:"energy_consumed"`
	Balance      float64 `json:"workload_balance"`
	Reward       float64 `json:"team_reward"`
	Success      bool    `json:"success"`
}

// successCoverage 是判定回合成功的覆盖率阈值。
const successCoverage = 0.99

// Accumulator 在回合进行中逐步累加指标。
type Accumulator struct {
	numAgents    int
	steps        int
	newCells     int
	actions      int
	collisions   int
	obstacleHits int
	reward       float64
	perAgent     []float64 // 每个智能体访问的新格子数
	startEnergy  int
}

// NewAccumulator 以回合开始时各智能体的能量创建累加器。
func NewAccumulator(numAgents int, energy []int) *Accumulator {
	start := 0
	for _, e := range energy {
		start += e
	}
	return &Accumulator{
		numAgents:   numAgents,
		perAgent:    make([]float64, numAgents),
		startEnergy: start,
	}
}

// Add 记录一个时间步。
func (a *Accumulator) Add(rewards []float64, newCells []bool, collisions, obstacleHits int) {
	a.steps++
	a.actions += a.numAgents
	a.collisions += collisions
	a.obstacleHits += obstacleHits
	a.reward += floats.Sum(rewards)
	for i, n := range newCells {
		if n {
			a.newCells++
			a.perAgent[i]++
		}
	}
}

// Finish 根据回合结束时的覆盖率与剩余能量给出回合指标。
func (a *Accumulator) Finish(episode int, coverage float64, done bool, energy []int) EpisodeStats {
	left := 0
	for _, e := range energy {
		left += e
	}
	s := EpisodeStats{
		Episode:      episode,
		Steps:        a.steps,
		Coverage:     coverage,
		Collisions:   a.collisions,
		ObstacleHits: a.obstacleHits,
		Energy:       a.startEnergy - left,
		Balance:      WorkloadBalance(a.perAgent),
		Reward:       a.reward,
		Success:      done && coverage >= successCoverage,
	}
	if a.actions > 0 {
		s.PA = float64(a.newCells) / float64(a.actions)
	}
	return s
}

// WorkloadBalance 返回 1/(1+std/mean)，全部为零时为 1，没有智能体时为 0。
func WorkloadBalance(work []float64) float64 {
	if len(work) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(work, nil)
	if mean == 0 {
		return 1
	}
	return 1 / (1 + std/mean)
}

// Summary 是一组数值的均值、总体标准差、最小值和最大值。
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	return Summary{Mean: mean, Std: std, Min: floats.Min(xs), Max: floats.Max(xs)}
}

// Aggregate 对一组回合按指标名汇总。
type Aggregate map[string]Summary

// 指标名，同时也是报表的列名。
const (
	MetricSteps        = "steps"
	MetricCoverage     = "coverage"
	MetricPA           = "pa"
	MetricCollisions   = "collisions"
	MetricObstacleHits = "obstacle_hits"
	MetricEnergy       = "energy_consumed"
	MetricBalance      = "workload_balance"
	MetricReward       = "team_reward"
	MetricSuccess      = "success"
)

// AggregateStats 计算每个指标的 mean/std/min/max。
func AggregateStats(stats []EpisodeStats) Aggregate {
	cols := map[string][]float64{}
	for _, s := range stats {
		success := 0.0
		if s.Success {
			success = 1
		}
		cols[MetricSteps] = append(cols[MetricSteps], float64(s.Steps))
		cols[MetricCoverage] = append(cols[MetricCoverage], s.Coverage)
		cols[MetricPA] = append(cols[MetricPA], s.PA)
		cols[MetricCollisions] = append(cols[MetricCollisions], float64(s.Collisions))
		cols[MetricObstacleHits] = append(cols[MetricObstacleHits], float64(s.ObstacleHits))
		cols[MetricEnergy] = append(cols[MetricEnergy], float64(s.Energy))
		cols[MetricBalance] = append(cols[MetricBalance], s.Balance)
		cols[MetricReward] = append(cols[MetricReward], s.Reward)
		cols[MetricSuccess] = append(cols[MetricSuccess], success)
	}
	agg := make(Aggregate, len(cols))
	for k, xs := range cols {
		agg[k] = summarize(xs)
	}
	return agg
}

// Mean 返回指标均值，缺失时为 NaN。
func (a Aggregate) Mean(metric string) float64 {
	s, ok := a[metric]
	if !ok {
		return math.NaN()
	}
	return s.Mean
}

// Metrics 按字母序返回指标名。
func (a Aggregate) Metrics() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProgressLine 格式化周期性进度日志，下游解析脚本依赖这个格式。
func ProgressLine(episode int, agg Aggregate, epsilon float64) string {
	return fmt.Sprintf("episode=%d coverage_mean=%.3f pa_mean=%.3f steps_mean=%.1f epsilon=%.3f",
		episode, agg.Mean(MetricCoverage), agg.Mean(MetricPA), agg.Mean(MetricSteps), epsilon)
}

// TerminalLine 格式化训练结束时的汇总日志。
func TerminalLine(agg Aggregate) string {
	return fmt.Sprintf("coverage_mean=%.3f pa_mean=%.3f steps_mean=%.1f",
		agg.Mean(MetricCoverage), agg.Mean(MetricPA), agg.Mean(MetricSteps))
}
