// C:/workspace/go/Swarm-Coverage-Go/simulation/grid.go
package simulation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"Swarm-Coverage/config"
)

// ErrInsufficientFreeCells 表示空闲格子少于智能体数量。
var ErrInsufficientFreeCells = errors.New("insufficient free cells for agents")

// GridEnvironment 模拟多智能体覆盖任务: 状态、奖励以及终止规则。
type GridEnvironment struct {
	scenario config.Scenario
	params   config.EnvParams

	height    int
	width     int
	numAgents int

	obstacles *ObstacleField
	freeCells int

	visited      []bool
	visitedCount int
	positions    []Position
	energy       []int
	noProgress   []int
	potentials   []float64
	steps        int
	status       Status

	shapingWeight  float64
	obstacleWeight float64

	startRNG *rand.Rand
}

// NewGridEnvironment 构造环境并生成障碍物布局。布局在环境的整个生命周期内保持不变。
func NewGridEnvironment(scenario config.Scenario, params config.EnvParams, seed uint64) (*GridEnvironment, error) {
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("grid environment: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("grid environment: %w", err)
	}

	kind := scenario.ObstacleType
	if kind == "" {
		kind = config.StaticObstacles
	}
	obstacleRNG := rand.New(rand.NewPCG(seed, config.StreamObstacles))
	field := NewObstacleField(scenario.Height, scenario.Width, scenario.ObstacleDensity, kind, obstacleRNG)

	free := scenario.Height*scenario.Width - field.Count()
	if free < scenario.NumAgents {
		return nil, fmt.Errorf("grid environment %dx%d with %d obstacles: %w (%d free, %d agents)",
			scenario.Height, scenario.Width, field.Count(), ErrInsufficientFreeCells, free, scenario.NumAgents)
	}

	shaping, obstacleWeight := params.ResolveShaping(scenario.ObstacleDensity)
	e := &GridEnvironment{
		scenario:       scenario,
		params:         params,
		height:         scenario.Height,
		width:          scenario.Width,
		numAgents:      scenario.NumAgents,
		obstacles:      field,
		freeCells:      free,
		shapingWeight:  shaping,
		obstacleWeight: obstacleWeight,
		startRNG:       rand.New(rand.NewPCG(seed, config.StreamStarts)),
		status:         StatusIdle,
	}
	return e, nil
}

// Reset 开始一个新的 episode，起始位置继续使用当前的随机数流。
func (e *GridEnvironment) Reset() Observation {
	e.visited = make([]bool, e.height*e.width)
	e.visitedCount = 0
	e.steps = 0
	e.energy = make([]int, e.numAgents)
	e.noProgress = make([]int, e.numAgents)
	for i := range e.energy {
		e.energy[i] = e.params.EnergyBudget
	}

	e.positions = e.placeAgents()
	e.obstacles.ClearCells(e.positions)
	e.freeCells = e.height*e.width - e.obstacles.Count()
	for _, p := range e.positions {
		e.markVisited(p)
	}

	e.potentials = make([]float64, e.numAgents)
	for i, p := range e.positions {
		e.potentials[i] = e.potential(p)
	}
	e.status = StatusRunning
	return e.observation()
}

// ResetWithSeed 重新播种起始位置的随机数流后再 Reset。
// 障碍物布局不受影响，因此相同的种子得到相同的地图和起点。
func (e *GridEnvironment) ResetWithSeed(seed uint64) Observation {
	e.startRNG = rand.New(rand.NewPCG(seed, config.StreamStarts))
	return e.Reset()
}

// placeAgents 在空闲格子中无放回地抽取起始位置。
func (e *GridEnvironment) placeAgents() []Position {
	free := make([]Position, 0, e.freeCells)
	for r := 0; r < e.height; r++ {
		for c := 0; c < e.width; c++ {
			if !e.obstacles.IsObstacle(r, c) {
				free = append(free, Position{r, c})
			}
		}
	}
	if len(free) < e.numAgents {
		panic(fmt.Sprintf("simulation: %v", ErrInsufficientFreeCells))
	}
	// 部分 Fisher-Yates 洗牌
	for i := 0; i < e.numAgents; i++ {
		j := i + e.startRNG.IntN(len(free)-i)
		free[i], free[j] = free[j], free[i]
	}
	out := make([]Position, e.numAgents)
	copy(out, free[:e.numAgents])
	return out
}

func (e *GridEnvironment) markVisited(p Position) bool {
	idx := p.Row*e.width + p.Col
	if e.visited[idx] {
		return false
	}
	e.visited[idx] = true
	e.visitedCount++
	return true
}

// Step 让所有智能体同时执行一个动作。
// 动作数量错误或环境不在运行状态属于调用方的编程错误，会直接 panic。
func (e *GridEnvironment) Step(actions []Action) StepResult {
	if len(actions) != e.numAgents {
		panic(fmt.Sprintf("simulation: expected %d actions, received %d", e.numAgents, len(actions)))
	}
	if e.status != StatusRunning {
		panic(fmt.Sprintf("simulation: step called in state %s", e.status))
	}

	rewards := make([]float64, e.numAgents)
	newCells := make([]bool, e.numAgents)
	active := make([]bool, e.numAgents)
	invalid := make([]bool, e.numAgents)
	targets := make([]Position, e.numAgents)
	collisions, obstacleHits := 0, 0

	// 1. 计算每个智能体的目标格子；无效移动和能量耗尽的智能体原地不动
	for i, a := range actions {
		pos := e.positions[i]
		targets[i] = pos
		if e.energy[i] <= 0 {
			continue
		}
		active[i] = true
		dr, dc := a.Delta()
		next := Position{pos.Row + dr, pos.Col + dc}
		if e.obstacles.IsObstacle(next.Row, next.Col) {
			invalid[i] = true
			continue
		}
		targets[i] = next
	}

	claims := make(map[Position]int, e.numAgents)
	for _, t := range targets {
		claims[t]++
	}
	blocked := make([]bool, e.numAgents)
	for i := range targets {
		blocked[i] = active[i] && !invalid[i] && claims[targets[i]] > 1
	}
	// 因碰撞留在原地的智能体仍占着自己的格子，驶入者同样算作碰撞，直到不再变化
	for changed := true; changed; {
		changed = false
		staying := make(map[Position]bool, e.numAgents)
		for i, p := range e.positions {
			if !active[i] || invalid[i] || blocked[i] {
				staying[p] = true
			}
		}
		for i := range targets {
			if active[i] && !invalid[i] && !blocked[i] && staying[targets[i]] {
				blocked[i] = true
				changed = true
			}
		}
	}

	// 2. 结算移动与奖励
	for i := range actions {
		if !active[i] {
			continue
		}
		e.energy[i]--
		penalized := false
		progressed := false

		switch {
		case invalid[i]:
			rewards[i] += e.params.RewardObstacle
			penalized = true
			obstacleHits++
		case blocked[i]:
			rewards[i] += e.params.RewardCollision
			penalized = true
			collisions++
		default:
			dest := targets[i]
			if !e.visited[dest.Row*e.width+dest.Col] {
				remaining := e.freeCells - e.visitedCount
				scale := 1.0
				if remaining > 0 {
					scale += float64(max(e.height, e.width)) / float64(remaining)
				}
				rewards[i] += e.params.RewardNewCellBase * scale
				e.markVisited(dest)
				progressed = true
				newCells[i] = true
			} else {
				rewards[i] += e.params.RewardVisitedCell
				penalized = e.params.RewardVisitedCell != 0
			}
			e.positions[i] = dest
		}

		if progressed {
			e.noProgress[i] = 0
		} else {
			rewards[i] += e.registerNoProgress(i, penalized)
		}
	}

	// 3. 势能塑形
	if e.shapingWeight != 0 {
		for i, p := range e.positions {
			if !active[i] {
				continue
			}
			next := e.potential(p)
			rewards[i] += e.shapingWeight * (next - e.potentials[i])
			e.potentials[i] = next
		}
	}

	e.steps++
	terminated := e.visitedCount == e.freeCells
	truncated := false
	if terminated {
		e.status = StatusTerminated
		bonus := e.params.RewardComplete / float64(e.numAgents)
		for i := range rewards {
			rewards[i] += bonus
		}
	} else if e.steps >= e.params.MaxSteps || e.allDepleted() {
		truncated = true
		e.status = StatusTruncated
	}

	info := e.info()
	info.Collisions = collisions
	info.ObstacleHits = obstacleHits
	info.NewCells = newCells

	return StepResult{
		Observation: e.observation(),
		Rewards:     rewards,
		Terminated:  terminated,
		Truncated:   truncated,
		Info:        info,
	}
}

// registerNoProgress 推进无进展计数器，到达耐心阈值时返回惩罚并清零计数器。
// 本步撞障碍、碰撞或受到非零的重复访问惩罚时给全额，否则给一半。
func (e *GridEnvironment) registerNoProgress(agent int, penalized bool) float64 {
	e.noProgress[agent]++
	if e.noProgress[agent] < max(1, e.params.NoProgressPatience) {
		return 0
	}
	e.noProgress[agent] = 0
	if penalized {
		return e.params.RewardNoProgress
	}
	return e.params.RewardNoProgress * 0.5
}

func (e *GridEnvironment) allDepleted() bool {
	for _, en := range e.energy {
		if en > 0 {
			return false
		}
	}
	return true
}

// AvailableActions 返回每个智能体的可用动作掩码: 目标格子在界内且不是障碍物。
func (e *GridEnvironment) AvailableActions() [][]bool {
	out := make([][]bool, e.numAgents)
	for i, p := range e.positions {
		mask := make([]bool, NumActions)
		for a := Action(0); a < NumActions; a++ {
			dr, dc := a.Delta()
			mask[a] = !e.obstacles.IsObstacle(p.Row+dr, p.Col+dc)
		}
		out[i] = mask
	}
	return out
}

// Coverage 返回已访问的空闲格子比例。
func (e *GridEnvironment) Coverage() float64 {
	if e.freeCells == 0 {
		return 0
	}
	return float64(e.visitedCount) / float64(e.freeCells)
}

func (e *GridEnvironment) observation() Observation {
	cells := e.height * e.width
	obs := make(Observation, ObservationSize(e.height, e.width, e.numAgents))
	for idx := 0; idx < cells; idx++ {
		if e.visited != nil && e.visited[idx] {
			obs[idx] = 1
		}
		if e.obstacles.mask[idx] {
			obs[cells+idx] = 1
		}
	}
	for _, p := range e.positions {
		obs[2*cells+p.Row*e.width+p.Col] = 1
	}

	base := 3 * cells
	obs[base] = e.Coverage()
	budget := float64(max(1, e.params.EnergyBudget))
	for i, p := range e.positions {
		off := base + 1 + 3*i
		obs[off] = float64(p.Row) / (float64(e.height-1) + 1e-8)
		obs[off+1] = float64(p.Col) / (float64(e.width-1) + 1e-8)
		obs[off+2] = float64(e.energy[i]) / budget
	}
	return obs
}

func (e *GridEnvironment) info() StepInfo {
	energy := make([]int, len(e.energy))
	copy(energy, e.energy)
	return StepInfo{
		Coverage:      e.Coverage(),
		Steps:         e.steps,
		VisitedCells:  e.visitedCount,
		RemainingFree: e.freeCells - e.visitedCount,
		Energy:        energy,
	}
}

// Observation 返回当前观测的副本。
func (e *GridEnvironment) Observation() Observation { return e.observation() }

// Info 返回当前诊断信息。
func (e *GridEnvironment) Info() StepInfo { return e.info() }

// Status 返回环境的生命周期状态。
func (e *GridEnvironment) Status() Status { return e.status }

// Positions 返回智能体位置的副本。
func (e *GridEnvironment) Positions() []Position {
	out := make([]Position, len(e.positions))
	copy(out, e.positions)
	return out
}

// Energy 返回剩余能量的副本。
func (e *GridEnvironment) Energy() []int {
	out := make([]int, len(e.energy))
	copy(out, e.energy)
	return out
}

// Obstacles 返回障碍物布局。
func (e *GridEnvironment) Obstacles() *ObstacleField { return e.obstacles }

// IsVisited 报告格子是否已被访问，越界返回 false。
func (e *GridEnvironment) IsVisited(row, col int) bool {
	if row < 0 || row >= e.height || col < 0 || col >= e.width || e.visited == nil {
		return false
	}
	return e.visited[row*e.width+col]
}

func (e *GridEnvironment) Scenario() config.Scenario { return e.scenario }
func (e *GridEnvironment) NumAgents() int             { return e.numAgents }
func (e *GridEnvironment) FreeCells() int             { return e.freeCells }
func (e *GridEnvironment) Steps() int                 { return e.steps }

// ObservationSize 返回观测向量的长度。
func (e *GridEnvironment) ObservationSize() int {
	return ObservationSize(e.height, e.width, e.numAgents)
}

// Render 返回地图的文本表示: '#' 障碍物, 'U' 智能体, '.' 已访问, ' ' 未访问。
func (e *GridEnvironment) Render() string {
	var b strings.Builder
	occupied := make(map[Position]bool, len(e.positions))
	for _, p := range e.positions {
		occupied[p] = true
	}
	for r := 0; r < e.height; r++ {
		for c := 0; c < e.width; c++ {
			switch {
			case e.obstacles.IsObstacle(r, c):
				b.WriteByte('#')
			case occupied[Position{r, c}]:
				b.WriteByte('U')
			case e.IsVisited(r, c):
				b.WriteByte('.')
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
