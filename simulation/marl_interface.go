package simulation

import "fmt"

// Action 代表一个智能体在一个时间步内可以执行的离散动作。
type Action int

const (
	// ActionUp 向上移动一行。
	ActionUp Action = iota
	// ActionDown 向下移动一行。
	ActionDown
	// ActionLeft 向左移动一列。
	ActionLeft
	// ActionRight 向右移动一列。
	ActionRight
)

// NumActions 是每个智能体的动作空间大小。
const NumActions = 4

// Delta 返回动作对应的行列偏移。
func (a Action) Delta() (dRow, dCol int) {
	switch a {
	case ActionUp:
		return -1, 0
	case ActionDown:
		return 1, 0
	case ActionLeft:
		return 0, -1
	case ActionRight:
		return 0, 1
	}
	panic(fmt.Sprintf("simulation: unsupported action %d", int(a)))
}

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionDown:
		return "down"
	case ActionLeft:
		return "left"
	case ActionRight:
		return "right"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Position 是网格中的一个格子坐标。
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Status 是环境的生命周期状态。
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusTerminated
	StatusTruncated
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusTerminated:
		return "terminated"
	case StatusTruncated:
		return "truncated"
	default:
		return "idle"
	}
}

// Observation 是全局观测向量: 三个 H*W 的图层 (已访问、障碍物、智能体占用)，
// 之后是覆盖率，以及每个智能体的归一化行、列和剩余能量。
// 所有智能体看到的是同一个观测，混合网络的全局状态也是它。
type Observation []float64

// ObservationSize 返回给定地图和智能体数量下观测向量的长度。
func ObservationSize(height, width, numAgents int) int {
	return 3*height*width + 1 + 3*numAgents
}

// StepInfo 汇总了一个时间步之后的诊断信息。
type StepInfo struct {
	Coverage      float64 `json:"coverage"`
	Steps         int     `json:"steps"`
	VisitedCells  int     `json:"visited_cells"`
	RemainingFree int     `json:"remaining_free_cells"`
	Collisions    int     `json:"collisions"`
	ObstacleHits  int     `json:"obstacle_hits"`
	// NewCells[i] 表示智能体 i 本步是否访问了一个新格子。
	NewCells []bool `json:"new_cells"`
	Energy   []int  `json:"energy"`
}

// StepResult 封装了所有智能体同时执行一个动作后的完整结果。
type StepResult struct {
	Observation Observation
	Rewards     []float64
	Terminated  bool // 所有空闲格子都已访问
	Truncated   bool // 步数用尽或所有智能体能量耗尽
	Info        StepInfo
}

// Done 表示 episode 是否已经结束。
func (r StepResult) Done() bool {
	return r.Terminated || r.Truncated
}
