package simulation

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"Swarm-Coverage/config"
)

// newFixedEnv 构造一个关闭势能塑形的环境，并把智能体放在指定位置上。
func newFixedEnv(t *testing.T, height, width int, positions []Position, mutate func(*config.EnvParams)) *GridEnvironment {
	t.Helper()
	params := config.DefaultEnvParams()
	params.EnablePotentialReward = false
	if mutate != nil {
		mutate(&params)
	}
	scenario := config.Scenario{Height: height, Width: width, NumAgents: len(positions)}
	e, err := NewGridEnvironment(scenario, params, 1)
	if err != nil {
		t.Fatalf("创建环境失败: %v", err)
	}
	e.Reset()
	e.visited = make([]bool, height*width)
	e.visitedCount = 0
	e.positions = append([]Position(nil), positions...)
	for i, p := range e.positions {
		e.markVisited(p)
		e.potentials[i] = e.potential(p)
	}
	return e
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewGridEnvironmentRejectsInvalidConfig(t *testing.T) {
	params := config.DefaultEnvParams()

	if _, err := NewGridEnvironment(config.Scenario{Height: 0, Width: 4, NumAgents: 1}, params, 1); !errors.Is(err, config.ErrInvalidMapSize) {
		t.Errorf("期望 ErrInvalidMapSize, 得到 %v", err)
	}
	if _, err := NewGridEnvironment(config.Scenario{Height: 1, Width: 2, NumAgents: 3}, params, 1); !errors.Is(err, ErrInsufficientFreeCells) {
		t.Errorf("期望 ErrInsufficientFreeCells, 得到 %v", err)
	}
	if _, err := NewGridEnvironment(config.Scenario{Height: 3, Width: 3, NumAgents: 1, ObstacleType: "moving"}, params, 1); !errors.Is(err, config.ErrInvalidObstacleType) {
		t.Errorf("期望 ErrInvalidObstacleType, 得到 %v", err)
	}
}

func TestStepPanicsOnWrongActionCount(t *testing.T) {
	e := newFixedEnv(t, 3, 3, []Position{{0, 0}, {2, 2}}, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("动作数量错误时应当 panic")
		}
	}()
	e.Step([]Action{ActionUp})
}

func TestResetWithSameSeedIsReproducible(t *testing.T) {
	scenario := config.Scenario{Height: 12, Width: 12, NumAgents: 4, ObstacleDensity: 0.15}
	a, err := NewGridEnvironment(scenario, config.DefaultEnvParams(), 99)
	if err != nil {
		t.Fatalf("创建环境失败: %v", err)
	}
	b, err := NewGridEnvironment(scenario, config.DefaultEnvParams(), 99)
	if err != nil {
		t.Fatalf("创建环境失败: %v", err)
	}

	obsA := a.ResetWithSeed(7)
	obsB := b.ResetWithSeed(7)
	if len(obsA) != len(obsB) {
		t.Fatalf("观测长度不一致: %d vs %d", len(obsA), len(obsB))
	}
	for i := range obsA {
		if obsA[i] != obsB[i] {
			t.Fatalf("相同种子的观测在下标 %d 处不同", i)
		}
	}

	first := a.Positions()
	a.Step([]Action{ActionUp, ActionDown, ActionLeft, ActionRight})
	a.ResetWithSeed(7)
	for i, p := range a.Positions() {
		if p != first[i] {
			t.Fatalf("同一环境重复 ResetWithSeed 得到不同起点: %v vs %v", p, first[i])
		}
	}
	maskA, maskB := a.Obstacles().Mask(), b.Obstacles().Mask()
	for i := range maskA {
		if maskA[i] != maskB[i] {
			t.Fatalf("相同种子的障碍物布局不同 (下标 %d)", i)
		}
	}
}

func TestRandomRolloutInvariants(t *testing.T) {
	scenario := config.Scenario{Height: 10, Width: 10, NumAgents: 4, ObstacleDensity: 0.2}
	params := config.DefaultEnvParams()
	params.MaxSteps = 150
	e, err := NewGridEnvironment(scenario, params, 3)
	if err != nil {
		t.Fatalf("创建环境失败: %v", err)
	}
	rng := rand.New(rand.NewPCG(5, 6))
	cells := scenario.Height * scenario.Width

	for episode := 0; episode < 5; episode++ {
		e.Reset()
		prevCoverage := e.Coverage()
		prevEnergy := e.Energy()
		for {
			actions := make([]Action, scenario.NumAgents)
			for i := range actions {
				actions[i] = Action(rng.IntN(NumActions))
			}
			res := e.Step(actions)

			if e.visitedCount+e.obstacles.Count() > cells {
				t.Fatalf("已访问 %d + 障碍物 %d 超过格子总数 %d", e.visitedCount, e.obstacles.Count(), cells)
			}
			for i, p := range e.Positions() {
				if e.obstacles.IsObstacle(p.Row, p.Col) {
					t.Fatalf("智能体 %d 位于障碍物 %v 上", i, p)
				}
			}
			if res.Info.Coverage < prevCoverage {
				t.Fatalf("覆盖率下降: %.4f -> %.4f", prevCoverage, res.Info.Coverage)
			}
			prevCoverage = res.Info.Coverage
			for i, en := range res.Info.Energy {
				if en > prevEnergy[i] || en < 0 {
					t.Fatalf("智能体 %d 能量异常: %d -> %d", i, prevEnergy[i], en)
				}
			}
			prevEnergy = res.Info.Energy

			if res.Terminated && res.Truncated {
				t.Fatal("terminated 与 truncated 不能同时为真")
			}
			if res.Terminated != (e.visitedCount == e.freeCells) {
				t.Fatalf("terminated=%v 但已访问 %d / 空闲 %d", res.Terminated, e.visitedCount, e.freeCells)
			}
			wantTruncated := !res.Terminated && (e.steps >= params.MaxSteps || e.allDepleted())
			if res.Truncated != wantTruncated {
				t.Fatalf("truncated=%v, 期望 %v", res.Truncated, wantTruncated)
			}
			if res.Done() {
				break
			}
		}
	}
}

func TestPerfectSweepCoversOpenGrid(t *testing.T) {
	scenario := config.Scenario{Height: 12, Width: 12, NumAgents: 4}
	for seed := uint64(0); seed < 10; seed++ {
		e, err := NewGridEnvironment(scenario, config.DefaultEnvParams(), seed)
		if err != nil {
			t.Fatalf("种子 %d: 创建环境失败: %v", seed, err)
		}
		e.Reset()
	}

	// 每个智能体负责一条 3 行宽的带，以蛇形路线扫过
	starts := []Position{{0, 0}, {3, 0}, {6, 0}, {9, 0}}
	e := newFixedEnv(t, 12, 12, starts, nil)
	var route []Action
	for band := 0; band < 3; band++ {
		dir := ActionRight
		if band%2 == 1 {
			dir = ActionLeft
		}
		for i := 0; i < 11; i++ {
			route = append(route, dir)
		}
		if band < 2 {
			route = append(route, ActionDown)
		}
	}

	moves := 0
	var res StepResult
	for _, a := range route {
		res = e.Step([]Action{a, a, a, a})
		for i, fresh := range res.Info.NewCells {
			if !fresh {
				t.Fatalf("第 %d 步智能体 %d 没有访问新格子", e.steps, i)
			}
			moves++
		}
	}
	if !res.Terminated {
		t.Fatalf("扫描结束后应当完全覆盖, 覆盖率 %.3f", res.Info.Coverage)
	}
	if moves > 144 {
		t.Fatalf("使用了 %d 次移动, 超过 144", moves)
	}
	if res.Info.Coverage != 1 {
		t.Fatalf("覆盖率应为 1, 得到 %.3f", res.Info.Coverage)
	}
}

func TestDenseGridResetPlacesAgentsOnFreeCells(t *testing.T) {
	scenario := config.Scenario{Height: 24, Width: 24, NumAgents: 4, ObstacleDensity: 0.20}
	for seed := uint64(0); seed < 20; seed++ {
		e, err := NewGridEnvironment(scenario, config.DefaultEnvParams(), seed)
		if err != nil {
			t.Fatalf("种子 %d: %v", seed, err)
		}
		e.ResetWithSeed(seed + 100)
		seen := make(map[Position]bool)
		for _, p := range e.Positions() {
			if e.obstacles.IsObstacle(p.Row, p.Col) {
				t.Fatalf("种子 %d: 起点 %v 是障碍物", seed, p)
			}
			if seen[p] {
				t.Fatalf("种子 %d: 起点 %v 重复", seed, p)
			}
			seen[p] = true
		}
	}
}

func TestCollisionKeepsAgentsInPlace(t *testing.T) {
	e := newFixedEnv(t, 1, 3, []Position{{0, 0}, {0, 2}}, func(p *config.EnvParams) {
		p.NoProgressPatience = 100
	})
	res := e.Step([]Action{ActionRight, ActionLeft})

	if res.Info.Collisions != 2 {
		t.Errorf("期望 2 次碰撞, 得到 %d", res.Info.Collisions)
	}
	for i, want := range []Position{{0, 0}, {0, 2}} {
		if e.positions[i] != want {
			t.Errorf("智能体 %d 应当留在 %v, 实际 %v", i, want, e.positions[i])
		}
		if !almostEqual(res.Rewards[i], e.params.RewardCollision) {
			t.Errorf("智能体 %d 奖励 %.3f, 期望 %.3f", i, res.Rewards[i], e.params.RewardCollision)
		}
		if res.Info.Energy[i] != e.params.EnergyBudget-1 {
			t.Errorf("碰撞仍应消耗能量, 智能体 %d 剩余 %d", i, res.Info.Energy[i])
		}
	}
}

func TestMoveIntoBlockedAgentCollides(t *testing.T) {
	// 智能体 0 撞墙留在 (0,0)，智能体 1 试图进入 (0,0)
	e := newFixedEnv(t, 1, 3, []Position{{0, 0}, {0, 1}}, func(p *config.EnvParams) {
		p.NoProgressPatience = 100
	})
	res := e.Step([]Action{ActionLeft, ActionLeft})

	if e.positions[0] != (Position{0, 0}) || e.positions[1] != (Position{0, 1}) {
		t.Fatalf("两个智能体都应留在原地, 位置 %v", e.positions)
	}
	if res.Info.ObstacleHits != 1 || res.Info.Collisions != 1 {
		t.Errorf("期望 1 次撞障碍和 1 次碰撞, 得到 %d 和 %d", res.Info.ObstacleHits, res.Info.Collisions)
	}
	if !almostEqual(res.Rewards[1], e.params.RewardCollision) {
		t.Errorf("进入方应受碰撞惩罚, 奖励 %.3f", res.Rewards[1])
	}
}

func TestCollidedAgentStillBlocksItsCell(t *testing.T) {
	// 智能体 1、2 争夺 (0,2) 都留在原地，智能体 0 想进入智能体 1 的格子
	e := newFixedEnv(t, 1, 4, []Position{{0, 0}, {0, 1}, {0, 3}}, func(p *config.EnvParams) {
		p.NoProgressPatience = 100
	})
	res := e.Step([]Action{ActionRight, ActionRight, ActionLeft})

	if res.Info.Collisions != 3 {
		t.Errorf("期望 3 次碰撞, 得到 %d", res.Info.Collisions)
	}
	seen := map[Position]bool{}
	for i, p := range e.positions {
		if seen[p] {
			t.Fatalf("智能体 %d 与其他智能体重叠在 %v", i, p)
		}
		seen[p] = true
	}
	if e.positions[0] != (Position{0, 0}) {
		t.Errorf("智能体 0 应留在原地, 位置 %v", e.positions[0])
	}
}

func TestSwapIsAllowed(t *testing.T) {
	e := newFixedEnv(t, 1, 2, []Position{{0, 0}, {0, 1}}, nil)
	res := e.Step([]Action{ActionRight, ActionLeft})
	if res.Info.Collisions != 0 || e.positions[0] != (Position{0, 1}) || e.positions[1] != (Position{0, 0}) {
		t.Errorf("交换位置不算碰撞: 碰撞 %d, 位置 %v", res.Info.Collisions, e.positions)
	}
}

func TestZeroEnergyAgentIsFrozen(t *testing.T) {
	e := newFixedEnv(t, 1, 4, []Position{{0, 0}, {0, 3}}, nil)
	e.energy[1] = 0
	res := e.Step([]Action{ActionRight, ActionLeft})

	if e.positions[1] != (Position{0, 3}) {
		t.Errorf("能量耗尽的智能体不应移动, 位置 %v", e.positions[1])
	}
	if res.Rewards[1] != 0 {
		t.Errorf("能量耗尽的智能体不应获得奖励, 得到 %.3f", res.Rewards[1])
	}
	if res.Info.Energy[1] != 0 {
		t.Errorf("能量不应低于 0, 得到 %d", res.Info.Energy[1])
	}
}

func TestNoProgressPenaltyBranches(t *testing.T) {
	t.Run("无效移动给全额惩罚", func(t *testing.T) {
		e := newFixedEnv(t, 3, 3, []Position{{0, 0}}, func(p *config.EnvParams) { p.NoProgressPatience = 2 })
		p := e.params

		r1 := e.Step([]Action{ActionUp}).Rewards[0]
		r2 := e.Step([]Action{ActionUp}).Rewards[0]
		r3 := e.Step([]Action{ActionLeft}).Rewards[0]
		if !almostEqual(r1, p.RewardObstacle) {
			t.Errorf("第 1 步未到耐心阈值, 奖励 %.3f", r1)
		}
		if !almostEqual(r2, p.RewardObstacle+p.RewardNoProgress) {
			t.Errorf("第 2 步应叠加全额无进展惩罚, 奖励 %.3f", r2)
		}
		if !almostEqual(r3, p.RewardObstacle) {
			t.Errorf("惩罚触发后计数器应清零, 第 3 步奖励 %.3f", r3)
		}
	})

	t.Run("碰撞给全额惩罚", func(t *testing.T) {
		e := newFixedEnv(t, 1, 3, []Position{{0, 0}, {0, 2}}, func(p *config.EnvParams) { p.NoProgressPatience = 1 })
		p := e.params
		res := e.Step([]Action{ActionRight, ActionLeft})
		for i, r := range res.Rewards {
			if !almostEqual(r, p.RewardCollision+p.RewardNoProgress) {
				t.Errorf("智能体 %d 奖励 %.3f", i, r)
			}
		}
	})

	t.Run("零值障碍惩罚仍给全额", func(t *testing.T) {
		e := newFixedEnv(t, 3, 3, []Position{{0, 0}}, func(p *config.EnvParams) {
			p.NoProgressPatience = 1
			p.RewardObstacle = 0
		})
		r := e.Step([]Action{ActionUp}).Rewards[0]
		if !almostEqual(r, e.params.RewardNoProgress) {
			t.Errorf("奖励 %.3f, 期望 %.3f", r, e.params.RewardNoProgress)
		}
	})

	t.Run("零值碰撞惩罚仍给全额", func(t *testing.T) {
		e := newFixedEnv(t, 1, 3, []Position{{0, 0}, {0, 2}}, func(p *config.EnvParams) {
			p.NoProgressPatience = 1
			p.RewardCollision = 0
		})
		for i, r := range e.Step([]Action{ActionRight, ActionLeft}).Rewards {
			if !almostEqual(r, e.params.RewardNoProgress) {
				t.Errorf("智能体 %d 奖励 %.3f, 期望 %.3f", i, r, e.params.RewardNoProgress)
			}
		}
	})

	t.Run("重复访问给全额惩罚", func(t *testing.T) {
		e := newFixedEnv(t, 1, 4, []Position{{0, 1}}, func(p *config.EnvParams) { p.NoProgressPatience = 1 })
		p := e.params
		e.Step([]Action{ActionLeft})
		r := e.Step([]Action{ActionRight}).Rewards[0]
		if !almostEqual(r, p.RewardVisitedCell+p.RewardNoProgress) {
			t.Errorf("重复访问奖励 %.3f, 期望 %.3f", r, p.RewardVisitedCell+p.RewardNoProgress)
		}
	})

	t.Run("无其他惩罚的重复访问给一半", func(t *testing.T) {
		e := newFixedEnv(t, 1, 4, []Position{{0, 1}}, func(p *config.EnvParams) {
			p.NoProgressPatience = 1
			p.RewardVisitedCell = 0
		})
		p := e.params
		e.Step([]Action{ActionLeft})
		r := e.Step([]Action{ActionRight}).Rewards[0]
		if !almostEqual(r, 0.5*p.RewardNoProgress) {
			t.Errorf("奖励 %.3f, 期望 %.3f", r, 0.5*p.RewardNoProgress)
		}
	})

	t.Run("新格子清零计数器", func(t *testing.T) {
		e := newFixedEnv(t, 1, 4, []Position{{0, 1}}, func(p *config.EnvParams) { p.NoProgressPatience = 2 })
		p := e.params
		// 路线: (0,0) 新格子, (0,1) 重复, (0,2) 新格子, (0,1) 重复
		e.Step([]Action{ActionLeft})
		r1 := e.Step([]Action{ActionRight}).Rewards[0]
		e.Step([]Action{ActionRight})
		r2 := e.Step([]Action{ActionLeft}).Rewards[0]
		if !almostEqual(r1, p.RewardVisitedCell) || !almostEqual(r2, p.RewardVisitedCell) {
			t.Errorf("计数器没有在取得进展时清零: r1=%.3f r2=%.3f", r1, r2)
		}
		if e.noProgress[0] != 1 {
			t.Errorf("计数器应为 1, 得到 %d", e.noProgress[0])
		}
	})
}

func TestNewCellRewardGrowsAsCoverageCompletes(t *testing.T) {
	e := newFixedEnv(t, 1, 4, []Position{{0, 0}}, func(p *config.EnvParams) { p.RewardComplete = 0 })
	base := e.params.RewardNewCellBase

	r1 := e.Step([]Action{ActionRight}).Rewards[0]
	r2 := e.Step([]Action{ActionRight}).Rewards[0]
	if !almostEqual(r1, base*(1+4.0/3)) {
		t.Errorf("第一次新格子奖励 %.3f", r1)
	}
	if !almostEqual(r2, base*(1+4.0/2)) {
		t.Errorf("第二次新格子奖励 %.3f", r2)
	}
	res := e.Step([]Action{ActionRight})
	if !res.Terminated || res.Truncated {
		t.Fatalf("最后一个格子后应当 terminated, 得到 %+v", res)
	}
	if e.Status() != StatusTerminated {
		t.Errorf("状态应为 terminated, 得到 %s", e.Status())
	}
}

func TestTerminalBonusSplitAcrossAgents(t *testing.T) {
	e := newFixedEnv(t, 1, 3, []Position{{0, 0}, {0, 2}}, nil)
	e.params.RewardNewCellBase = 0
	res := e.Step([]Action{ActionRight, ActionUp})
	if !res.Terminated {
		t.Fatal("应当完成覆盖")
	}
	want := e.params.RewardComplete/2 + e.params.RewardObstacle
	if !almostEqual(res.Rewards[1], want) {
		t.Errorf("智能体 1 奖励 %.3f, 期望 %.3f", res.Rewards[1], want)
	}
}

func TestTruncatedOnStepBudget(t *testing.T) {
	e := newFixedEnv(t, 3, 3, []Position{{0, 0}}, func(p *config.EnvParams) { p.MaxSteps = 2 })
	if res := e.Step([]Action{ActionUp}); res.Done() {
		t.Fatal("第一步不应结束")
	}
	res := e.Step([]Action{ActionUp})
	if !res.Truncated || res.Terminated {
		t.Fatalf("步数用尽应当 truncated, 得到 %+v", res)
	}
}

func TestObservationLayout(t *testing.T) {
	e := newFixedEnv(t, 2, 3, []Position{{1, 2}}, nil)
	obs := e.Observation()
	if len(obs) != ObservationSize(2, 3, 1) {
		t.Fatalf("观测长度 %d", len(obs))
	}
	cells := 6
	if obs[1*3+2] != 1 || obs[2*cells+1*3+2] != 1 {
		t.Error("起点应同时出现在已访问层和智能体层")
	}
	base := 3 * cells
	if !almostEqual(obs[base], 1.0/6) {
		t.Errorf("覆盖率 %.4f", obs[base])
	}
	if math.Abs(obs[base+1]-1) > 1e-6 || math.Abs(obs[base+2]-1) > 1e-6 || obs[base+3] != 1 {
		t.Errorf("归一化坐标或能量错误: %v", obs[base+1:])
	}
}

func TestAvailableActions(t *testing.T) {
	e := newFixedEnv(t, 2, 2, []Position{{0, 0}}, nil)
	mask := e.AvailableActions()[0]
	want := []bool{false, true, false, true}
	for a, ok := range want {
		if mask[a] != ok {
			t.Errorf("动作 %s 可用=%v, 期望 %v", Action(a), mask[a], ok)
		}
	}
}

func TestRender(t *testing.T) {
	e := newFixedEnv(t, 2, 3, []Position{{0, 0}, {1, 2}}, nil)
	e.Step([]Action{ActionRight, ActionLeft})
	e.obstacles.mask[2] = true

	want := ".U#\n U.\n"
	if got := e.Render(); got != want {
		t.Fatalf("渲染结果\n%q\n期望\n%q", got, want)
	}
}

// shapedRow 按一行字符串布置地图: '#' 障碍物, '.' 已访问, ' ' 未访问，并开启势能塑形。
func shapedRow(t *testing.T, row string, agentCol int) *GridEnvironment {
	t.Helper()
	e := newFixedEnv(t, 1, len(row), []Position{{0, agentCol}}, func(p *config.EnvParams) {
		p.EnablePotentialReward = true
		p.NoProgressPatience = 100
	})
	e.visited = make([]bool, len(row))
	e.visitedCount = 0
	e.obstacles.count = 0
	for c, ch := range row {
		e.obstacles.mask[c] = ch == '#'
		if ch == '#' {
			e.obstacles.count++
		}
		if ch == '.' {
			e.markVisited(Position{0, c})
		}
	}
	e.freeCells = len(row) - e.obstacles.count
	e.potentials[0] = e.potential(e.positions[0])
	return e
}

func TestPotential(t *testing.T) {
	cases := []struct {
		name      string
		row       string
		col       int
		unvisited float64 // 到最近未访问格子的距离项 (已取负)
		clearance float64 // 乘以障碍物权重之前的距离项
	}{
		{"贴着障碍物", "#...... ", 1, -6, 1},
		{"障碍物距离截断到 5", "#...... ", 6, -1, 5},
		{"自身未访问", "#...... ", 7, 0, 5},
		{"未访问格子不可达时省略", "..#  ", 0, 0, 2},
		{"没有障碍物时省略", "..  ", 0, -2, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := shapedRow(t, c.row, c.col)
			want := c.unvisited + e.obstacleWeight*c.clearance
			if got := e.potential(Position{0, c.col}); !almostEqual(got, want) {
				t.Errorf("Φ = %.3f, 期望 %.3f", got, want)
			}
		})
	}
}

func TestShapingRewardUsesPotentialDifference(t *testing.T) {
	e := shapedRow(t, "...  ", 2)
	p := e.params
	if e.shapingWeight != p.ShapingWeight {
		t.Fatalf("塑形权重 %.2f, 期望 %.2f", e.shapingWeight, p.ShapingWeight)
	}

	// Φ(0,2) = -1, Φ(0,1) = -2
	r1 := e.Step([]Action{ActionLeft}).Rewards[0]
	if want := p.RewardVisitedCell + p.ShapingWeight*(-2-(-1)); !almostEqual(r1, want) {
		t.Errorf("远离未访问区域: 奖励 %.3f, 期望 %.3f", r1, want)
	}
	if !almostEqual(e.potentials[0], -2) {
		t.Errorf("势能应更新为 -2, 得到 %.3f", e.potentials[0])
	}

	r2 := e.Step([]Action{ActionRight}).Rewards[0]
	if want := p.RewardVisitedCell + p.ShapingWeight*(-1-(-2)); !almostEqual(r2, want) {
		t.Errorf("靠近未访问区域: 奖励 %.3f, 期望 %.3f", r2, want)
	}
}
