package simulation

// maxObstacleClearance 限制障碍物距离项的上限。
const maxObstacleClearance = 5

var neighbourDeltas = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// potential 计算 Φ(p) = -d_unvisited + w_obs * min(d_obstacle, 5)。
// 不可达的距离项直接省略，而不是当作无穷大。
func (e *GridEnvironment) potential(p Position) float64 {
	phi := 0.0
	if d, ok := e.nearestUnvisited(p); ok {
		phi -= float64(d)
	}
	if d, ok := e.nearestObstacle(p); ok {
		phi += e.obstacleWeight * float64(min(d, maxObstacleClearance))
	}
	return phi
}

// nearestUnvisited 在非障碍物格子上做 4 邻接广度优先搜索，返回到最近未访问格子的距离。
func (e *GridEnvironment) nearestUnvisited(start Position) (int, bool) {
	if !e.visited[start.Row*e.width+start.Col] {
		return 0, true
	}
	return e.bfs(start, func(r, c int) (hit, pass bool) {
		if e.obstacles.IsObstacle(r, c) {
			return false, false
		}
		return !e.visited[r*e.width+c], true
	})
}

// nearestObstacle 返回到最近 (界内) 障碍物的距离，搜索只穿过空闲格子。
func (e *GridEnvironment) nearestObstacle(start Position) (int, bool) {
	if e.obstacles.IsObstacle(start.Row, start.Col) {
		return 0, true
	}
	return e.bfs(start, func(r, c int) (hit, pass bool) {
		if e.obstacles.IsObstacle(r, c) {
			return true, false
		}
		return false, true
	})
}

// bfs 从 start 出发逐层扩展，每次查询都重新搜索，不做缓存。
// TODO: 大地图上可以改为增量维护的距离场。
func (e *GridEnvironment) bfs(start Position, probe func(r, c int) (hit, pass bool)) (int, bool) {
	seen := make([]bool, e.height*e.width)
	seen[start.Row*e.width+start.Col] = true
	frontier := []Position{start}
	for dist := 1; len(frontier) > 0; dist++ {
		var next []Position
		for _, p := range frontier {
			for _, d := range neighbourDeltas {
				r, c := p.Row+d[0], p.Col+d[1]
				if r < 0 || r >= e.height || c < 0 || c >= e.width {
					continue
				}
				idx := r*e.width + c
				if seen[idx] {
					continue
				}
				hit, pass := probe(r, c)
				if hit {
					return dist, true
				}
				seen[idx] = true
				if pass {
					next = append(next, Position{r, c})
				}
			}
		}
		frontier = next
	}
	return 0, false
}
