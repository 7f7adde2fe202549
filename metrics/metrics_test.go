package metrics

import (
	"math"
	"testing"
)

func TestWorkloadBalance(t *testing.T) {
	tests := []struct {
		name string
		work []float64
		want float64
	}{
		{"没有智能体", nil, 0},
		{"全部为零", []float64{0, 0, 0}, 1},
		{"完全均衡", []float64{4, 4}, 1},
		{"不均衡", []float64{0, 2}, 0.5}, // mean=1, std=1
	}
	for _, tt := range tests {
		if got := WorkloadBalance(tt.work); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: 得到 %.4f, 期望 %.4f", tt.name, got, tt.want)
		}
	}
}

func TestEpisodeAccumulator(t *testing.T) {
	acc := NewAccumulator(2, []int{10, 10})
	acc.Add([]float64{1, 2}, []bool{true, false}, 0, 1)
	acc.Add([]float64{-1, 0.5}, []bool{true, true}, 2, 0)

	s := acc.Finish(7, 1.0, true, []int{8, 8})
	if s.Episode != 7 || s.Steps != 2 {
		t.Fatalf("回合 %d 步数 %d", s.Episode, s.Steps)
	}
	if math.Abs(s.PA-0.75) > 1e-12 {
		t.Errorf("pa=%.3f, 期望 0.75", s.PA)
	}
	if s.Energy != 4 || s.Collisions != 2 || s.ObstacleHits != 1 {
		t.Errorf("能量 %d 碰撞 %d 撞障碍 %d", s.Energy, s.Collisions, s.ObstacleHits)
	}
	if math.Abs(s.Reward-2.5) > 1e-12 {
		t.Errorf("团队奖励 %.3f", s.Reward)
	}
	if !s.Success {
		t.Error("完全覆盖的回合应判定为成功")
	}
	// 新格子数 2 和 1: mean=1.5, std=0.5
	if want := 1 / (1 + 0.5/1.5); math.Abs(s.Balance-want) > 1e-12 {
		t.Errorf("负载均衡 %.4f, 期望 %.4f", s.Balance, want)
	}

	if s := NewAccumulator(1, []int{5}).Finish(1, 0.5, true, []int{5}); s.Success || s.PA != 0 {
		t.Error("覆盖率不足时不算成功，没有动作时 pa 为 0")
	}
}

func TestAggregateStats(t *testing.T) {
	agg := AggregateStats([]EpisodeStats{
		{Steps: 10, Coverage: 0.5, PA: 0.2, Success: false},
		{Steps: 20, Coverage: 1.0, PA: 0.4, Success: true},
	})
	cov := agg[MetricCoverage]
	if cov.Mean != 0.75 || cov.Min != 0.5 || cov.Max != 1.0 || math.Abs(cov.Std-0.25) > 1e-12 {
		t.Fatalf("覆盖率汇总错误: %+v", cov)
	}
	if agg.Mean(MetricSteps) != 15 || agg.Mean(MetricSuccess) != 0.5 {
		t.Fatalf("steps=%.1f success=%.2f", agg.Mean(MetricSteps), agg.Mean(MetricSuccess))
	}
	if len(agg.Metrics()) != 9 || agg.Metrics()[0] != MetricCollisions {
		t.Fatalf("指标列表 %v", agg.Metrics())
	}
	if !math.IsNaN(Aggregate{}.Mean(MetricCoverage)) {
		t.Fatal("缺失的指标应返回 NaN")
	}
}

func TestLogLineFormats(t *testing.T) {
	agg := AggregateStats([]EpisodeStats{{Steps: 12, Coverage: 0.8124, PA: 0.25}})
	if got, want := ProgressLine(40, agg, 0.123456), "episode=40 coverage_mean=0.812 pa_mean=0.250 steps_mean=12.0 epsilon=0.123"; got != want {
		t.Fatalf("得到 %q, 期望 %q", got, want)
	}
	if got, want := TerminalLine(agg), "coverage_mean=0.812 pa_mean=0.250 steps_mean=12.0"; got != want {
		t.Fatalf("得到 %q, 期望 %q", got, want)
	}
}
