package trainer

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"Swarm-Coverage/checkpoint"
	"Swarm-Coverage/config"
	"Swarm-Coverage/metrics"
)

var (
	progressRE = regexp.MustCompile(`^episode=\d+ coverage_mean=\d+\.\d{3} pa_mean=\d+\.\d{3} steps_mean=\d+\.\d epsilon=\d+\.\d{3}$`)
	terminalRE = regexp.MustCompile(`^coverage_mean=\d+\.\d{3} pa_mean=\d+\.\d{3} steps_mean=\d+\.\d$`)
)

func tinySetup(t *testing.T, agents int) (config.Scenario, config.EnvParams, config.Hyperparameters) {
	t.Helper()
	scenario := config.Scenario{Height: 4, Width: 4, NumAgents: agents, ObstacleType: config.StaticObstacles}
	env := config.DefaultEnvParams()
	env.MaxSteps = 30
	env.EnergyBudget = 40

	h := config.DefaultHyperparameters()
	h.Seed = 11
	h.Episodes = 6
	h.BatchSize = 2
	h.MinBuffer = 2
	h.BufferSize = 4
	h.LogInterval = 3
	h.TargetUpdateInterval = 2
	h.AgentHiddenDim = 8
	h.MixingHiddenDim = 4
	h.HyperHiddenDim = 8
	h.UseAvailableActions = true
	h.CheckpointDir = t.TempDir()
	return scenario, env, h
}

type windowRecorder struct{ windows []Window }

func (r *windowRecorder) OnWindow(w Window) { r.windows = append(r.windows, w) }

func TestRunEndToEnd(t *testing.T) {
	scenario, env, h := tinySetup(t, 2)
	var buf bytes.Buffer
	tr, err := New(scenario, env, h, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("创建训练器失败: %v", err)
	}
	rec := &windowRecorder{}
	tr.SetObserver(rec)

	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("训练失败: %v", err)
	}
	if res.Episodes != 6 || len(res.Windows) != 2 || len(rec.windows) != 2 {
		t.Fatalf("回合 %d, 窗口 %d/%d", res.Episodes, len(res.Windows), len(rec.windows))
	}
	if rec.windows[1].Updates == 0 {
		t.Fatal("缓冲区填满后应该执行更新")
	}

	var progress, terminal []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		switch {
		case progressRE.MatchString(line):
			progress = append(progress, line)
		case terminalRE.MatchString(line):
			terminal = append(terminal, line)
		}
	}
	if len(progress) != 2 || !strings.HasPrefix(progress[0], "episode=3 ") || !strings.HasPrefix(progress[1], "episode=6 ") {
		t.Fatalf("进度日志不符合格式:\n%s", buf.String())
	}
	if len(terminal) != 1 {
		t.Fatalf("应该恰好有一行结束汇总:\n%s", buf.String())
	}

	for _, s := range tr.History() {
		if s.Coverage <= 0 || s.Coverage > 1 || s.Steps < 1 || s.Steps > env.MaxSteps {
			t.Fatalf("回合指标越界: %+v", s)
		}
	}

	if filepath.Dir(res.Checkpoint) != h.CheckpointDir || !strings.HasPrefix(filepath.Base(res.Checkpoint), "qmix_map4_uavs2_obs000_") {
		t.Fatalf("检查点路径 %s", res.Checkpoint)
	}
	ckpt, err := checkpoint.Load(res.Checkpoint)
	if err != nil {
		t.Fatalf("读取检查点失败: %v", err)
	}
	if ckpt.NumAgents != 2 || ckpt.MapHeight != 4 {
		t.Fatalf("检查点元数据 %+v", ckpt)
	}
}

func TestRunIsReproducible(t *testing.T) {
	run := func() []metrics.EpisodeStats {
		scenario, env, h := tinySetup(t, 2)
		h.CheckpointDir = ""
		tr, err := New(scenario, env, h, log.New(&bytes.Buffer{}, "", 0))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tr.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		return tr.History()
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("相同种子第 %d 回合结果不同: %+v vs %+v", i+1, a[i], b[i])
		}
	}
}

func TestWarmStart(t *testing.T) {
	scenario, env, h := tinySetup(t, 2)
	h.Episodes = 3
	src, err := New(scenario, env, h, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	res, err := src.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	h.Seed = 99
	dst, _ := New(scenario, env, h, log.New(&buf, "", 0))
	if !dst.WarmStart(res.Checkpoint) {
		t.Fatalf("兼容的检查点应该加载成功:\n%s", buf.String())
	}
	want, got := src.Params().Tensors(), dst.Params().Tensors()
	for i := range want {
		if want[i].Data[0] != got[i].Data[0] {
			t.Fatalf("%s 未加载", want[i].Name)
		}
	}

	// 智能体数量不同: 整体拒绝并保留随机初始化
	scenario3, env3, h3 := tinySetup(t, 3)
	buf.Reset()
	other, _ := New(scenario3, env3, h3, log.New(&buf, "", 0))
	before := other.Params().Clone().Tensors()
	if other.WarmStart(res.Checkpoint) {
		t.Fatal("智能体数量不同的检查点应被拒绝")
	}
	if !strings.Contains(buf.String(), "不兼容") {
		t.Fatalf("应记录警告, 日志: %s", buf.String())
	}
	for i, tensor := range other.Params().Tensors() {
		for k := range tensor.Data {
			if tensor.Data[k] != before[i].Data[k] {
				t.Fatal("被拒绝的检查点不应修改任何参数")
			}
		}
	}

	buf.Reset()
	if other.WarmStart(filepath.Join(t.TempDir(), "missing.ckpt")) {
		t.Fatal("不存在的文件不应加载")
	}
	if !strings.Contains(buf.String(), "不存在") {
		t.Fatalf("应记录文件不存在, 日志: %s", buf.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	scenario, env, h := tinySetup(t, 2)
	tr, _ := New(scenario, env, h, log.New(&bytes.Buffer{}, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 得到 %v", err)
	}
	if res.Episodes != 0 || res.Checkpoint != "" {
		t.Fatalf("取消后不应运行回合或保存检查点: %+v", res)
	}
	entries, _ := os.ReadDir(h.CheckpointDir)
	if len(entries) != 0 {
		t.Fatal("检查点目录应为空")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	scenario, env, h := tinySetup(t, 2)
	h.BatchSize = 0
	if _, err := New(scenario, env, h, nil); !errors.Is(err, config.ErrInvalidHyper) {
		t.Fatalf("期望 ErrInvalidHyper, 得到 %v", err)
	}
	_, env, h = tinySetup(t, 2)
	scenario.NumAgents = 0
	if _, err := New(scenario, env, h, nil); !errors.Is(err, config.ErrInvalidAgents) {
		t.Fatalf("期望 ErrInvalidAgents, 得到 %v", err)
	}
}

func TestRestoreEpsilonUsesPlateauValue(t *testing.T) {
	scenario, env, h := tinySetup(t, 2)
	h.EpsilonMin = 0.01
	h.EpsilonPlateaus = []config.Plateau{{Start: 5, End: 8, Value: 0.2}}
	h.Recovery.ResetEpsilon = 0.4
	h.Recovery.EpsilonBoost = 0.05
	tr, err := New(scenario, env, h, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatal(err)
	}

	prev, next := tr.restoreEpsilon(6)
	if prev != 0.2 || math.Abs(next-0.25) > 1e-12 {
		t.Fatalf("平台期内回滚: epsilon %.3f -> %.3f, 期望 0.200 -> 0.250", prev, next)
	}

	prev, next = tr.restoreEpsilon(20)
	if math.Abs(prev-0.25) > 1e-12 || math.Abs(next-0.3) > 1e-12 {
		t.Fatalf("平台期外回滚: epsilon %.3f -> %.3f, 期望 0.250 -> 0.300", prev, next)
	}
}
