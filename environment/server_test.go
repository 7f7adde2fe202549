package environment

import (
	"bytes"
	"context"
	"log"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"Swarm-Coverage/api"
	"Swarm-Coverage/config"
	"Swarm-Coverage/simulation"
)

func startServer(t *testing.T) *api.Client {
	t.Helper()
	params := config.DefaultEnvParams()
	params.MaxSteps = 5
	srv, err := NewServer(Config{
		Scenario: config.Scenario{Height: 5, Width: 5, NumAgents: 2, ObstacleDensity: 0.1},
		Params:   params,
		Seed:     3,
	}, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("创建服务器失败: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("服务退出错误: %v", err)
		}
	})
	return api.NewClient(conn)
}

func TestResetAndStepOverGRPC(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	seed := uint64(17)
	first, err := client.Reset(ctx, &seed)
	if err != nil {
		t.Fatalf("Reset 失败: %v", err)
	}
	if len(first.Observation) != simulation.ObservationSize(5, 5, 2) {
		t.Fatalf("观测长度 %d", len(first.Observation))
	}
	if len(first.AvailableActions) != 2 || first.Info.VisitedCells != 2 {
		t.Fatalf("初始状态错误: %+v", first.Info)
	}

	again, _ := client.Reset(ctx, &seed)
	for i := range first.Observation {
		if first.Observation[i] != again.Observation[i] {
			t.Fatal("相同种子的 Reset 应得到相同的起始观测")
		}
	}

	var last api.StepResponse
	for step := 0; step < 5; step++ {
		last, err = client.Step(ctx, []simulation.Action{simulation.ActionRight, simulation.ActionDown})
		if err != nil {
			t.Fatalf("第 %d 步失败: %v", step+1, err)
		}
		if len(last.Rewards) != 2 || len(last.Info.Energy) != 2 {
			t.Fatalf("响应不完整: %+v", last)
		}
		if last.Done() {
			break
		}
	}
	if !last.Done() {
		t.Fatal("达到最大步数后回合应结束")
	}

	_, err = client.Step(ctx, []simulation.Action{simulation.ActionUp, simulation.ActionUp})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("回合结束后 Step 应返回 FailedPrecondition, 得到 %v", err)
	}
}

func TestStepValidatesActions(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	if _, err := client.Step(ctx, []simulation.Action{simulation.ActionUp, simulation.ActionUp}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("未 Reset 时应返回 FailedPrecondition, 得到 %v", err)
	}
	if _, err := client.Reset(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Step(ctx, []simulation.Action{simulation.ActionUp}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("动作数量错误应返回 InvalidArgument, 得到 %v", err)
	}
	if _, err := client.Step(ctx, []simulation.Action{simulation.ActionUp, simulation.Action(9)}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("非法动作应返回 InvalidArgument, 得到 %v", err)
	}
	// 非法请求不应推进环境
	resp, err := client.Step(ctx, []simulation.Action{simulation.ActionUp, simulation.ActionLeft})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Info.Steps != 1 {
		t.Fatalf("步数 %d, 期望 1", resp.Info.Steps)
	}
}

func TestNewServerRejectsInvalidScenario(t *testing.T) {
	_, err := NewServer(Config{Scenario: config.Scenario{Height: 0, Width: 5, NumAgents: 1}, Params: config.DefaultEnvParams()}, nil)
	if err == nil {
		t.Fatal("非法地图应返回错误")
	}
}
