// C:/workspace/go/Swarm-Coverage-Go/environment/server.go
package environment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"Swarm-Coverage/api"
	"Swarm-Coverage/simulation"
)

// Server 结构体实现了 gRPC 服务，并持有一个网格环境。
// 所有请求由互斥锁串行化。
type Server struct {
	api.UnimplementedCoverageEnvironmentServer

	config Config
	logger *log.Logger

	mu       sync.Mutex
	env      *simulation.GridEnvironment
	episodes int
}

// NewServer 创建一个新的环境服务器，配置非法时返回错误。
func NewServer(cfg Config, logger *log.Logger) (*Server, error) {
	env, err := simulation.NewGridEnvironment(cfg.Scenario, cfg.Params, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{config: cfg, logger: logger, env: env}, nil
}

// Reset 实现了 gRPC 的 Reset 方法
func (s *Server) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ResetRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var obs simulation.Observation
	if req.Seed != nil {
		obs = s.env.ResetWithSeed(*req.Seed)
	} else {
		obs = s.env.Reset()
	}
	s.episodes++
	s.logger.Printf("🔄 [Episode %d] 环境已重置，%d 个智能体，%d 个空闲格子", s.episodes, s.env.NumAgents(), s.env.FreeCells())

	return toStruct(api.ResetResponse{
		Observation:      obs,
		AvailableActions: s.env.AvailableActions(),
		Info:             s.env.Info(),
	})
}

// Step 实现了 gRPC 的 Step 方法
func (s *Server) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.StepRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. 检查环境状态和动作，避免触发环境内部的 panic
	if st := s.env.Status(); st != simulation.StatusRunning {
		return nil, status.Errorf(codes.FailedPrecondition, "environment is %s, call Reset first", st)
	}
	if len(req.Actions) != s.env.NumAgents() {
		return nil, status.Errorf(codes.InvalidArgument, "expected %d actions, received %d", s.env.NumAgents(), len(req.Actions))
	}
	actions := make([]simulation.Action, len(req.Actions))
	for i, a := range req.Actions {
		if a < 0 || a >= simulation.NumActions {
			return nil, status.Errorf(codes.InvalidArgument, "agent %d: action %d out of range", i, a)
		}
		actions[i] = simulation.Action(a)
	}

	// 2. 推进环境
	res := s.env.Step(actions)
	if res.Done() {
		s.logger.Printf("🏁 [Episode %d] 结束: 覆盖率 %.3f, 步数 %d, %s\n%s", s.episodes, res.Info.Coverage, res.Info.Steps, s.env.Status(), s.env.Render())
	}

	return toStruct(api.StepResponse{
		Observation:      res.Observation,
		Rewards:          res.Rewards,
		Terminated:       res.Terminated,
		Truncated:        res.Truncated,
		AvailableActions: s.env.AvailableActions(),
		Info:             res.Info,
	})
}

func toStruct(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Serve 在 lis 上提供服务，ctx 取消后优雅停止。
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	api.RegisterCoverageEnvironmentServer(gs, s)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		gs.GracefulStop()
	}()

	sc := s.config.Scenario
	s.logger.Printf("📡 覆盖环境服务已在 %s 上启动 (地图 %dx%d, %d 个智能体, 障碍物密度 %.2f)",
		lis.Addr(), sc.Height, sc.Width, sc.NumAgents, sc.ObstacleDensity)
	err := gs.Serve(lis)
	if parent.Err() != nil {
		<-stopped
		return nil
	}
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve coverage environment: %w", err)
	}
	return nil
}
