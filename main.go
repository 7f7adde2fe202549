// C:/workspace/go/Swarm-Coverage-Go/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Swarm-Coverage/config"
)

// 所有子命令共享的场景与运行参数
var (
	scenario  = config.Scenario{Height: 12, Width: 12, NumAgents: 4, ObstacleType: config.StaticObstacles}
	envParams = config.DefaultEnvParams()
	seed      uint64
	episodes  int
	logEvery  int
)

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "swarm-coverage",
		Short:         "多智能体网格覆盖: QMIX 训练、Q-learning 基线与 gRPC 环境服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := scenario.Validate(); err != nil {
				return err
			}
			return envParams.Validate()
		},
	}
	f := cmd.PersistentFlags()
	f.IntVar(&scenario.Height, "height", scenario.Height, "地图高度")
	f.IntVar(&scenario.Width, "width", scenario.Width, "地图宽度")
	f.IntVar(&scenario.NumAgents, "agents", scenario.NumAgents, "智能体数量")
	f.Float64Var(&scenario.ObstacleDensity, "density", 0, "障碍物密度 [0,1)")
	f.StringVar((*string)(&scenario.ObstacleType), "obstacle-type", string(config.StaticObstacles), "障碍物类型 (static|dynamic)")
	f.IntVar(&envParams.MaxSteps, "max-steps", envParams.MaxSteps, "每回合最大步数")
	f.IntVar(&envParams.EnergyBudget, "energy", envParams.EnergyBudget, "每个智能体的能量预算")
	f.BoolVar(&envParams.EnablePotentialReward, "potential-reward", envParams.EnablePotentialReward, "启用势能奖励塑形")
	f.Uint64Var(&seed, "seed", 42, "随机种子")
	f.IntVar(&episodes, "episodes", 0, "训练回合数 (0 表示使用默认值)")
	f.IntVar(&logEvery, "log-interval", 0, "每多少回合输出一次进度 (0 表示使用默认值)")

	cmd.AddCommand(trainCommand(), baselineCommand(), serveEnvCommand())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log.Printf("❌ %v", err)
		stop()
		os.Exit(1)
	}
}
