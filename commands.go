package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/spf13/cobra"

	"Swarm-Coverage/baseline"
	"Swarm-Coverage/collector"
	"Swarm-Coverage/config"
	"Swarm-Coverage/environment"
	"Swarm-Coverage/metrics"
	"Swarm-Coverage/trainer"
)

func trainCommand() *cobra.Command {
	hyper := config.DefaultHyperparameters()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "训练 QMIX 覆盖策略",
		RunE: func(cmd *cobra.Command, args []string) error {
			hyper.Seed = seed
			if episodes > 0 {
				hyper.Episodes = episodes
			}
			if logEvery > 0 {
				hyper.LogInterval = logEvery
			}

			log.Println("=============================================")
			log.Println("======  Swarm Coverage QMIX Training  ======")
			log.Println("=============================================")

			t, err := trainer.New(scenario, envParams, hyper, log.Default())
			if err != nil {
				return err
			}
			var report *collector.TrainingReport
			if hyper.ReportDir != "" {
				report = collector.NewTrainingReport(hyper.ReportDir, scenario, time.Now())
				defer report.Close()
				t.SetObserver(report)
			}

			res, runErr := t.Run(cmd.Context())
			if report != nil {
				report.AddEpisodes(t.History())
				report.SetSummary(res.Final)
				if err := report.Save(); err != nil {
					return errors.Join(runErr, err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("training stopped after %d episodes: %w", res.Episodes, runErr)
			}
			log.Printf("✅ 训练完成: %d 个回合, 恢复 %d 次, 最佳窗口覆盖率 %.3f", res.Episodes, res.Restores, res.BestCoverage)
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&hyper.LearningRate, "lr", hyper.LearningRate, "学习率")
	f.IntVar(&hyper.BatchSize, "batch-size", hyper.BatchSize, "每次更新采样的回合数")
	f.IntVar(&hyper.BufferSize, "buffer-size", hyper.BufferSize, "回放缓冲区容量 (回合)")
	f.IntVar(&hyper.AgentHiddenDim, "hidden-dim", hyper.AgentHiddenDim, "智能体网络隐藏层维度")
	f.BoolVar(&hyper.DoubleQ, "double-q", hyper.DoubleQ, "使用 double Q 目标")
	f.BoolVar(&hyper.UseAvailableActions, "avail-actions", hyper.UseAvailableActions, "只在可用动作中选择")
	f.BoolVar(&hyper.QuantizeObservations, "quantize", hyper.QuantizeObservations, "以 8 位量化存储观测")
	f.BoolVar(&hyper.Recovery.Enabled, "recovery", hyper.Recovery.Enabled, "覆盖率崩溃后自动恢复")
	f.StringVar(&hyper.CheckpointDir, "checkpoint-dir", hyper.CheckpointDir, "检查点目录 (为空则不保存)")
	f.StringVar(&hyper.ReportDir, "report-dir", hyper.ReportDir, "Excel 报表目录 (为空则不生成)")
	f.StringVar(&hyper.InitCheckpoint, "init-checkpoint", "", "课程学习的上一阶段检查点")
	return cmd
}

func baselineCommand() *cobra.Command {
	cfg := config.DefaultBaselineConfig()
	var strategy, reportDir string

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "训练 Q-learning 对比基线 (global 或 per_unit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Seed = seed
			cfg.Strategy = config.Strategy(strategy)
			if episodes > 0 {
				cfg.Episodes = episodes
			}
			if logEvery > 0 {
				cfg.LogInterval = logEvery
			}

			l, err := baseline.New(scenario, envParams, cfg, log.Default())
			if err != nil {
				return err
			}
			res, runErr := l.Run(cmd.Context())
			if reportDir != "" {
				if err := saveBaselineReport(reportDir, l.History(), res.Final); err != nil {
					return errors.Join(runErr, err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("baseline stopped after %d episodes: %w", res.Episodes, runErr)
			}
			log.Printf("✅ 基线训练完成: %d 个回合, %d 次更新", res.Episodes, res.Updates)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&strategy, "strategy", string(config.GlobalStrategy), "网络组织方式 (global|per_unit)")
	f.IntVar(&cfg.HiddenDim, "hidden-dim", cfg.HiddenDim, "隐藏层维度")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "每次更新采样的经验条数")
	f.IntVar(&cfg.MemorySize, "memory-size", cfg.MemorySize, "经验回放容量")
	f.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "检查点目录 (为空则不保存)")
	f.StringVar(&reportDir, "report-dir", "", "Excel 报表目录 (为空则不生成)")
	return cmd
}

func saveBaselineReport(dir string, history []metrics.EpisodeStats, final metrics.Aggregate) error {
	report := collector.NewTrainingReport(dir, scenario, time.Now())
	defer report.Close()
	report.AddEpisodes(history)
	report.SetSummary(final)
	return report.Save()
}

func serveEnvCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-env",
		Short: "通过 gRPC 对外提供覆盖环境",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := environment.NewServer(environment.Config{Scenario: scenario, Params: envParams, Seed: seed}, log.Default())
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return srv.Serve(cmd.Context(), lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC 监听地址")
	return cmd
}
