// C:/workspace/go/Swarm-Coverage-Go/collector/collector.go
package collector

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"Swarm-Coverage/config"
	"Swarm-Coverage/metrics"
	"Swarm-Coverage/trainer"
)

const (
	windowSheet  = "Window_Stats"
	episodeSheet = "Episode_Stats"
	summarySheet = "Summary"
)

// TrainingReport 把训练过程写入 Excel 工作簿: 每个日志窗口一行、每个回合一行，
// 以及最终的汇总表。它实现了 trainer.Observer。
type TrainingReport struct {
	f        *excelize.File
	filename string

	windowRow  int
	episodeRow int
}

// NewTrainingReport 创建报表，文件名带场景描述和时间戳，Save 时写入 dir。
func NewTrainingReport(dir string, scenario config.Scenario, now time.Time) *TrainingReport {
	baseFilename := fmt.Sprintf("training_map%d_uavs%d_obs%.2f_%s.xlsx",
		scenario.Height, scenario.NumAgents, scenario.ObstacleDensity, now.Format("20060102_150405"))

	f := excelize.NewFile()
	f.NewSheet(windowSheet)
	f.NewSheet(episodeSheet)
	f.NewSheet(summarySheet)
	f.DeleteSheet("Sheet1")

	// --- 写入表头 ---
	headersWindow := []string{"回合", "epsilon", "平均损失", "更新次数", "恢复决策",
		"覆盖率均值", "覆盖率标准差", "覆盖率最小值", "覆盖率最大值", "PA均值", "步数均值", "成功率", "负载均衡"}
	_ = f.SetSheetRow(windowSheet, "A1", &headersWindow)

	headersEpisode := []string{"回合", "步数", "覆盖率", "PA", "碰撞次数", "撞障碍次数", "能量消耗", "负载均衡", "团队奖励", "成功"}
	_ = f.SetSheetRow(episodeSheet, "A1", &headersEpisode)

	headersSummary := []string{"指标", "均值", "标准差", "最小值", "最大值"}
	_ = f.SetSheetRow(summarySheet, "A1", &headersSummary)

	return &TrainingReport{
		f:          f,
		filename:   filepath.Join(dir, baseFilename),
		windowRow:  2,
		episodeRow: 2,
	}
}

// OnWindow 记录一个日志窗口。
func (r *TrainingReport) OnWindow(w trainer.Window) {
	cov := w.Stats[metrics.MetricCoverage]
	rowData := []interface{}{
		w.Episode,
		w.Epsilon,
		w.Loss,
		w.Updates,
		w.Decision.String(),
		cov.Mean,
		cov.Std,
		cov.Min,
		cov.Max,
		w.Stats.Mean(metrics.MetricPA),
		w.Stats.Mean(metrics.MetricSteps),
		w.Stats.Mean(metrics.MetricSuccess),
		w.Stats.Mean(metrics.MetricBalance),
	}
	_ = r.f.SetSheetRow(windowSheet, fmt.Sprintf("A%d", r.windowRow), &rowData)
	r.windowRow++
}

// AddEpisodes 逐回合写入指标。
func (r *TrainingReport) AddEpisodes(stats []metrics.EpisodeStats) {
	for _, s := range stats {
		rowData := []interface{}{s.Episode, s.Steps, s.Coverage, s.PA, s.Collisions, s.ObstacleHits, s.Energy, s.Balance, s.Reward, s.Success}
		_ = r.f.SetSheetRow(episodeSheet, fmt.Sprintf("A%d", r.episodeRow), &rowData)
		r.episodeRow++
	}
}

// SetSummary 写入整个训练的汇总，按指标名排序。
func (r *TrainingReport) SetSummary(agg metrics.Aggregate) {
	for i, name := range agg.Metrics() {
		s := agg[name]
		rowData := []interface{}{name, s.Mean, s.Std, s.Min, s.Max}
		_ = r.f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+2), &rowData)
	}
}

// Filename 返回报表的完整路径。
func (r *TrainingReport) Filename() string { return r.filename }

// Save 确保目录存在后保存工作簿。
func (r *TrainingReport) Save() error {
	reportDir := filepath.Dir(r.filename)
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return fmt.Errorf("create report dir %s: %w", reportDir, err)
	}
	if err := r.f.SaveAs(r.filename); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.Printf("✅ 训练报表已成功保存到 %s", r.filename)
	return nil
}

// Close 释放工作簿占用的资源。
func (r *TrainingReport) Close() error {
	if err := r.f.Close(); err != nil {
		log.Printf("❌ 关闭Excel文件时出错: %v", err)
		return err
	}
	return nil
}
