/*
 * @module service/plugin/detector_backfill
 * @description 检测器回补插件，从时序库区间查询线圈检测器指标，覆盖流缓冲缺失的历史窗口
 * @architecture 客户端模式 - 按需区间查询，无本地缓冲
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow Collect触发 -> PromQL区间查询 -> 时序结果按路口标签展开为观测表
 * @rules 非常驻插件；缺少路口标签的时序直接跳过；查询失败返回CollectionError
 * @dependencies monitor_client, context, time
 * @refs interface.go, base.go, monitor_client/victoria_metrics_client.go
 */

package plugin

import (
	"context"
	"fmt"
	"time"

	"safety-index-service/monitor_client"
	"safety-index-service/service/models"
	"safety-index-service/service/utils"
)

// 检测器特征名
const (
	FeatureDetectorVehicleCount = "detector_vehicle_count"
	FeatureDetectorOccupancy    = "detector_occupancy"
)

// 检测器指标对应的PromQL查询，{{entity}}为路口标签名占位
var detectorQueries = map[string]string{
	FeatureDetectorVehicleCount: "sum(increase(detector_vehicle_total[15m])) by (%s)",
	FeatureDetectorOccupancy:    "avg(detector_occupancy_ratio) by (%s)",
}

// DetectorBackfillPlugin 检测器回补插件
type DetectorBackfillPlugin struct {
	*BasePlugin
	client      *monitor_client.Client
	entityLabel string
	step        time.Duration
	binWidth    time.Duration
}

// NewDetectorBackfillPlugin 创建检测器回补插件
func NewDetectorBackfillPlugin() SafetyPlugin {
	return &DetectorBackfillPlugin{
		BasePlugin:  NewBasePlugin("detector_backfill", false), // 按需查询，非常驻
		entityLabel: "intersection",
		step:        models.DefaultBinWidth,
		binWidth:    models.DefaultBinWidth,
	}
}

// Init 初始化插件并解析连接配置
func (d *DetectorBackfillPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	if err := d.BasePlugin.Init(ctx, cfg); err != nil {
		return err
	}

	baseURL := utils.ToString(cfg.ConnectionConfig["base_url"])
	if baseURL == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "base_url", Reason: "缺少时序库地址配置"}
	}
	d.client = monitor_client.NewClient(baseURL)

	if cfg.ParamsConfig != nil {
		if label := utils.ToString(cfg.ParamsConfig["entity_label"]); label != "" {
			d.entityLabel = label
		}
		if stepVal, exists := cfg.ParamsConfig["step_seconds"]; exists {
			seconds, err := utils.ToFloat64(stepVal)
			if err == nil && seconds > 0 {
				d.step = time.Duration(seconds) * time.Second
			}
		}
	}

	return nil
}

// Collect 区间查询检测器指标并展开为时间片特征
func (d *DetectorBackfillPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	name := d.Descriptor().Name
	table := models.NewObservationTable()

	for feature, queryTmpl := range detectorQueries {
		query := fmt.Sprintf(queryTmpl, d.entityLabel)
		result, err := d.client.QueryRange(ctx, query, start, end, d.step)
		if err != nil {
			return nil, NewCollectionError(name, fmt.Errorf("查询指标 %s 失败: %w", feature, err))
		}

		for _, series := range result.Result {
			entity := series.Metric[d.entityLabel]
			if entity == "" {
				continue
			}
			for _, point := range series.Points() {
				binStart := models.TruncateToBin(point.Timestamp, d.binWidth)
				if binStart.Before(start) || !binStart.Before(end) {
					continue
				}
				table.Upsert(entity, binStart, map[string]float64{feature: point.Value})
			}
		}
	}

	if err := d.ApplyFeatureScript(table); err != nil {
		return nil, NewCollectionError(name, err)
	}
	return table, nil
}

// Features 返回本插件贡献的特征，检测器无上报时填0
func (d *DetectorBackfillPlugin) Features() []FeatureSpec {
	return []FeatureSpec{
		{Name: FeatureDetectorVehicleCount, Default: 0},
		{Name: FeatureDetectorOccupancy, Default: 0},
	}
}

// HealthCheck 在状态机检查之上叠加时序库探活查询
func (d *DetectorBackfillPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := d.BasePlugin.HealthCheck(ctx)
	if !status.Healthy {
		return status
	}

	start := time.Now()
	if _, err := d.client.Query(ctx, "vm_app_version", time.Now()); err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("时序库不可达: %v", err)
		return status
	}

	status.LatencyMs = time.Since(start).Milliseconds()
	status.Details["base_url"] = d.client.BaseURL()
	return status
}
