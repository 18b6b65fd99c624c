/*
 * @module service/realtime/traffic
 * @description 采集器支撑的交通特征来源，取当前时间片内常驻插件缓冲的车流/VRU观测
 * @architecture 适配器模式 - 把窗口采集结果裁剪为单路口交通特征快照
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow 定位ts所属时间片 -> fail_soft采集窗口 -> 取该路口观测行 -> 特征快照
 * @rules 路口在窗口内无观测行时返回全零快照（零流量），不视为错误；NaN特征按0计
 * @dependencies context, time
 * @refs blender.go, service/collector/collector.go, service/plugin/kafka_vehicle.go, service/plugin/mqtt_vru.go
 */

package realtime

import (
	"context"
	"fmt"
	"math"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/models"
	"safety-index-service/service/plugin"
)

// CollectorTrafficSource 采集器支撑的交通特征来源
type CollectorTrafficSource struct {
	collector *collector.Collector
	binWidth  time.Duration
}

// NewCollectorTrafficSource 创建交通特征来源
func NewCollectorTrafficSource(c *collector.Collector) *CollectorTrafficSource {
	return &CollectorTrafficSource{
		collector: c,
		binWidth:  models.DefaultBinWidth,
	}
}

// TrafficWindow 采集ts所属时间片并提取该路口的交通特征
// 窗口内无该路口观测时返回全零快照（零流量），非错误
func (s *CollectorTrafficSource) TrafficWindow(ctx context.Context, entity string, ts time.Time) (*models.TrafficWindow, error) {
	binStart := models.TruncateToBin(ts, s.binWidth)

	table, err := s.collector.Collect(ctx, binStart, binStart.Add(s.binWidth), collector.ModeFailSoft)
	if err != nil {
		return nil, fmt.Errorf("采集交通特征窗口失败: %w", err)
	}

	window := &models.TrafficWindow{}
	row, exists := table.Get(entity, binStart)
	if !exists {
		return window, nil
	}

	window.VehicleCount = featureOrZero(row.Features, plugin.FeatureVehicleCount)
	window.SpeedAvg = featureOrZero(row.Features, plugin.FeatureSpeedAvg)
	window.SpeedVariance = featureOrZero(row.Features, plugin.FeatureSpeedVariance)
	window.VRUCount = featureOrZero(row.Features, plugin.FeatureVRUCount)
	return window, nil
}

// featureOrZero 取特征值，缺席或NaN按0计
func featureOrZero(features map[string]float64, name string) float64 {
	value, exists := features[name]
	if !exists || math.IsNaN(value) {
		return 0
	}
	return value
}
