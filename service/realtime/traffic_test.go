/*
 * @module service/realtime/traffic_test
 * @description 交通特征来源单元测试，覆盖时间片定位、特征提取与零流量窗口
 * @architecture 单元测试
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow 注册桩插件 -> 查询交通特征窗口 -> 验证快照内容
 * @rules 窗口内无观测的路口返回全零快照而非错误
 * @dependencies testing, github.com/stretchr/testify
 * @refs traffic.go
 */

package realtime

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/models"
	"safety-index-service/service/plugin"

	"github.com/stretchr/testify/assert"
)

// stubTelemetryPlugin 测试用遥测插件，返回预置观测表
type stubTelemetryPlugin struct {
	name     string
	features []plugin.FeatureSpec
	table    *models.ObservationTable
}

func (p *stubTelemetryPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error { return nil }
func (p *stubTelemetryPlugin) Start(ctx context.Context) error                          { return nil }
func (p *stubTelemetryPlugin) Stop(ctx context.Context) error                           { return nil }
func (p *stubTelemetryPlugin) Features() []plugin.FeatureSpec                           { return p.features }
func (p *stubTelemetryPlugin) IsResident() bool                                         { return true }

func (p *stubTelemetryPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	return p.table, nil
}

func (p *stubTelemetryPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	return &models.HealthStatus{Healthy: true, CheckedAt: time.Now()}
}

func (p *stubTelemetryPlugin) Descriptor() models.PluginDescriptor {
	return models.PluginDescriptor{Name: p.name, Enabled: true, Weight: 0.5}
}

// stubTelemetryFactory 返回预置插件实例的工厂
type stubTelemetryFactory struct {
	instances map[string]plugin.SafetyPlugin
}

func (f *stubTelemetryFactory) Create(pluginType string) (plugin.SafetyPlugin, error) {
	instance, exists := f.instances[pluginType]
	if !exists {
		return nil, errors.New("unknown type")
	}
	return instance, nil
}

func (f *stubTelemetryFactory) RegisterType(pluginType string, creator plugin.PluginCreator) error {
	return nil
}
func (f *stubTelemetryFactory) SupportedTypes() []string { return nil }

func newTrafficSource(t *testing.T, table *models.ObservationTable) *CollectorTrafficSource {
	t.Helper()

	stub := &stubTelemetryPlugin{
		name:  "telemetry",
		table: table,
		features: []plugin.FeatureSpec{
			{Name: plugin.FeatureVehicleCount, Default: 0},
			{Name: plugin.FeatureSpeedAvg, Default: 0},
			{Name: plugin.FeatureSpeedVariance, Default: 0},
			{Name: plugin.FeatureVRUCount, Default: 0},
		},
	}
	registry := plugin.NewRegistry(&stubTelemetryFactory{
		instances: map[string]plugin.SafetyPlugin{"telemetry": stub},
	})
	cfg := &models.PluginConfig{
		Name:             "telemetry",
		Type:             "telemetry",
		Enabled:          true,
		ConnectionConfig: models.JSONB{},
	}
	assert.NoError(t, registry.Register(context.Background(), cfg))

	return NewCollectorTrafficSource(collector.NewCollector(registry, nil))
}

func TestTrafficWindowExtractsBinFeatures(t *testing.T) {
	binStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	table := models.NewObservationTable()
	table.Upsert("int-001", binStart, map[string]float64{
		plugin.FeatureVehicleCount:  42,
		plugin.FeatureSpeedAvg:      55.5,
		plugin.FeatureSpeedVariance: 12.3,
		plugin.FeatureVRUCount:      7,
	})

	source := newTrafficSource(t, table)

	// 片内任意时刻都定位到同一窗口
	window, err := source.TrafficWindow(context.Background(), "int-001", binStart.Add(9*time.Minute))
	assert.NoError(t, err)
	assert.InDelta(t, 42.0, window.VehicleCount, 1e-9)
	assert.InDelta(t, 55.5, window.SpeedAvg, 1e-9)
	assert.InDelta(t, 12.3, window.SpeedVariance, 1e-9)
	assert.InDelta(t, 7.0, window.VRUCount, 1e-9)
}

func TestTrafficWindowAbsentEntityIsZero(t *testing.T) {
	binStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	table := models.NewObservationTable()
	table.Upsert("int-001", binStart, map[string]float64{plugin.FeatureVehicleCount: 42})

	source := newTrafficSource(t, table)

	window, err := source.TrafficWindow(context.Background(), "int-999", binStart)
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, window.VehicleCount, 1e-9)
	assert.InDelta(t, 0.0, window.VRUCount, 1e-9)
}

func TestTrafficWindowNaNFeatureIsZero(t *testing.T) {
	binStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	table := models.NewObservationTable()
	table.Upsert("int-001", binStart, map[string]float64{
		plugin.FeatureVehicleCount: 10,
		plugin.FeatureSpeedAvg:     math.NaN(),
	})

	source := newTrafficSource(t, table)

	window, err := source.TrafficWindow(context.Background(), "int-001", binStart)
	assert.NoError(t, err)
	assert.InDelta(t, 10.0, window.VehicleCount, 1e-9)
	assert.InDelta(t, 0.0, window.SpeedAvg, 1e-9)
}
