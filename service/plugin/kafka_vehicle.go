/*
 * @module service/plugin/kafka_vehicle
 * @description 机动车遥测插件，消费车辆轨迹/事件主题并按时间片聚合速度与冲突特征
 * @architecture 消费者模式 - kafka消费组持续读取，消息进入时间片累加器
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 启动消费循环 -> 接收消息 -> 时间片聚合 -> 停止时关闭reader
 * @rules 常驻插件；速度方差使用平方和在线计算；消费循环错误只记日志不退出
 * @dependencies github.com/segmentio/kafka-go, context, sync, time
 * @refs interface.go, base.go
 */

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/utils"

	"github.com/segmentio/kafka-go"
)

// 机动车特征名
const (
	FeatureVehicleCount    = "vehicle_count"
	FeatureSpeedAvg        = "speed_avg"
	FeatureSpeedVariance   = "speed_variance"
	FeatureHardBrakeCount  = "hard_brake_count"
	FeatureVehicleConflict = "vehicle_conflict_count"
)

// vehicleBinAccum 单路口单时间片的机动车累加器
type vehicleBinAccum struct {
	vehicleCount  float64
	speedSum      float64
	speedSquSum   float64
	speedObs      float64
	hardBrakes    float64
	conflictCount float64
}

// KafkaTelemetryPlugin 机动车遥测插件
type KafkaTelemetryPlugin struct {
	*BasePlugin
	reader       *kafka.Reader
	brokers      []string
	groupID      string
	topic        string
	binWidth     time.Duration
	retainWindow time.Duration

	mu   sync.RWMutex
	bins map[models.ObservationKey]*vehicleBinAccum

	cancelConsume context.CancelFunc
	consumeDone   chan struct{}
}

// vehicleMessage 机动车遥测消息载荷
type vehicleMessage struct {
	IntersectionID string      `json:"intersection_id"`
	Timestamp      interface{} `json:"timestamp"`
	SpeedKmh       *float64    `json:"speed_kmh,omitempty"`
	HardBrake      bool        `json:"hard_brake"`
	Conflict       bool        `json:"conflict"`
}

// NewKafkaTelemetryPlugin 创建机动车遥测插件
func NewKafkaTelemetryPlugin() SafetyPlugin {
	return &KafkaTelemetryPlugin{
		BasePlugin:   NewBasePlugin("telemetry_kafka", true), // 常驻插件
		binWidth:     models.DefaultBinWidth,
		retainWindow: 48 * time.Hour,
		bins:         make(map[models.ObservationKey]*vehicleBinAccum),
	}
}

// Init 初始化插件并解析连接配置
func (k *KafkaTelemetryPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	if err := k.BasePlugin.Init(ctx, cfg); err != nil {
		return err
	}

	k.brokers = utils.ToStringSlice(cfg.ConnectionConfig["brokers"])
	if len(k.brokers) == 0 {
		return &ConfigError{Plugin: cfg.Name, Field: "brokers", Reason: "broker列表不能为空"}
	}

	k.groupID = utils.ToString(cfg.ConnectionConfig["group_id"])
	if k.groupID == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "group_id", Reason: "消费组不能为空"}
	}

	if cfg.ParamsConfig != nil {
		k.topic = utils.ToString(cfg.ParamsConfig["topic"])
	}
	if k.topic == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "topic", Reason: "消费主题不能为空"}
	}

	return nil
}

// Start 创建reader并启动消费循环
func (k *KafkaTelemetryPlugin) Start(ctx context.Context) error {
	if err := k.BasePlugin.Start(ctx); err != nil {
		return err
	}

	k.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.brokers,
		GroupID:        k.groupID,
		Topic:          k.topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})

	consumeCtx, cancel := context.WithCancel(context.Background())
	k.cancelConsume = cancel
	k.consumeDone = make(chan struct{})
	go k.consumeLoop(consumeCtx)

	return nil
}

// Stop 停止消费并关闭reader
func (k *KafkaTelemetryPlugin) Stop(ctx context.Context) error {
	if k.cancelConsume != nil {
		k.cancelConsume()
	}
	if k.reader != nil {
		if err := k.reader.Close(); err != nil {
			slog.Warn("关闭kafka reader失败", "plugin", k.Descriptor().Name, "error", err)
		}
	}
	if k.consumeDone != nil {
		select {
		case <-k.consumeDone:
		case <-time.After(5 * time.Second):
			slog.Warn("等待消费循环退出超时", "plugin", k.Descriptor().Name)
		}
	}
	return k.BasePlugin.Stop(ctx)
}

// consumeLoop 持续消费消息直到上下文取消
func (k *KafkaTelemetryPlugin) consumeLoop(ctx context.Context) {
	defer close(k.consumeDone)

	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("消费消息失败", "plugin", k.Descriptor().Name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		k.handleMessage(msg.Value)
	}
}

// handleMessage 解析消息并计入对应时间片累加器
func (k *KafkaTelemetryPlugin) handleMessage(value []byte) {
	var payload vehicleMessage
	if err := json.Unmarshal(value, &payload); err != nil {
		slog.Warn("机动车消息解析失败", "error", err)
		return
	}
	if payload.IntersectionID == "" {
		return
	}

	ts, err := utils.ParseTimestamp(payload.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	key := models.ObservationKey{
		Entity:    payload.IntersectionID,
		Timestamp: models.TruncateToBin(ts, k.binWidth),
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	accum, exists := k.bins[key]
	if !exists {
		accum = &vehicleBinAccum{}
		k.bins[key] = accum
	}
	accum.vehicleCount++
	if payload.SpeedKmh != nil {
		accum.speedSum += *payload.SpeedKmh
		accum.speedSquSum += *payload.SpeedKmh * *payload.SpeedKmh
		accum.speedObs++
	}
	if payload.HardBrake {
		accum.hardBrakes++
	}
	if payload.Conflict {
		accum.conflictCount++
	}

	cutoff := time.Now().UTC().Add(-k.retainWindow)
	for key := range k.bins {
		if key.Timestamp.Before(cutoff) {
			delete(k.bins, key)
		}
	}
}

// Collect 输出 [start, end) 内已缓冲的时间片特征
func (k *KafkaTelemetryPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	table := models.NewObservationTable()

	k.mu.RLock()
	for key, accum := range k.bins {
		if key.Timestamp.Before(start) || !key.Timestamp.Before(end) {
			continue
		}

		speedAvg := 0.0
		speedVar := 0.0
		if accum.speedObs > 0 {
			speedAvg = accum.speedSum / accum.speedObs
			// 总体方差 E[X^2] - (E[X])^2
			speedVar = accum.speedSquSum/accum.speedObs - speedAvg*speedAvg
			if speedVar < 0 {
				speedVar = 0
			}
		}

		table.Upsert(key.Entity, key.Timestamp, map[string]float64{
			FeatureVehicleCount:    accum.vehicleCount,
			FeatureSpeedAvg:        speedAvg,
			FeatureSpeedVariance:   speedVar,
			FeatureHardBrakeCount:  accum.hardBrakes,
			FeatureVehicleConflict: accum.conflictCount,
		})
	}
	k.mu.RUnlock()

	if err := k.ApplyFeatureScript(table); err != nil {
		return nil, NewCollectionError(k.Descriptor().Name, err)
	}
	return table, nil
}

// Features 返回本插件贡献的特征，窗口无车流时填0
func (k *KafkaTelemetryPlugin) Features() []FeatureSpec {
	return []FeatureSpec{
		{Name: FeatureVehicleCount, Default: 0},
		{Name: FeatureSpeedAvg, Default: 0},
		{Name: FeatureSpeedVariance, Default: 0},
		{Name: FeatureHardBrakeCount, Default: 0},
		{Name: FeatureVehicleConflict, Default: 0},
	}
}

// HealthCheck 在状态机检查之上叠加消费端统计
func (k *KafkaTelemetryPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := k.BasePlugin.HealthCheck(ctx)
	if !status.Healthy {
		return status
	}

	if k.reader == nil {
		status.Healthy = false
		status.Message = "kafka reader未创建"
		return status
	}

	stats := k.reader.Stats()
	k.mu.RLock()
	status.Details["buffered_bins"] = len(k.bins)
	k.mu.RUnlock()
	status.Details["topic"] = k.topic
	status.Details["messages"] = stats.Messages
	status.Details["errors"] = stats.Errors
	return status
}
