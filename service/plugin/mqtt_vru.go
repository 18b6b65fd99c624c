/*
 * @module service/plugin/mqtt_vru
 * @description VRU遥测插件，订阅路口行人/非机动车检测消息并按时间片聚合特征
 * @architecture 发布订阅模式 - 连接MQTT broker订阅主题，消息进入时间片累加器
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow MQTT客户端生命周期：连接 -> 订阅主题 -> 接收消息 -> 时间片聚合 -> 断开连接
 * @rules 常驻插件，Collect只读取已缓冲的累加器快照；载荷解析失败的消息丢弃并记日志
 * @dependencies github.com/eclipse/paho.mqtt.golang, context, sync, time
 * @refs interface.go, base.go
 */

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// VRU特征名
const (
	FeatureVRUCount        = "vru_count"
	FeatureVRUConflict     = "vru_conflict_count"
	FeatureCrossingTimeAvg = "crossing_time_avg"
)

// vruBinAccum 单路口单时间片的VRU累加器
type vruBinAccum struct {
	vruCount        float64
	conflictCount   float64
	crossingTimeSum float64
	crossingTimeObs float64
}

// MQTTTelemetryPlugin VRU遥测插件
type MQTTTelemetryPlugin struct {
	*BasePlugin
	client       mqtt.Client
	broker       string
	port         int
	clientID     string
	username     string
	password     string
	topics       []string
	qos          byte
	timeout      time.Duration
	keepAlive    time.Duration
	binWidth     time.Duration
	retainWindow time.Duration

	mu   sync.RWMutex
	bins map[models.ObservationKey]*vruBinAccum
}

// vruMessage VRU检测消息载荷
type vruMessage struct {
	IntersectionID string      `json:"intersection_id"`
	Timestamp      interface{} `json:"timestamp"`
	Kind           string      `json:"kind"` // pedestrian, cyclist
	Conflict       bool        `json:"conflict"`
	CrossingTimeS  *float64    `json:"crossing_time_s,omitempty"`
}

// NewMQTTTelemetryPlugin 创建VRU遥测插件
func NewMQTTTelemetryPlugin() SafetyPlugin {
	return &MQTTTelemetryPlugin{
		BasePlugin:   NewBasePlugin("telemetry_mqtt", true), // 常驻插件
		qos:          0,
		timeout:      30 * time.Second,
		keepAlive:    60 * time.Second,
		binWidth:     models.DefaultBinWidth,
		retainWindow: 48 * time.Hour,
		bins:         make(map[models.ObservationKey]*vruBinAccum),
	}
}

// Init 初始化插件并解析连接配置
func (m *MQTTTelemetryPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	if err := m.BasePlugin.Init(ctx, cfg); err != nil {
		return err
	}

	config := cfg.ConnectionConfig
	m.broker = utils.ToString(config["host"])
	if m.broker == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "host", Reason: "缺少broker地址配置"}
	}

	if portVal, exists := config["port"]; exists {
		port, err := utils.ToFloat64(portVal)
		if err != nil {
			return &ConfigError{Plugin: cfg.Name, Field: "port", Reason: fmt.Sprintf("端口配置格式错误: %v", err)}
		}
		m.port = int(port)
	} else {
		m.port = 1883 // 默认MQTT端口
	}

	m.username = utils.ToString(config["username"])
	m.password = utils.ToString(config["password"])
	m.clientID = fmt.Sprintf("safety-index-%s-%d", cfg.Name, time.Now().Unix())

	if cfg.ParamsConfig != nil {
		m.topics = utils.ToStringSlice(cfg.ParamsConfig["topics"])
		if qosVal, exists := cfg.ParamsConfig["qos"]; exists {
			qos, err := utils.ToFloat64(qosVal)
			if err == nil && qos >= 0 && qos <= 2 {
				m.qos = byte(qos)
			}
		}
	}
	if len(m.topics) == 0 {
		return &ConfigError{Plugin: cfg.Name, Field: "topics", Reason: "订阅主题列表不能为空"}
	}

	return nil
}

// Start 连接broker并订阅主题
func (m *MQTTTelemetryPlugin) Start(ctx context.Context) error {
	if err := m.BasePlugin.Start(ctx); err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.broker, m.port))
	opts.SetClientID(m.clientID)
	opts.SetKeepAlive(m.keepAlive)
	opts.SetConnectTimeout(m.timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		for _, topic := range m.topics {
			token := client.Subscribe(topic, m.qos, m.handleMessage)
			if token.Wait() && token.Error() != nil {
				slog.Error("订阅主题失败", "topic", topic, "error", token.Error())
			}
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		slog.Warn("MQTT连接断开", "plugin", m.Descriptor().Name, "error", err)
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("连接MQTT broker超时: %s:%d", m.broker, m.port)
	}
	if token.Error() != nil {
		return fmt.Errorf("连接MQTT broker失败: %w", token.Error())
	}

	return nil
}

// Stop 断开连接
func (m *MQTTTelemetryPlugin) Stop(ctx context.Context) error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return m.BasePlugin.Stop(ctx)
}

// handleMessage 处理检测消息，解析后计入对应时间片累加器
func (m *MQTTTelemetryPlugin) handleMessage(client mqtt.Client, msg mqtt.Message) {
	var payload vruMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		slog.Warn("VRU消息解析失败", "topic", msg.Topic(), "error", err)
		return
	}
	if payload.IntersectionID == "" {
		slog.Warn("VRU消息缺少路口ID", "topic", msg.Topic())
		return
	}

	ts, err := utils.ParseTimestamp(payload.Timestamp)
	if err != nil {
		// 无法解析时间的消息按接收时间入片
		ts = time.Now().UTC()
	}

	key := models.ObservationKey{
		Entity:    payload.IntersectionID,
		Timestamp: models.TruncateToBin(ts, m.binWidth),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accum, exists := m.bins[key]
	if !exists {
		accum = &vruBinAccum{}
		m.bins[key] = accum
	}
	accum.vruCount++
	if payload.Conflict {
		accum.conflictCount++
	}
	if payload.CrossingTimeS != nil {
		accum.crossingTimeSum += *payload.CrossingTimeS
		accum.crossingTimeObs++
	}

	m.pruneLocked()
}

// pruneLocked 清理保留窗口之外的累加器，调用方必须持有写锁
func (m *MQTTTelemetryPlugin) pruneLocked() {
	cutoff := time.Now().UTC().Add(-m.retainWindow)
	for key := range m.bins {
		if key.Timestamp.Before(cutoff) {
			delete(m.bins, key)
		}
	}
}

// Collect 输出 [start, end) 内已缓冲的时间片特征
func (m *MQTTTelemetryPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	table := models.NewObservationTable()

	m.mu.RLock()
	for key, accum := range m.bins {
		if key.Timestamp.Before(start) || !key.Timestamp.Before(end) {
			continue
		}
		crossingAvg := 0.0
		if accum.crossingTimeObs > 0 {
			crossingAvg = accum.crossingTimeSum / accum.crossingTimeObs
		}
		table.Upsert(key.Entity, key.Timestamp, map[string]float64{
			FeatureVRUCount:        accum.vruCount,
			FeatureVRUConflict:     accum.conflictCount,
			FeatureCrossingTimeAvg: crossingAvg,
		})
	}
	m.mu.RUnlock()

	if err := m.ApplyFeatureScript(table); err != nil {
		return nil, NewCollectionError(m.Descriptor().Name, err)
	}
	return table, nil
}

// Features 返回本插件贡献的特征，窗口无VRU活动时填0（零观测而非缺失）
func (m *MQTTTelemetryPlugin) Features() []FeatureSpec {
	return []FeatureSpec{
		{Name: FeatureVRUCount, Default: 0},
		{Name: FeatureVRUConflict, Default: 0},
		{Name: FeatureCrossingTimeAvg, Default: 0},
	}
}

// HealthCheck 在状态机检查之上叠加broker连接探测
func (m *MQTTTelemetryPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := m.BasePlugin.HealthCheck(ctx)
	if !status.Healthy {
		return status
	}

	if m.client == nil || !m.client.IsConnected() {
		status.Healthy = false
		status.Message = "MQTT连接不可用"
		return status
	}

	m.mu.RLock()
	status.Details["buffered_bins"] = len(m.bins)
	m.mu.RUnlock()
	status.Details["broker"] = fmt.Sprintf("%s:%d", m.broker, m.port)
	return status
}
