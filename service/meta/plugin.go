/*
 * @module service/meta/plugin
 * @description 插件类型元数据定义，声明各插件类型的连接/参数配置字段并提供配置校验
 * @architecture 元数据驱动 - 类型定义集中声明，实例化前统一校验
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 插件注册 -> 按类型定义校验配置 -> 校验失败阻止构造
 * @rules 配置校验失败的插件不得进入注册表；错误信息必须指明缺失或非法的字段
 * @dependencies github.com/spf13/cast
 * @refs service/plugin/interface.go, service/plugin/base.go
 */

package meta

import (
	"fmt"

	"github.com/spf13/cast"
)

// 内置插件类型
const (
	PluginTypeTelemetryMQTT    = "telemetry_mqtt"    // 行人/非机动车检测遥测（MQTT订阅）
	PluginTypeTelemetryKafka   = "telemetry_kafka"   // 机动车遥测（Kafka消费）
	PluginTypeWeatherHTTP      = "weather_http"      // 气象数据（HTTP拉取）
	PluginTypeDetectorBackfill = "detector_backfill" // 线圈检测器回补（时序库区间查询）
	PluginTypeCrashDB          = "crash_db"          // 历史事故库（PostgreSQL聚合查询）
)

// PluginConfigField 配置字段定义
type PluginConfigField struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Type         string      `json:"type"` // string, number, boolean, array
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Description  string      `json:"description"`
	Min          float64     `json:"min,omitempty"`
	Max          float64     `json:"max,omitempty"`
}

// PluginTypeDefinition 插件类型完整定义
type PluginTypeDefinition struct {
	Type             string              `json:"type"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	ConnectionConfig []PluginConfigField `json:"connection_config"`
	ParamsConfig     []PluginConfigField `json:"params_config"`
	SubIndex         string              `json:"sub_index"` // 该类型数据贡献的子指数: vru, vehicle, weather
}

// SubIndexBindings 插件类型到子指数的绑定关系
var SubIndexBindings = map[string]string{
	PluginTypeTelemetryMQTT:    "vru",
	PluginTypeTelemetryKafka:   "vehicle",
	PluginTypeDetectorBackfill: "vehicle",
	PluginTypeCrashDB:          "vehicle",
	PluginTypeWeatherHTTP:      "weather",
}

// PluginTypes 内置插件类型定义表
var PluginTypes = map[string]*PluginTypeDefinition{
	PluginTypeTelemetryMQTT: {
		Type:        PluginTypeTelemetryMQTT,
		Name:        "VRU遥测插件",
		Description: "订阅路口行人/非机动车检测消息，聚合为时间片特征",
		SubIndex:    "vru",
		ConnectionConfig: []PluginConfigField{
			{Name: "host", DisplayName: "Broker地址", Type: "string", Required: true, Description: "MQTT Broker主机名"},
			{Name: "port", DisplayName: "端口", Type: "number", Required: false, DefaultValue: 1883, Min: 1, Max: 65535},
			{Name: "username", DisplayName: "用户名", Type: "string", Required: false},
			{Name: "password", DisplayName: "密码", Type: "string", Required: false},
		},
		ParamsConfig: []PluginConfigField{
			{Name: "topics", DisplayName: "订阅主题", Type: "array", Required: true, Description: "按路口划分的检测主题列表"},
			{Name: "qos", DisplayName: "QoS级别", Type: "number", Required: false, DefaultValue: 0, Min: 0, Max: 2},
		},
	},
	PluginTypeTelemetryKafka: {
		Type:        PluginTypeTelemetryKafka,
		Name:        "机动车遥测插件",
		Description: "消费机动车轨迹/事件主题，聚合为时间片特征",
		SubIndex:    "vehicle",
		ConnectionConfig: []PluginConfigField{
			{Name: "brokers", DisplayName: "Broker列表", Type: "array", Required: true},
			{Name: "group_id", DisplayName: "消费组", Type: "string", Required: true},
		},
		ParamsConfig: []PluginConfigField{
			{Name: "topic", DisplayName: "消费主题", Type: "string", Required: true},
		},
	},
	PluginTypeWeatherHTTP: {
		Type:        PluginTypeWeatherHTTP,
		Name:        "气象数据插件",
		Description: "按时间窗口拉取气象服务REST接口",
		SubIndex:    "weather",
		ConnectionConfig: []PluginConfigField{
			{Name: "base_url", DisplayName: "服务地址", Type: "string", Required: true},
		},
		ParamsConfig: []PluginConfigField{
			{Name: "timeout_seconds", DisplayName: "请求超时", Type: "number", Required: false, DefaultValue: 10, Min: 1, Max: 120},
			{Name: "station_id", DisplayName: "气象站ID", Type: "string", Required: false},
		},
	},
	PluginTypeDetectorBackfill: {
		Type:        PluginTypeDetectorBackfill,
		Name:        "检测器回补插件",
		Description: "从时序库区间查询线圈检测器指标，用于流缓冲未覆盖的窗口",
		SubIndex:    "vehicle",
		ConnectionConfig: []PluginConfigField{
			{Name: "base_url", DisplayName: "时序库地址", Type: "string", Required: true},
		},
		ParamsConfig: []PluginConfigField{
			{Name: "entity_label", DisplayName: "路口标签名", Type: "string", Required: false, DefaultValue: "intersection"},
			{Name: "step_seconds", DisplayName: "查询步长", Type: "number", Required: false, DefaultValue: 900, Min: 60, Max: 3600},
		},
	},
	PluginTypeCrashDB: {
		Type:        PluginTypeCrashDB,
		Name:        "历史事故插件",
		Description: "查询历史事故库，输出近期加权事故暴露特征",
		SubIndex:    "vehicle",
		ConnectionConfig: []PluginConfigField{
			{Name: "dsn", DisplayName: "连接串", Type: "string", Required: true, Description: "PostgreSQL DSN"},
		},
		ParamsConfig: []PluginConfigField{
			{Name: "lookback_days", DisplayName: "回溯天数", Type: "number", Required: false, DefaultValue: 90, Min: 1, Max: 3650},
		},
	},
}

// ValidationResult 配置校验结果
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// GetPluginTypeDefinition 获取插件类型定义
func GetPluginTypeDefinition(pluginType string) (*PluginTypeDefinition, error) {
	definition, exists := PluginTypes[pluginType]
	if !exists {
		return nil, fmt.Errorf("不支持的插件类型: %s", pluginType)
	}
	return definition, nil
}

// SupportedPluginTypes 获取支持的插件类型列表
func SupportedPluginTypes() []string {
	types := make([]string, 0, len(PluginTypes))
	for pluginType := range PluginTypes {
		types = append(types, pluginType)
	}
	return types
}

// ValidateConfig 按类型定义校验连接配置与参数配置
func (d *PluginTypeDefinition) ValidateConfig(connectionConfig, paramsConfig map[string]interface{}) *ValidationResult {
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]string, 0),
	}

	d.validateFields(d.ConnectionConfig, connectionConfig, result)
	if paramsConfig != nil {
		d.validateFields(d.ParamsConfig, paramsConfig, result)
	} else {
		// 参数配置整体缺失时仍需检查其中的必填字段
		d.validateFields(d.ParamsConfig, map[string]interface{}{}, result)
	}

	return result
}

// validateFields 校验字段集合
func (d *PluginTypeDefinition) validateFields(fields []PluginConfigField, config map[string]interface{}, result *ValidationResult) {
	for _, field := range fields {
		value, exists := config[field.Name]

		if field.Required && (!exists || value == nil || value == "") {
			result.Errors = append(result.Errors, fmt.Sprintf("缺少必需字段: %s", field.Name))
			result.IsValid = false
			continue
		}

		if !exists || value == nil {
			continue
		}

		switch field.Type {
		case "number":
			numVal, err := cast.ToFloat64E(value)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 不是合法数值", field.Name))
				result.IsValid = false
				continue
			}
			if field.Min != 0 && numVal < field.Min {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 值过小，最小值: %.0f", field.Name, field.Min))
				result.IsValid = false
			}
			if field.Max != 0 && numVal > field.Max {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 值过大，最大值: %.0f", field.Name, field.Max))
				result.IsValid = false
			}
		case "string":
			if _, err := cast.ToStringE(value); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 不是合法字符串", field.Name))
				result.IsValid = false
			}
		case "boolean":
			if _, err := cast.ToBoolE(value); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 不是合法布尔值", field.Name))
				result.IsValid = false
			}
		case "array":
			if _, err := cast.ToSliceE(value); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 不是合法数组", field.Name))
				result.IsValid = false
			}
		}
	}
}
