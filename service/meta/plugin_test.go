/*
 * @module service/meta/plugin_test
 * @description 插件类型元数据与配置校验单元测试
 * @architecture 单元测试
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 构造配置 -> 按类型定义校验 -> 验证错误信息
 * @rules 必填字段缺失必须校验失败且指明字段名
 * @dependencies testing
 * @refs plugin.go
 */

package meta

import (
	"strings"
	"testing"
)

func TestGetPluginTypeDefinition(t *testing.T) {
	for _, pluginType := range []string{
		PluginTypeTelemetryMQTT,
		PluginTypeTelemetryKafka,
		PluginTypeWeatherHTTP,
		PluginTypeDetectorBackfill,
		PluginTypeCrashDB,
	} {
		definition, err := GetPluginTypeDefinition(pluginType)
		if err != nil {
			t.Errorf("获取插件类型 %s 定义失败: %v", pluginType, err)
			continue
		}
		if definition.Type != pluginType {
			t.Errorf("插件类型不匹配: 期望 %s, 实际 %s", pluginType, definition.Type)
		}
		if _, bound := SubIndexBindings[pluginType]; !bound {
			t.Errorf("插件类型 %s 缺少子指数绑定", pluginType)
		}
	}

	if _, err := GetPluginTypeDefinition("nonexistent"); err == nil {
		t.Error("未知插件类型应该返回错误")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name       string
		pluginType string
		connection map[string]interface{}
		params     map[string]interface{}
		wantValid  bool
		wantField  string // 期望出现在错误信息中的字段名
	}{
		{
			name:       "mqtt完整配置",
			pluginType: PluginTypeTelemetryMQTT,
			connection: map[string]interface{}{"host": "broker.local", "port": 1883},
			params:     map[string]interface{}{"topics": []interface{}{"vru/int-001"}},
			wantValid:  true,
		},
		{
			name:       "mqtt缺少host",
			pluginType: PluginTypeTelemetryMQTT,
			connection: map[string]interface{}{"port": 1883},
			params:     map[string]interface{}{"topics": []interface{}{"vru/int-001"}},
			wantValid:  false,
			wantField:  "host",
		},
		{
			name:       "mqtt端口超出范围",
			pluginType: PluginTypeTelemetryMQTT,
			connection: map[string]interface{}{"host": "broker.local", "port": 70000},
			params:     map[string]interface{}{"topics": []interface{}{"vru/int-001"}},
			wantValid:  false,
			wantField:  "port",
		},
		{
			name:       "mqtt主题不是数组",
			pluginType: PluginTypeTelemetryMQTT,
			connection: map[string]interface{}{"host": "broker.local"},
			params:     map[string]interface{}{"topics": 123},
			wantValid:  false,
			wantField:  "topics",
		},
		{
			name:       "kafka完整配置",
			pluginType: PluginTypeTelemetryKafka,
			connection: map[string]interface{}{"brokers": []interface{}{"kafka:9092"}, "group_id": "safety-index"},
			params:     map[string]interface{}{"topic": "vehicle-events"},
			wantValid:  true,
		},
		{
			name:       "kafka参数配置整体缺失",
			pluginType: PluginTypeTelemetryKafka,
			connection: map[string]interface{}{"brokers": []interface{}{"kafka:9092"}, "group_id": "safety-index"},
			params:     nil,
			wantValid:  false,
			wantField:  "topic",
		},
		{
			name:       "weather必填base_url为空串",
			pluginType: PluginTypeWeatherHTTP,
			connection: map[string]interface{}{"base_url": ""},
			wantValid:  false,
			wantField:  "base_url",
		},
		{
			name:       "weather超时非数值",
			pluginType: PluginTypeWeatherHTTP,
			connection: map[string]interface{}{"base_url": "http://weather.local"},
			params:     map[string]interface{}{"timeout_seconds": "abc"},
			wantValid:  false,
			wantField:  "timeout_seconds",
		},
		{
			name:       "crash_db仅必填项",
			pluginType: PluginTypeCrashDB,
			connection: map[string]interface{}{"dsn": "postgres://localhost/crash"},
			wantValid:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definition, err := GetPluginTypeDefinition(tt.pluginType)
			if err != nil {
				t.Fatalf("获取插件类型定义失败: %v", err)
			}

			result := definition.ValidateConfig(tt.connection, tt.params)
			if result.IsValid != tt.wantValid {
				t.Errorf("校验结果不匹配: 期望 %v, 实际 %v, 错误: %v", tt.wantValid, result.IsValid, result.Errors)
			}

			if tt.wantField != "" {
				found := false
				for _, msg := range result.Errors {
					if strings.Contains(msg, tt.wantField) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("错误信息应包含字段 %s, 实际: %v", tt.wantField, result.Errors)
				}
			}
		})
	}
}

func TestSupportedPluginTypes(t *testing.T) {
	types := SupportedPluginTypes()
	if len(types) != len(PluginTypes) {
		t.Errorf("插件类型数量不匹配: 期望 %d, 实际 %d", len(PluginTypes), len(types))
	}
}
