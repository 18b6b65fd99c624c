/*
 * @module service/plugin/interface
 * @description 数据插件统一接口定义，声明采集、特征、健康检查等标准能力与错误类型
 * @architecture 接口隔离原则 - 定义数据插件的标准契约
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 插件生命周期：构造（配置校验）-> Init -> Start -> Collect -> Stop
 * @rules 窗口内无数据返回空表而非错误；CollectionError仅用于真实的源故障
 * @dependencies context, time
 * @refs service/models/plugin.go, base.go, registry.go
 */

package plugin

import (
	"context"
	"fmt"
	"time"

	"safety-index-service/service/models"
)

// FeatureSpec 插件贡献的特征声明，Default 为插件被跳过时的列填充值
// Default 可以是 NaN，表示"缺失"而非"零观测"
type FeatureSpec struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
}

// SafetyPlugin 数据插件统一接口
type SafetyPlugin interface {
	// Init 初始化插件：校验配置并解析连接参数，配置非法返回 *ConfigError
	Init(ctx context.Context, cfg *models.PluginConfig) error

	// Start 启动插件，常驻插件在此建立连接并开始缓冲
	Start(ctx context.Context) error

	// Stop 停止插件，关闭连接，清理资源
	Stop(ctx context.Context) error

	// Collect 采集半开窗口 [start, end) 的观测数据
	// 窗口内无数据返回空表；真实源故障返回 *CollectionError
	Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error)

	// Features 返回本插件贡献的特征列表（顺序稳定）
	Features() []FeatureSpec

	// HealthCheck 快速无副作用存活探测，任何失败以 Healthy=false 表达，不返回错误
	HealthCheck(ctx context.Context) *models.HealthStatus

	// Descriptor 返回插件描述符（含权重与启用状态）
	Descriptor() models.PluginDescriptor

	// IsResident 是否为常驻插件（需要保持连接持续缓冲）
	IsResident() bool
}

// PluginCreator 插件创建器函数类型
type PluginCreator func() SafetyPlugin

// PluginFactory 插件工厂接口
type PluginFactory interface {
	// Create 按类型创建插件实例
	Create(pluginType string) (SafetyPlugin, error)

	// RegisterType 注册新的插件类型
	RegisterType(pluginType string, creator PluginCreator) error

	// SupportedTypes 获取支持的插件类型列表
	SupportedTypes() []string
}

// ConfigError 插件配置错误，构造阶段致命
type ConfigError struct {
	Plugin string // 插件名
	Field  string // 缺失或非法的配置键，可为空
	Reason string
}

// Error 实现 error 接口
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("插件 %s 配置错误 [%s]: %s", e.Plugin, e.Field, e.Reason)
	}
	return fmt.Sprintf("插件 %s 配置错误: %s", e.Plugin, e.Reason)
}

// CollectionError 单插件采集失败，携带插件名与底层原因
type CollectionError struct {
	Plugin string
	Err    error
}

// Error 实现 error 接口
func (e *CollectionError) Error() string {
	return fmt.Sprintf("插件 %s 采集失败: %v", e.Plugin, e.Err)
}

// Unwrap 返回底层原因
func (e *CollectionError) Unwrap() error {
	return e.Err
}

// NewCollectionError 构造采集错误
func NewCollectionError(plugin string, err error) *CollectionError {
	return &CollectionError{Plugin: plugin, Err: err}
}
