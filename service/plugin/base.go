/*
 * @module service/plugin/base
 * @description 插件基础实现与默认工厂，提供配置校验、状态管理和派生特征脚本执行
 * @architecture 模板方法模式 - 定义插件操作的通用流程，具体插件嵌入并重写
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 插件状态管理：构造 -> 初始化（配置校验）-> 启动 -> 运行 -> 停止
 * @rules 配置非法的插件在Init阶段失败，绝不允许带病进入采集流程
 * @dependencies github.com/traefik/yaegi, sync, context
 * @refs interface.go, service/meta/plugin.go
 */

package plugin

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"safety-index-service/service/meta"
	"safety-index-service/service/models"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// BasePlugin 插件基础实现
type BasePlugin struct {
	mu            sync.RWMutex
	pluginType    string
	isResident    bool
	cfg           *models.PluginConfig
	descriptor    models.PluginDescriptor
	isInitialized bool
	isStarted     bool
	scriptExec    *FeatureScriptExecutor
}

// NewBasePlugin 创建插件基础实例
func NewBasePlugin(pluginType string, isResident bool) *BasePlugin {
	return &BasePlugin{
		pluginType: pluginType,
		isResident: isResident,
		scriptExec: NewFeatureScriptExecutor(),
	}
}

// Init 初始化插件：校验配置并保存描述符
func (b *BasePlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg == nil {
		return &ConfigError{Plugin: "unknown", Reason: "插件配置不能为空"}
	}

	if b.isInitialized {
		return &ConfigError{Plugin: cfg.Name, Reason: "插件已经初始化"}
	}

	definition, err := meta.GetPluginTypeDefinition(b.pluginType)
	if err != nil {
		return &ConfigError{Plugin: cfg.Name, Reason: err.Error()}
	}

	result := definition.ValidateConfig(cfg.ConnectionConfig, cfg.ParamsConfig)
	if !result.IsValid {
		return &ConfigError{Plugin: cfg.Name, Field: firstErrorField(result), Reason: fmt.Sprintf("%v", result.Errors)}
	}

	if cfg.Weight < 0 || cfg.Weight > 1 {
		return &ConfigError{Plugin: cfg.Name, Field: "weight", Reason: fmt.Sprintf("权重必须在[0,1]之间: %v", cfg.Weight)}
	}

	b.cfg = cfg
	b.descriptor = cfg.Descriptor()
	b.isInitialized = true
	return nil
}

// firstErrorField 从校验结果中提取第一条错误信息作为字段提示
func firstErrorField(result *meta.ValidationResult) string {
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return ""
}

// Start 启动插件（基础实现只做状态迁移，具体插件重写）
func (b *BasePlugin) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isInitialized {
		return fmt.Errorf("插件未初始化")
	}
	if b.isStarted {
		return fmt.Errorf("插件 %s 已经启动", b.descriptor.Name)
	}

	b.isStarted = true
	return nil
}

// Stop 停止插件
func (b *BasePlugin) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isStarted {
		return nil
	}

	b.isStarted = false
	return nil
}

// HealthCheck 基础健康检查：仅依据状态机判断，具体插件可叠加连接探测
func (b *BasePlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	startTime := time.Now()
	status := &models.HealthStatus{
		CheckedAt: startTime,
		Details:   make(map[string]interface{}),
	}

	if !b.isInitialized {
		status.Healthy = false
		status.Message = "插件未初始化"
		return status
	}

	if b.isResident && !b.isStarted {
		status.Healthy = false
		status.Message = "常驻插件未启动"
		return status
	}

	status.Healthy = true
	status.Message = "插件正常"
	status.LatencyMs = time.Since(startTime).Milliseconds()
	status.Details["type"] = b.pluginType
	status.Details["resident"] = b.isResident
	return status
}

// Descriptor 返回插件描述符
func (b *BasePlugin) Descriptor() models.PluginDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.descriptor
}

// IsResident 是否为常驻插件
func (b *BasePlugin) IsResident() bool {
	return b.isResident
}

// IsStarted 检查是否已启动
func (b *BasePlugin) IsStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isStarted
}

// Config 获取插件配置（受保护方法，供具体插件使用）
func (b *BasePlugin) Config() *models.PluginConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// ApplyFeatureScript 对采集结果逐行执行派生特征脚本
// 未启用脚本时原样返回；脚本产出的特征并入该行，不覆盖已有特征
func (b *BasePlugin) ApplyFeatureScript(table *models.ObservationTable) error {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	if cfg == nil || !cfg.ScriptEnabled || cfg.FeatureScript == "" {
		return nil
	}

	for _, row := range table.Rows() {
		derived, err := b.scriptExec.Execute(cfg.FeatureScript, row.Features)
		if err != nil {
			return fmt.Errorf("派生特征脚本执行失败: %w", err)
		}
		for name, value := range derived {
			if _, exists := row.Features[name]; !exists {
				row.Features[name] = value
			}
		}
	}
	return nil
}

// FeatureScriptExecutor 派生特征脚本执行器，基于yaegi解释执行并按脚本哈希缓存
type FeatureScriptExecutor struct {
	mu    sync.RWMutex
	cache map[string]*compiledFeatureScript
}

// compiledFeatureScript 编译后的脚本，保存可执行函数
type compiledFeatureScript struct {
	fn       func(map[string]float64) (map[string]float64, error)
	compiled time.Time
}

// NewFeatureScriptExecutor 创建派生特征脚本执行器
func NewFeatureScriptExecutor() *FeatureScriptExecutor {
	return &FeatureScriptExecutor{
		cache: make(map[string]*compiledFeatureScript),
	}
}

// Execute 执行脚本（带缓存），输入为某行的原始特征，输出为派生特征
func (e *FeatureScriptExecutor) Execute(script string, features map[string]float64) (map[string]float64, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(script)))

	e.mu.RLock()
	compiled, ok := e.cache[hash]
	e.mu.RUnlock()

	if !ok {
		var err error
		compiled, err = e.compile(script)
		if err != nil {
			return nil, fmt.Errorf("脚本编译失败: %w", err)
		}

		e.mu.Lock()
		e.cache[hash] = compiled
		e.mu.Unlock()
	}

	// 传入副本，脚本不得修改原始行
	input := make(map[string]float64, len(features))
	for name, value := range features {
		input[name] = value
	}
	return compiled.fn(input)
}

// compile 编译脚本为可执行函数，脚本必须实现 Derive 函数作为入口
func (e *FeatureScriptExecutor) compile(script string) (*compiledFeatureScript, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	wrapped := fmt.Sprintf(`
package main

import (
	"math"
)

var _ = math.NaN

// 必须提供一个 Derive 函数作为入口
func Derive(features map[string]float64) (map[string]float64, error) {
%s
}
`, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("脚本编译失败: %w", err)
	}

	v, err := i.Eval("Derive")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Derive 函数: %w", err)
	}

	deriveFunc, ok := v.Interface().(func(map[string]float64) (map[string]float64, error))
	if !ok {
		return nil, fmt.Errorf("Derive 函数签名必须是 func(map[string]float64) (map[string]float64, error)")
	}

	return &compiledFeatureScript{
		fn:       deriveFunc,
		compiled: time.Now(),
	}, nil
}

// Validate 验证脚本语法（快速校验）
func (e *FeatureScriptExecutor) Validate(script string) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("加载标准库符号失败: %w", err)
	}

	wrapped := fmt.Sprintf(`
package main

import (
	"math"
)

var _ = math.NaN

func Derive(features map[string]float64) (map[string]float64, error) {
%s
}
`, script)

	_, err := i.Compile(wrapped)
	return err
}

// DefaultPluginFactory 默认插件工厂实现
type DefaultPluginFactory struct {
	mu       sync.RWMutex
	creators map[string]PluginCreator
}

// NewDefaultPluginFactory 创建默认插件工厂
func NewDefaultPluginFactory() *DefaultPluginFactory {
	return &DefaultPluginFactory{
		creators: make(map[string]PluginCreator),
	}
}

// Create 创建插件实例
func (f *DefaultPluginFactory) Create(pluginType string) (SafetyPlugin, error) {
	f.mu.RLock()
	creator, exists := f.creators[pluginType]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("不支持的插件类型: %s", pluginType)
	}

	return creator(), nil
}

// RegisterType 注册新的插件类型
func (f *DefaultPluginFactory) RegisterType(pluginType string, creator PluginCreator) error {
	if pluginType == "" {
		return fmt.Errorf("插件类型不能为空")
	}
	if creator == nil {
		return fmt.Errorf("插件创建器不能为空")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[pluginType] = creator
	return nil
}

// SupportedTypes 获取支持的插件类型列表
func (f *DefaultPluginFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for pluginType := range f.creators {
		types = append(types, pluginType)
	}
	return types
}
