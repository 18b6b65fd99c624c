/*
 * @module service/plugin/registry
 * @description 插件注册表，持有已配置的插件实例，提供查询与批量健康检查
 * @architecture 注册表模式 - 显式实例，由启动流程构造后注入调用方，不提供进程级单例
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 注册（配置校验+初始化）-> 常驻插件启动 -> 并发健康探测 -> 停止清理
 * @rules 单个插件的探测失败或超时绝不中断整批健康检查；插件表读多写少
 * @dependencies context, sync, time
 * @refs interface.go, base.go
 */

package plugin

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"safety-index-service/service/models"
)

// 默认单个插件健康探测超时，探测目标应远快于此上限
const defaultHealthCheckTimeout = 5 * time.Second

// Registry 插件注册表
type Registry struct {
	mu                 sync.RWMutex
	plugins            map[string]SafetyPlugin
	factory            PluginFactory
	logger             *log.Logger
	healthCheckTimeout time.Duration
}

// NewRegistry 创建插件注册表
func NewRegistry(factory PluginFactory) *Registry {
	return &Registry{
		plugins:            make(map[string]SafetyPlugin),
		factory:            factory,
		logger:             log.Default(),
		healthCheckTimeout: defaultHealthCheckTimeout,
	}
}

// RegisterBuiltinTypes 向工厂注册内置插件类型
func RegisterBuiltinTypes(factory PluginFactory) error {
	builtins := map[string]PluginCreator{
		"telemetry_mqtt":    NewMQTTTelemetryPlugin,
		"telemetry_kafka":   NewKafkaTelemetryPlugin,
		"weather_http":      NewWeatherHTTPPlugin,
		"detector_backfill": NewDetectorBackfillPlugin,
		"crash_db":          NewCrashDBPlugin,
	}

	for pluginType, creator := range builtins {
		if err := factory.RegisterType(pluginType, creator); err != nil {
			return fmt.Errorf("注册插件类型 %s 失败: %w", pluginType, err)
		}
	}
	return nil
}

// Register 按配置创建并注册插件实例
// 配置非法的插件在此处失败（ConfigError），不会进入注册表
func (r *Registry) Register(ctx context.Context, cfg *models.PluginConfig) error {
	if cfg == nil {
		return fmt.Errorf("插件配置不能为空")
	}
	if cfg.Name == "" {
		return fmt.Errorf("插件名不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[cfg.Name]; exists {
		return fmt.Errorf("插件 %s 已存在", cfg.Name)
	}

	instance, err := r.factory.Create(cfg.Type)
	if err != nil {
		return fmt.Errorf("创建插件实例失败: %w", err)
	}

	if err := instance.Init(ctx, cfg); err != nil {
		return err
	}

	// 常驻插件注册即启动；启动失败的插件仍保留在表中，由健康检查暴露状态
	if instance.IsResident() && cfg.Enabled {
		if err := instance.Start(ctx); err != nil {
			r.logger.Printf("常驻插件 %s 启动失败: %v", cfg.Name, err)
		}
	}

	r.plugins[cfg.Name] = instance
	r.logger.Printf("插件 %s (%s) 注册成功", cfg.Name, cfg.Type)
	return nil
}

// Get 按名称查找插件
func (r *Registry) Get(name string) (SafetyPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, exists := r.plugins[name]
	if !exists {
		return nil, fmt.Errorf("插件 %s 不存在", name)
	}
	return instance, nil
}

// List 返回按名称排序的所有插件
func (r *Registry) List() []SafetyPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]SafetyPlugin, 0, len(names))
	for _, name := range names {
		result = append(result, r.plugins[name])
	}
	return result
}

// Enabled 返回按名称排序的所有启用插件
func (r *Registry) Enabled() []SafetyPlugin {
	all := r.List()
	result := make([]SafetyPlugin, 0, len(all))
	for _, instance := range all {
		if instance.Descriptor().Enabled {
			result = append(result, instance)
		}
	}
	return result
}

// HealthCheckAll 并发对所有插件执行健康检查
// 每个探测有独立超时；单个插件的失败或挂起不影响其余插件
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]*models.HealthStatus {
	plugins := r.List()

	results := make(map[string]*models.HealthStatus, len(plugins))
	var wg sync.WaitGroup
	var resultMu sync.Mutex

	for _, instance := range plugins {
		wg.Add(1)
		go func(p SafetyPlugin) {
			defer wg.Done()

			name := p.Descriptor().Name
			status := r.checkWithTimeout(ctx, p)

			resultMu.Lock()
			results[name] = status
			resultMu.Unlock()
		}(instance)
	}

	wg.Wait()
	return results
}

// checkWithTimeout 带超时执行单个插件的健康探测
func (r *Registry) checkWithTimeout(ctx context.Context, p SafetyPlugin) *models.HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, r.healthCheckTimeout)
	defer cancel()

	done := make(chan *models.HealthStatus, 1)
	go func() {
		done <- p.HealthCheck(probeCtx)
	}()

	select {
	case status := <-done:
		return status
	case <-probeCtx.Done():
		return &models.HealthStatus{
			Healthy:   false,
			Message:   fmt.Sprintf("健康检查超时: %v", r.healthCheckTimeout),
			CheckedAt: time.Now(),
		}
	}
}

// Metadata 批量导出插件描述符，用于调试与前端展示
func (r *Registry) Metadata() []models.PluginDescriptor {
	plugins := r.List()
	result := make([]models.PluginDescriptor, 0, len(plugins))
	for _, instance := range plugins {
		result = append(result, instance.Descriptor())
	}
	return result
}

// StopAll 停止所有插件
func (r *Registry) StopAll(ctx context.Context) error {
	plugins := r.List()

	var errs []string
	for _, instance := range plugins {
		if err := instance.Stop(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("停止插件 %s 失败: %v", instance.Descriptor().Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("停止部分插件失败: %v", errs)
	}
	return nil
}

// Remove 移除插件实例并停止
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	instance, exists := r.plugins[name]
	if exists {
		delete(r.plugins, name)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("插件 %s 不存在", name)
	}

	if err := instance.Stop(ctx); err != nil {
		r.logger.Printf("停止插件 %s 时发生错误: %v", name, err)
	}
	return nil
}
