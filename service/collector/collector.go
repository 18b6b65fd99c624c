/*
 * @module service/collector/collector
 * @description 多源采集器，并发调度启用插件的窗口采集并按（路口, 时间片）外连接合并
 * @architecture 调度器模式 - 有界并发采集，结果合并与缺列补齐
 * @documentReference dev_docs/collector_req.md
 * @stateFlow 枚举启用插件 -> 有界并发Collect -> 按模式处理失败 -> 外连接合并 -> 缺失列补默认值
 * @rules
 *   - fail_fast: 任一插件采集失败立即中止整窗，不产出部分结果
 *   - fail_soft: 失败插件跳过，其声明的特征列按默认值补齐，结果行数不受影响
 *   - 合并后每行都含全部启用插件声明的特征列
 * @dependencies context, sync, time
 * @refs service/plugin/interface.go, service/plugin/registry.go
 */

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/monitoring"
	"safety-index-service/service/plugin"
)

// 失败处理模式
const (
	ModeFailFast = "fail_fast"
	ModeFailSoft = "fail_soft"
)

// 默认并发采集上限
const defaultMaxConcurrency = 4

// Collector 多源采集器
type Collector struct {
	registry       *plugin.Registry
	metrics        *monitoring.Metrics
	maxConcurrency int
}

// NewCollector 创建采集器，metrics可为nil（测试场景）
func NewCollector(registry *plugin.Registry, metrics *monitoring.Metrics) *Collector {
	return &Collector{
		registry:       registry,
		metrics:        metrics,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// SetMaxConcurrency 设置并发采集上限
func (c *Collector) SetMaxConcurrency(n int) {
	if n > 0 {
		c.maxConcurrency = n
	}
}

// collectResult 单插件采集结果
type collectResult struct {
	pluginName string
	features   []plugin.FeatureSpec
	table      *models.ObservationTable
	err        error
}

// Collect 采集 [start, end) 窗口内所有启用插件的观测并合并
func (c *Collector) Collect(ctx context.Context, start, end time.Time, mode string) (*models.ObservationTable, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("采集窗口非法: start=%v end=%v", start, end)
	}
	if mode != ModeFailFast && mode != ModeFailSoft {
		return nil, fmt.Errorf("未知的失败处理模式: %s", mode)
	}

	plugins := c.registry.Enabled()
	if len(plugins) == 0 {
		return models.NewObservationTable(), nil
	}

	// fail_fast下任一失败即取消其余在途采集
	collectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]collectResult, len(plugins))
	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup

	for i, p := range plugins {
		wg.Add(1)
		go func(idx int, p plugin.SafetyPlugin) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			name := p.Descriptor().Name
			began := time.Now()
			table, err := p.Collect(collectCtx, start, end)
			if c.metrics != nil {
				c.metrics.CollectDuration.WithLabelValues(name).Observe(time.Since(began).Seconds())
			}

			results[idx] = collectResult{
				pluginName: name,
				features:   p.Features(),
				table:      table,
				err:        err,
			}

			if err != nil && mode == ModeFailFast {
				cancel()
			}
		}(i, p)
	}
	wg.Wait()

	return c.merge(results, mode)
}

// merge 按模式合并各插件结果
func (c *Collector) merge(results []collectResult, mode string) (*models.ObservationTable, error) {
	merged := models.NewObservationTable()
	var failedFeatures []plugin.FeatureSpec

	for _, result := range results {
		if result.err != nil {
			if c.metrics != nil {
				c.metrics.CollectFailures.WithLabelValues(result.pluginName, mode).Inc()
			}
			if mode == ModeFailFast {
				return nil, result.err
			}
			// fail_soft: 记录失败插件声明的特征，合并后统一补默认值
			slog.Warn("插件采集失败，按默认值补齐特征列",
				"plugin", result.pluginName, "error", result.err)
			failedFeatures = append(failedFeatures, result.features...)
			continue
		}
		merged.MergeFrom(result.table)
	}

	// 成功插件未覆盖的行也要补齐其特征列（外连接语义）
	for _, result := range results {
		if result.err != nil {
			continue
		}
		for _, spec := range result.features {
			merged.FillMissing(spec.Name, spec.Default)
		}
	}
	for _, spec := range failedFeatures {
		merged.FillMissing(spec.Name, spec.Default)
	}

	return merged, nil
}
