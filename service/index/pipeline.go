/*
 * @module service/index/pipeline
 * @description 指数计算流水线，串联采集、归一化、经验贝叶斯修正与结果持久化
 * @architecture 流水线模式 - 窗口触发，逐行计算，批量落库
 * @documentReference dev_docs/index_req.md
 * @stateFlow 窗口采集 -> 加载常量/模型/插件份额 -> 逐行归一化与指数计算 -> 批量持久化
 * @rules
 *   - 归一化常量缺失时整窗失败，不产出未标定的指数
 *   - 收缩模型缺失时EB修正列留空，不阻塞主流程
 *   - EB修正只作用于事故暴露特征，修正后重新归一化再计算
 * @dependencies context, time
 * @refs engine.go, service/collector/collector.go, service/indexstore/store.go
 */

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/ebayes"
	"safety-index-service/service/indexstore"
	"safety-index-service/service/meta"
	"safety-index-service/service/models"
	"safety-index-service/service/monitoring"
	"safety-index-service/service/normalization"
)

// ErrConstantsMissing 归一化常量未标定
var ErrConstantsMissing = errors.New("归一化常量未标定，无法计算指数")

// 参与收缩修正的事故暴露特征
const ebAdjustedFeature = "crash_weighted_90d"

// Pipeline 指数计算流水线
type Pipeline struct {
	collector *collector.Collector
	norm      *normalization.Engine
	engine    *Engine
	store     *indexstore.Store
	metrics   *monitoring.Metrics
	binWidth  time.Duration
}

// NewPipeline 创建指数计算流水线，metrics可为nil
func NewPipeline(c *collector.Collector, norm *normalization.Engine, engine *Engine,
	store *indexstore.Store, metrics *monitoring.Metrics) *Pipeline {
	return &Pipeline{
		collector: c,
		norm:      norm,
		engine:    engine,
		store:     store,
		metrics:   metrics,
		binWidth:  models.DefaultBinWidth,
	}
}

// SharesFromConfigs 从插件配置构造综合指数份额，只取启用插件
func SharesFromConfigs(configs []*models.PluginConfig) []PluginShare {
	shares := make([]PluginShare, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		subIndex, bound := meta.SubIndexBindings[cfg.Type]
		if !bound {
			continue
		}
		shares = append(shares, PluginShare{
			Name:     cfg.Name,
			SubIndex: subIndex,
			Weight:   cfg.Weight,
		})
	}
	return shares
}

// ComputeWindow 计算 [start, end) 窗口的指数记录并持久化
func (p *Pipeline) ComputeWindow(ctx context.Context, start, end time.Time, mode string) ([]*models.SafetyIndexRecord, error) {
	table, err := p.collector.Collect(ctx, start, end, mode)
	if err != nil {
		return nil, fmt.Errorf("窗口采集失败: %w", err)
	}
	if table.Len() == 0 {
		slog.Info("采集窗口无观测数据", "start", start, "end", end)
		return nil, nil
	}

	constants, err := p.store.LatestConstants(ctx)
	if err != nil {
		return nil, err
	}
	if constants == nil {
		return nil, ErrConstantsMissing
	}

	configs, err := p.store.ListPluginConfigs(ctx)
	if err != nil {
		return nil, err
	}
	shares := SharesFromConfigs(configs)

	model, err := p.store.LatestEBModel(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*models.SafetyIndexRecord, 0, table.Len())
	for _, row := range table.Rows() {
		normalized := normalization.NormalizeRow(row.Features, constants)
		record, err := p.engine.Compute(row.Entity, row.Timestamp, p.binWidth, normalized, shares, constants.PeriodKey)
		if err != nil {
			return nil, err
		}

		if model != nil {
			p.applyEBAdjustment(record, row.Features, constants, shares, model)
		}

		records = append(records, record)
		if p.metrics != nil {
			p.metrics.IndexComputed.Inc()
			p.metrics.CombinedIndexDist.Observe(record.CombinedIndex)
		}
	}

	if err := p.store.SaveRecords(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// applyEBAdjustment 对事故暴露特征做收缩修正后重算受影响的指数列
func (p *Pipeline) applyEBAdjustment(record *models.SafetyIndexRecord, features map[string]float64,
	constants *models.NormalizationConstants, shares []PluginShare, model *models.EmpiricalBayesModel) {

	observed, exists := features[ebAdjustedFeature]
	if !exists {
		return
	}

	adjusted := make(map[string]float64, len(features))
	for name, value := range features {
		adjusted[name] = value
	}
	adjusted[ebAdjustedFeature] = ebayes.Adjust(model, observed)

	normalized := normalization.NormalizeRow(adjusted, constants)
	scores := p.engine.SubIndices(normalized)
	record.EBVehicleIndex = scores.Vehicle
	record.EBTrafficIndex = scores.Traffic

	combined, err := Combined(scores, shares)
	if err != nil {
		slog.Warn("收缩修正后综合指数不可计算", "entity", record.Entity, "error", err)
		return
	}
	record.EBCombinedIndex = &combined
}
