/*
 * @module service/normalization/engine
 * @description 归一化引擎，按特征策略计算界常量并将原始特征映射到[0,1]
 * @architecture 策略表驱动 - 每个特征声明使用分位数还是最小最大法
 * @documentReference dev_docs/index_req.md
 * @stateFlow 历史样本 -> 按策略计算界常量 -> 持久化 -> 在线归一化引用常量
 * @rules
 *   - 归一化结果裁剪到[0,1]
 *   - 上下界坍缩（upper<=lower）时输出0.5，代表无区分度
 *   - NaN输入输出0.5，缺失不制造极端分数
 * @dependencies math, sort
 * @refs service/models/index.go
 */

package normalization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"safety-index-service/service/models"
)

// FeaturePolicy 单特征的归一化策略
type FeaturePolicy struct {
	Method          string  // percentile, minmax
	LowerPercentile float64 // percentile法的下分位
	UpperPercentile float64 // percentile法的上分位
}

// DefaultPolicies 内置特征策略表
// 计数与冲突类特征受长尾影响，使用p5/p95分位界；物理量程特征使用最小最大法
var DefaultPolicies = map[string]FeaturePolicy{
	"vru_count":              {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"vru_conflict_count":     {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"crossing_time_avg":      {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"vehicle_count":          {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"speed_avg":              {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"speed_variance":         {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"hard_brake_count":       {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"vehicle_conflict_count": {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"detector_vehicle_count": {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"detector_occupancy":     {Method: models.NormMethodMinMax},
	"crash_weighted_90d":     {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"crash_count_90d":        {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"precipitation_mm":       {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"visibility_km":          {Method: models.NormMethodMinMax},
	"wind_speed_ms":          {Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95},
	"temp_deviation_c":       {Method: models.NormMethodMinMax},
}

// Engine 归一化引擎
type Engine struct {
	policies map[string]FeaturePolicy
}

// NewEngine 创建归一化引擎，policies为nil时使用内置策略表
func NewEngine(policies map[string]FeaturePolicy) *Engine {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &Engine{policies: policies}
}

// ComputeConstants 从历史观测样本计算界常量
// samples为按特征分组的原始值，NaN样本在计算前剔除
func (e *Engine) ComputeConstants(periodKey string, samples map[string][]float64) (*models.NormalizationConstants, error) {
	if periodKey == "" {
		return nil, fmt.Errorf("常量周期标识不能为空")
	}

	bounds := make(models.FeatureBoundsMap, len(samples))
	total := 0

	for feature, values := range samples {
		clean := make([]float64, 0, len(values))
		for _, v := range values {
			if !math.IsNaN(v) {
				clean = append(clean, v)
			}
		}
		if len(clean) == 0 {
			continue
		}
		total += len(clean)

		policy, exists := e.policies[feature]
		if !exists {
			policy = FeaturePolicy{Method: models.NormMethodPercentile, LowerPercentile: 0.05, UpperPercentile: 0.95}
		}

		sort.Float64s(clean)
		var lower, upper float64
		switch policy.Method {
		case models.NormMethodMinMax:
			lower = clean[0]
			upper = clean[len(clean)-1]
		default:
			lower = percentile(clean, policy.LowerPercentile)
			upper = percentile(clean, policy.UpperPercentile)
		}

		bounds[feature] = models.FeatureBounds{
			Method: policy.Method,
			Lower:  lower,
			Upper:  upper,
		}
	}

	return &models.NormalizationConstants{
		PeriodKey:   periodKey,
		Bounds:      bounds,
		SampleCount: total,
		ComputedAt:  time.Now().UTC(),
	}, nil
}

// percentile 线性插值分位数，输入必须已排序且非空
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	low := int(math.Floor(pos))
	high := int(math.Ceil(pos))
	if low == high {
		return sorted[low]
	}
	frac := pos - float64(low)
	return sorted[low]*(1-frac) + sorted[high]*frac
}

// Normalize 将单个原始值按界常量映射到[0,1]
func Normalize(value float64, bounds models.FeatureBounds) float64 {
	if math.IsNaN(value) {
		return 0.5
	}
	if bounds.Upper <= bounds.Lower {
		// 界坍缩，特征无区分度
		return 0.5
	}

	scaled := (value - bounds.Lower) / (bounds.Upper - bounds.Lower)
	if scaled < 0 {
		return 0
	}
	if scaled > 1 {
		return 1
	}
	return scaled
}

// NormalizeRow 归一化一行观测的全部特征
// 无界常量的特征输出0.5，避免未标定特征制造极端分数
func NormalizeRow(features map[string]float64, constants *models.NormalizationConstants) map[string]float64 {
	result := make(map[string]float64, len(features))
	for name, value := range features {
		bounds, exists := constants.Bounds[name]
		if !exists {
			result[name] = 0.5
			continue
		}
		result[name] = Normalize(value, bounds)
	}
	return result
}

// CollectSamples 从观测表抽取按特征分组的样本，供常量计算使用
func CollectSamples(table *models.ObservationTable) map[string][]float64 {
	samples := make(map[string][]float64)
	for _, row := range table.Rows() {
		for name, value := range row.Features {
			samples[name] = append(samples[name], value)
		}
	}
	return samples
}
