/*
 * @module service/normalization/engine_test
 * @description 归一化引擎单元测试，覆盖分位数计算、裁剪与边界坍缩
 * @architecture 单元测试
 * @documentReference dev_docs/index_req.md
 * @stateFlow 构造样本 -> 计算常量 -> 归一化 -> 验证边界行为
 * @rules 归一化输出必须落在[0,1]；NaN与坍缩边界输出0.5
 * @dependencies testing, github.com/stretchr/testify
 * @refs engine.go
 */

package normalization

import (
	"math"
	"testing"
	"time"

	"safety-index-service/service/models"

	"github.com/stretchr/testify/assert"
)

func testTime() time.Time {
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func TestNormalize(t *testing.T) {
	bounds := models.FeatureBounds{Method: models.NormMethodPercentile, Lower: 10, Upper: 20}

	tests := []struct {
		name     string
		value    float64
		bounds   models.FeatureBounds
		expected float64
	}{
		{name: "midpoint", value: 15, bounds: bounds, expected: 0.5},
		{name: "at lower", value: 10, bounds: bounds, expected: 0},
		{name: "at upper", value: 20, bounds: bounds, expected: 1},
		{name: "below lower clips to 0", value: 3, bounds: bounds, expected: 0},
		{name: "above upper clips to 1", value: 99, bounds: bounds, expected: 1},
		{name: "NaN maps to 0.5", value: math.NaN(), bounds: bounds, expected: 0.5},
		{name: "collapsed bounds map to 0.5", value: 42, bounds: models.FeatureBounds{Lower: 5, Upper: 5}, expected: 0.5},
		{name: "inverted bounds map to 0.5", value: 42, bounds: models.FeatureBounds{Lower: 9, Upper: 5}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Normalize(tt.value, tt.bounds), 1e-9)
		})
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}

	assert.InDelta(t, 1, percentile(sorted, 0), 1e-9)
	assert.InDelta(t, 5, percentile(sorted, 1), 1e-9)
	assert.InDelta(t, 3, percentile(sorted, 0.5), 1e-9)
	// p=0.05在[1,2]之间线性插值
	assert.InDelta(t, 1.2, percentile(sorted, 0.05), 1e-9)
	assert.InDelta(t, 7, percentile([]float64{7}, 0.95), 1e-9)
}

func TestComputeConstants(t *testing.T) {
	engine := NewEngine(nil)

	samples := map[string][]float64{
		"vru_count":        {5, 1, 3, 2, 4},
		"visibility_km":    {2, 10, 6},
		"temp_deviation_c": {math.NaN(), math.NaN()}, // 全NaN特征不产出边界
	}

	constants, err := engine.ComputeConstants("202506", samples)
	assert.NoError(t, err)
	assert.Equal(t, "202506", constants.PeriodKey)
	assert.Equal(t, 8, constants.SampleCount)

	vru, exists := constants.Bounds["vru_count"]
	assert.True(t, exists)
	assert.Equal(t, models.NormMethodPercentile, vru.Method)
	assert.InDelta(t, 1.2, vru.Lower, 1e-9)
	assert.InDelta(t, 4.8, vru.Upper, 1e-9)

	vis, exists := constants.Bounds["visibility_km"]
	assert.True(t, exists)
	assert.Equal(t, models.NormMethodMinMax, vis.Method)
	assert.InDelta(t, 2, vis.Lower, 1e-9)
	assert.InDelta(t, 10, vis.Upper, 1e-9)

	_, exists = constants.Bounds["temp_deviation_c"]
	assert.False(t, exists)
}

func TestComputeConstantsEmptyPeriodKey(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.ComputeConstants("", nil)
	assert.Error(t, err)
}

func TestNormalizeRow(t *testing.T) {
	constants := &models.NormalizationConstants{
		PeriodKey: "202506",
		Bounds: models.FeatureBoundsMap{
			"vru_count": {Method: models.NormMethodPercentile, Lower: 0, Upper: 10},
		},
	}

	result := NormalizeRow(map[string]float64{
		"vru_count":  5,
		"unknown_ft": 123, // 未标定特征输出0.5
	}, constants)

	assert.InDelta(t, 0.5, result["vru_count"], 1e-9)
	assert.InDelta(t, 0.5, result["unknown_ft"], 1e-9)
}

func TestCollectSamples(t *testing.T) {
	table := models.NewObservationTable()
	ts := models.TruncateToBin(testTime(), models.DefaultBinWidth)
	table.Upsert("int-001", ts, map[string]float64{"vru_count": 3})
	table.Upsert("int-002", ts, map[string]float64{"vru_count": 5, "speed_avg": 40})

	samples := CollectSamples(table)
	assert.Len(t, samples["vru_count"], 2)
	assert.Len(t, samples["speed_avg"], 1)
}
