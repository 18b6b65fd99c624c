/*
 * @module service/ebayes/stabilizer_test
 * @description 经验贝叶斯稳定器单元测试，覆盖收缩公式、网格标定与降级路径
 * @architecture 单元测试
 * @documentReference dev_docs/ebayes_req.md
 * @stateFlow 构造样本 -> 标定 -> 验证λ选取与降级标记
 * @rules 收缩结果必须落在观测值与全局均值之间
 * @dependencies testing, github.com/stretchr/testify
 * @refs stabilizer.go
 */

package ebayes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShrink(t *testing.T) {
	tests := []struct {
		name     string
		y        float64
		r0       float64
		lambda   float64
		expected float64
	}{
		{name: "observation 10 pooled 2 lambda 3", y: 10, r0: 2, lambda: 3, expected: 4.0},
		{name: "zero lambda keeps observation", y: 7, r0: 2, lambda: 0, expected: 7},
		{name: "zero observation pulls toward pooled mean", y: 0, r0: 4, lambda: 1, expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Shrink(tt.y, tt.r0, tt.lambda), 1e-9)
		})
	}
}

func TestShrinkBetweenObservationAndPooledMean(t *testing.T) {
	// 收缩估计必须落在观测值与全局均值之间
	y, r0 := 12.0, 3.0
	for _, lambda := range DefaultGrid {
		result := Shrink(y, r0, lambda)
		assert.LessOrEqual(t, result, y)
		assert.GreaterOrEqual(t, result, r0)
	}
}

func TestKeyFor(t *testing.T) {
	// 2025-06-02是周一
	ts := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	key := KeyFor(ts)
	assert.Equal(t, time.Monday, key.DayOfWeek)
	assert.Equal(t, 8, key.Hour)
}

func TestCalibrateSelectsLambda(t *testing.T) {
	key := RateKey{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}

	// 训练观测与留出观测一致时，强收缩劣于弱收缩
	training := map[RateKey]float64{key: 10}
	holdout := map[RateKey]float64{key: 10}

	model, err := Calibrate("202506", training, holdout, DefaultGrid)
	assert.NoError(t, err)
	assert.False(t, model.Degraded)
	assert.Equal(t, 10.0, model.PooledMeanRate)
	// r0等于观测值时所有λ的NLL相同，严格小于才更新，选第一个候选
	assert.Equal(t, DefaultGrid[0], model.Lambda)
}

func TestCalibratePrefersShrinkageForNoisySingletons(t *testing.T) {
	// 训练期的极端高观测在留出期回落，弱收缩的NLL更差
	training := map[RateKey]float64{
		{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}:  30,
		{Entity: "int-002", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}:  1,
		{Entity: "int-003", Bin: BinKey{DayOfWeek: time.Tuesday, Hour: 9}}: 1,
	}
	holdout := map[RateKey]float64{
		{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}:  2,
		{Entity: "int-002", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}:  1,
		{Entity: "int-003", Bin: BinKey{DayOfWeek: time.Tuesday, Hour: 9}}: 1,
	}

	model, err := Calibrate("202506", training, holdout, DefaultGrid)
	assert.NoError(t, err)
	assert.False(t, model.Degraded)
	// 噪声样本下选出的λ应大于最弱候选
	assert.Greater(t, model.Lambda, DefaultGrid[0])
}

func TestCalibrateSkipsUntrainedHoldoutBins(t *testing.T) {
	shared := RateKey{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}
	unseen := RateKey{Entity: "int-009", Bin: BinKey{DayOfWeek: time.Sunday, Hour: 23}}

	// 训练与留出在共享分片上完全一致，弱收缩应胜出；
	// 训练集缺席的留出分片若被按零观测计入，极端观测会把λ推向最强收缩
	training := map[RateKey]float64{shared: 10}
	holdout := map[RateKey]float64{shared: 10, unseen: 50}

	model, err := Calibrate("202506", training, holdout, DefaultGrid)
	assert.NoError(t, err)
	assert.False(t, model.Degraded)
	assert.Equal(t, DefaultGrid[0], model.Lambda)
}

func TestCalibrateDegradedWhenNoOverlap(t *testing.T) {
	// 留出集与训练集无重叠分片时无法评估，降级为默认λ
	training := map[RateKey]float64{
		{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Monday, Hour: 8}}: 2,
	}
	holdout := map[RateKey]float64{
		{Entity: "int-002", Bin: BinKey{DayOfWeek: time.Tuesday, Hour: 9}}: 3,
	}

	model, err := Calibrate("202506", training, holdout, nil)
	assert.NoError(t, err)
	assert.True(t, model.Degraded)
	assert.Equal(t, DefaultLambda, model.Lambda)
}

func TestCalibrateDegradedPaths(t *testing.T) {
	tests := []struct {
		name     string
		training map[RateKey]float64
		holdout  map[RateKey]float64
	}{
		{name: "empty training", training: map[RateKey]float64{}, holdout: map[RateKey]float64{{Entity: "a"}: 1}},
		{name: "empty holdout", training: map[RateKey]float64{{Entity: "a"}: 1}, holdout: map[RateKey]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := Calibrate("202506", tt.training, tt.holdout, nil)
			assert.NoError(t, err)
			assert.True(t, model.Degraded)
			assert.Equal(t, DefaultLambda, model.Lambda)
		})
	}
}

func TestCalibrateEmptyPeriodKey(t *testing.T) {
	_, err := Calibrate("", nil, nil, nil)
	assert.Error(t, err)
}

func TestCalibrateDeterministic(t *testing.T) {
	training := map[RateKey]float64{
		{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Friday, Hour: 17}}: 5,
		{Entity: "int-002", Bin: BinKey{DayOfWeek: time.Friday, Hour: 18}}: 2,
	}
	holdout := map[RateKey]float64{
		{Entity: "int-001", Bin: BinKey{DayOfWeek: time.Friday, Hour: 17}}: 4,
		{Entity: "int-002", Bin: BinKey{DayOfWeek: time.Friday, Hour: 18}}: 3,
	}

	first, err := Calibrate("202506", training, holdout, DefaultGrid)
	assert.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Calibrate("202506", training, holdout, DefaultGrid)
		assert.NoError(t, err)
		assert.Equal(t, first.Lambda, again.Lambda)
	}
}
