/*
 * @module service/ebayes/stabilizer
 * @description 经验贝叶斯稳定器，将稀疏事故率向全局均值收缩，并通过网格搜索标定收缩强度
 * @architecture 收缩估计 - r̂=(Y+λr0)/(1+λ)，λ由留出集上的泊松负对数似然选取
 * @documentReference dev_docs/ebayes_req.md
 * @stateFlow 历史事故率分片 -> 训练/留出划分 -> 网格搜索λ -> 模型持久化 -> 在线收缩
 * @rules
 *   - 留出集或训练集为空、或两侧无重叠分片时进入降级模式，λ取默认值并打Degraded标记
 *   - 训练集中缺席的留出分片无预测可言，跳过不计，不按零观测收缩
 *   - 网格搜索按声明顺序遍历，严格小于才更新最优，结果确定
 *   - NLL计算加ε防止log(0)
 * @dependencies math, time
 * @refs service/models/ebayes.go, service/crashstore/store.go
 */

package ebayes

import (
	"fmt"
	"math"
	"time"

	"safety-index-service/service/models"
)

const (
	// DefaultLambda 降级模式下的收缩强度
	DefaultLambda = 10.0
	// Epsilon 防止log(0)的平滑项
	Epsilon = 1e-9
)

// DefaultGrid 收缩强度候选网格
var DefaultGrid = []float64{0.5, 1, 2, 5, 10, 20, 50, 100}

// BinKey 时间分片主键：星期几 + 小时
type BinKey struct {
	DayOfWeek time.Weekday
	Hour      int
}

// KeyFor 计算时间戳所属的时间分片
func KeyFor(ts time.Time) BinKey {
	utc := ts.UTC()
	return BinKey{DayOfWeek: utc.Weekday(), Hour: utc.Hour()}
}

// RateKey 事故率样本主键：路口 + 时间分片
type RateKey struct {
	Entity string
	Bin    BinKey
}

// Shrink 收缩估计 r̂=(Y+λr0)/(1+λ)
func Shrink(y, r0, lambda float64) float64 {
	return (y + lambda*r0) / (1 + lambda)
}

// poissonNLL 单样本泊松负对数似然（去掉与参数无关的常数项）
func poissonNLL(rate, observed float64) float64 {
	return rate - observed*math.Log(rate+Epsilon)
}

// Calibrate 网格搜索收缩强度λ
// training/holdout为按（路口, 时间分片）键控的加权事故率；
// holdout中每个键用training对应键的观测做收缩估计，training缺席的键无法给出
// 预测，跳过不计入NLL。任一侧为空或两侧无重叠键时降级为DefaultLambda。
func Calibrate(periodKey string, training, holdout map[RateKey]float64, grid []float64) (*models.EmpiricalBayesModel, error) {
	if periodKey == "" {
		return nil, fmt.Errorf("模型周期标识不能为空")
	}
	if len(grid) == 0 {
		grid = DefaultGrid
	}

	model := &models.EmpiricalBayesModel{
		PeriodKey:     periodKey,
		TrainingBins:  len(training),
		TestBins:      len(holdout),
		CandidateGrid: gridStrings(grid),
	}

	if len(training) == 0 || len(holdout) == 0 {
		model.Lambda = DefaultLambda
		model.PooledMeanRate = pooledMean(training)
		model.Degraded = true
		return model, nil
	}

	r0 := pooledMean(training)
	model.PooledMeanRate = r0

	scored := 0
	for key := range holdout {
		if _, seen := training[key]; seen {
			scored++
		}
	}
	if scored == 0 {
		// 留出集与训练集无重叠分片，无法评估任何候选λ
		model.Lambda = DefaultLambda
		model.Degraded = true
		return model, nil
	}

	bestLambda := grid[0]
	bestNLL := math.Inf(1)
	for _, lambda := range grid {
		var total float64
		for key, observed := range holdout {
			trained, seen := training[key]
			if !seen {
				continue
			}
			rate := Shrink(trained, r0, lambda)
			total += poissonNLL(rate, observed)
		}
		mean := total / float64(scored)
		if mean < bestNLL {
			bestNLL = mean
			bestLambda = lambda
		}
	}

	model.Lambda = bestLambda
	return model, nil
}

// pooledMean 训练样本的全局均值率
func pooledMean(training map[RateKey]float64) float64 {
	if len(training) == 0 {
		return 0
	}
	var sum float64
	for _, rate := range training {
		sum += rate
	}
	return sum / float64(len(training))
}

// gridStrings 候选网格转字符串数组以便jsonb持久化
func gridStrings(grid []float64) models.JSONBStringArray {
	result := make(models.JSONBStringArray, 0, len(grid))
	for _, lambda := range grid {
		result = append(result, fmt.Sprintf("%g", lambda))
	}
	return result
}

// Adjust 按模型对单个观测率做收缩估计
func Adjust(model *models.EmpiricalBayesModel, observed float64) float64 {
	return Shrink(observed, model.PooledMeanRate, model.Lambda)
}

// AdjustFeature 对观测表中的指定特征逐行收缩，原地修改
// 特征缺席或为NaN的行跳过
func AdjustFeature(table *models.ObservationTable, feature string, model *models.EmpiricalBayesModel) {
	if model == nil {
		return
	}
	for _, row := range table.Rows() {
		value, exists := row.Features[feature]
		if !exists || math.IsNaN(value) {
			continue
		}
		row.Features[feature] = Adjust(model, value)
	}
}
