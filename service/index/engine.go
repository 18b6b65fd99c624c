/*
 * @module service/index/engine
 * @description 指数计算引擎，由归一化特征计算VRU/机动车/气象子指数与综合危险指数
 * @architecture 加权合成 - 子指数为特征加权和，综合指数为插件权重的MCDM加权和
 * @documentReference dev_docs/index_req.md
 * @stateFlow 归一化行 -> 子指数计算 -> 交通子指数合成 -> 按插件权重合成综合指数
 * @rules
 *   - 子指数与综合指数范围[0,100]，分数越高越危险
 *   - 某子指数的特征在行中全部缺席时该子指数为nil，而非0
 *   - 综合指数权重只在子指数可得的插件间重归一
 *   - 反向特征（如能见度）取1-x后参与加权
 * @dependencies math, time
 * @refs service/normalization/engine.go, service/models/index.go
 */

package index

import (
	"fmt"
	"time"

	"safety-index-service/service/models"
)

// 子指数名
const (
	SubIndexVRU     = "vru"
	SubIndexVehicle = "vehicle"
	SubIndexWeather = "weather"
)

// FeatureWeight 特征在子指数中的权重，Invert为true时按1-x参与
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
	Invert  bool    `json:"invert"`
}

// Config 指数计算配置
type Config struct {
	VRU             []FeatureWeight `json:"vru"`
	Vehicle         []FeatureWeight `json:"vehicle"`
	Weather         []FeatureWeight `json:"weather"`
	TrafficVRUShare float64         `json:"traffic_vru_share"` // 交通子指数中VRU的份额
}

// DefaultConfig 内置指数计算配置
func DefaultConfig() *Config {
	return &Config{
		VRU: []FeatureWeight{
			{Feature: "vru_conflict_count", Weight: 0.5},
			{Feature: "vru_count", Weight: 0.3},
			{Feature: "crossing_time_avg", Weight: 0.2},
		},
		Vehicle: []FeatureWeight{
			{Feature: "vehicle_conflict_count", Weight: 0.3},
			{Feature: "speed_variance", Weight: 0.2},
			{Feature: "hard_brake_count", Weight: 0.2},
			{Feature: "vehicle_count", Weight: 0.1},
			{Feature: "detector_vehicle_count", Weight: 0.1},
			{Feature: "crash_weighted_90d", Weight: 0.1},
		},
		Weather: []FeatureWeight{
			{Feature: "precipitation_mm", Weight: 0.4},
			{Feature: "visibility_km", Weight: 0.3, Invert: true},
			{Feature: "wind_speed_ms", Weight: 0.2},
			{Feature: "temp_deviation_c", Weight: 0.1},
		},
		TrafficVRUShare: 0.6,
	}
}

// Engine 指数计算引擎
type Engine struct {
	cfg *Config
}

// NewEngine 创建指数计算引擎，cfg为nil时使用内置配置
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// SubIndexScores 一行的各子指数得分，nil表示该子指数的数据全部缺席
type SubIndexScores struct {
	VRU     *float64
	Vehicle *float64
	Weather *float64
	Traffic *float64
}

// Get 按子指数名取得分
func (s SubIndexScores) Get(name string) *float64 {
	switch name {
	case SubIndexVRU:
		return s.VRU
	case SubIndexVehicle:
		return s.Vehicle
	case SubIndexWeather:
		return s.Weather
	default:
		return nil
	}
}

// SubIndices 计算一行归一化特征的全部子指数
func (e *Engine) SubIndices(normalized map[string]float64) SubIndexScores {
	scores := SubIndexScores{
		VRU:     weightedScore(normalized, e.cfg.VRU),
		Vehicle: weightedScore(normalized, e.cfg.Vehicle),
		Weather: weightedScore(normalized, e.cfg.Weather),
	}
	scores.Traffic = e.trafficScore(scores)
	return scores
}

// weightedScore 特征加权和映射到[0,100]
// 行中缺席的特征不参与，权重在在场特征间重归一；全部缺席返回nil
func weightedScore(normalized map[string]float64, weights []FeatureWeight) *float64 {
	var sum, weightSum float64
	for _, fw := range weights {
		value, exists := normalized[fw.Feature]
		if !exists {
			continue
		}
		if fw.Invert {
			value = 1 - value
		}
		sum += fw.Weight * value
		weightSum += fw.Weight
	}
	if weightSum == 0 {
		return nil
	}

	score := 100 * sum / weightSum
	return &score
}

// trafficScore 由VRU与机动车子指数合成交通子指数
// 只有一方可得时交通子指数直接取该方，双方皆缺时为nil
func (e *Engine) trafficScore(scores SubIndexScores) *float64 {
	switch {
	case scores.VRU != nil && scores.Vehicle != nil:
		traffic := e.cfg.TrafficVRUShare**scores.VRU + (1-e.cfg.TrafficVRUShare)**scores.Vehicle
		return &traffic
	case scores.VRU != nil:
		v := *scores.VRU
		return &v
	case scores.Vehicle != nil:
		v := *scores.Vehicle
		return &v
	default:
		return nil
	}
}

// PluginShare 参与综合指数的插件份额
type PluginShare struct {
	Name     string
	SubIndex string // vru, vehicle, weather
	Weight   float64
}

// Combined 按插件权重合成综合指数（MCDM加权和）
// 子指数缺席的插件不参与，权重在其余插件间重归一
func Combined(scores SubIndexScores, shares []PluginShare) (float64, error) {
	var sum, weightSum float64
	for _, share := range shares {
		value := scores.Get(share.SubIndex)
		if value == nil {
			continue
		}
		sum += share.Weight * *value
		weightSum += share.Weight
	}
	if weightSum == 0 {
		return 0, fmt.Errorf("没有可参与综合指数的插件")
	}
	return sum / weightSum, nil
}

// Compute 计算一行的完整指数记录
func (e *Engine) Compute(entity string, binStart time.Time, binWidth time.Duration,
	normalized map[string]float64, shares []PluginShare, periodKey string) (*models.SafetyIndexRecord, error) {

	scores := e.SubIndices(normalized)
	combined, err := Combined(scores, shares)
	if err != nil {
		return nil, fmt.Errorf("路口 %s 时间片 %v 综合指数计算失败: %w", entity, binStart, err)
	}

	return &models.SafetyIndexRecord{
		Entity:          entity,
		BinStart:        binStart.UTC(),
		BinWidth:        int(binWidth.Seconds()),
		VRUIndex:        scores.VRU,
		VehicleIndex:    scores.Vehicle,
		WeatherIndex:    scores.Weather,
		TrafficIndex:    scores.Traffic,
		CombinedIndex:   combined,
		ConstantsPeriod: periodKey,
	}, nil
}
