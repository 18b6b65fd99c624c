/*
 * @module service/realtime/blender
 * @description 实时融合器，将短时稳定事故率与当前时间片交通特征融合为RT-SI评分，再与长期综合指数加权融合
 * @architecture 组合模式 - 速率来源与交通特征来源抽象为接口，融合逻辑为纯函数
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow 查询稳定速率 -> 查询当前片交通特征 -> 各分量饱和变换加权为RT-SI -> 与综合指数按α融合
 * @rules
 *   - RT-SI为0是合法评分（零流量时段），与"查不到速率"严格区分
 *   - 不可得（RTSI为nil）只由历史速率查不到触发；交通特征缺失按零流量窗口计分
 *   - 速率不可得时Final退化为综合指数
 *   - α取值[0,1]，越大越偏向实时信号
 * @dependencies context, time
 * @refs service/models/index.go, rate_cache.go, traffic.go
 */

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/monitoring"
)

// DefaultAlpha 默认实时权重
const DefaultAlpha = 0.3

// RT-SI各分量的半饱和尺度
const (
	defaultRateScale     = 5.0  // 稳定事故速率
	defaultVolumeScale   = 60.0 // 车流量+VRU（个/片）
	defaultSpeedScale    = 60.0 // 平均速度（km/h）
	defaultVarianceScale = 40.0 // 速度方差（(km/h)^2）
)

// RT-SI各分量权重，合计为1
const (
	rateWeight     = 0.5
	volumeWeight   = 0.2
	speedWeight    = 0.1
	varianceWeight = 0.2
)

// RateSource 稳定事故速率来源
// ok为false表示该（路口, 时段）查不到可用速率，与速率为0不同
type RateSource interface {
	StabilizedRate(ctx context.Context, entity string, ts time.Time) (rate float64, ok bool, err error)
}

// TrafficSource 当前时间片的短时交通特征来源
type TrafficSource interface {
	TrafficWindow(ctx context.Context, entity string, ts time.Time) (*models.TrafficWindow, error)
}

// Blender 实时融合器
type Blender struct {
	source  RateSource
	traffic TrafficSource
	metrics *monitoring.Metrics
}

// NewBlender 创建实时融合器
// traffic为nil时按零流量窗口计分（无采集链路的测试场景）；metrics可为nil
func NewBlender(source RateSource, traffic TrafficSource, metrics *monitoring.Metrics) *Blender {
	return &Blender{
		source:  source,
		traffic: traffic,
		metrics: metrics,
	}
}

// saturate 饱和变换 x/(x+scale)，值域[0,1)，负值按0处理
func saturate(x, scale float64) float64 {
	if x < 0 {
		x = 0
	}
	return x / (x + scale)
}

// ComputeRTSI 稳定速率与短时交通特征融合为RT-SI评分，值域[0,100)
// 零速率加全零交通窗口时评分为0，这是合法输出；traffic为nil按零流量窗口计
func (b *Blender) ComputeRTSI(rate float64, traffic *models.TrafficWindow) float64 {
	if traffic == nil {
		traffic = &models.TrafficWindow{}
	}
	score := rateWeight*saturate(rate, defaultRateScale) +
		volumeWeight*saturate(traffic.VehicleCount+traffic.VRUCount, defaultVolumeScale) +
		speedWeight*saturate(traffic.SpeedAvg, defaultSpeedScale) +
		varianceWeight*saturate(traffic.SpeedVariance, defaultVarianceScale)
	return 100 * score
}

// Blend α加权融合，纯函数
func Blend(alpha, rtsi, combined float64) float64 {
	return alpha*rtsi + (1-alpha)*combined
}

// liveTraffic 获取ts所属时间片的交通特征
// 来源缺失或查询失败不构成评分不可得，按零流量窗口计
func (b *Blender) liveTraffic(ctx context.Context, entity string, ts time.Time) *models.TrafficWindow {
	if b.traffic == nil {
		return &models.TrafficWindow{}
	}
	window, err := b.traffic.TrafficWindow(ctx, entity, ts)
	if err != nil {
		slog.Warn("查询短时交通特征失败，按零流量窗口计分", "entity", entity, "error", err)
		return &models.TrafficWindow{}
	}
	if window == nil {
		return &models.TrafficWindow{}
	}
	return window
}

// Score 计算某路口某时刻的混合评分
func (b *Blender) Score(ctx context.Context, entity string, ts time.Time, alpha, combined float64) (*models.BlendedScore, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("实时权重α必须在[0,1]之间: %v", alpha)
	}

	result := &models.BlendedScore{
		Entity:        entity,
		Timestamp:     ts.UTC(),
		Alpha:         alpha,
		CombinedIndex: combined,
	}

	rate, ok, err := b.source.StabilizedRate(ctx, entity, ts)
	if err != nil {
		return nil, fmt.Errorf("查询稳定速率失败: %w", err)
	}

	if !ok {
		// 速率不可得，退化为长期综合指数
		result.RTSIAvailable = false
		result.Final = combined
		if b.metrics != nil {
			b.metrics.BlendRequests.WithLabelValues("miss").Inc()
		}
		return result, nil
	}

	traffic := b.liveTraffic(ctx, entity, ts)
	rtsi := b.ComputeRTSI(rate, traffic)
	result.RTSI = &rtsi
	result.RTSIAvailable = true
	result.Traffic = traffic
	result.Final = Blend(alpha, rtsi, combined)
	if b.metrics != nil {
		b.metrics.BlendRequests.WithLabelValues("hit").Inc()
	}
	return result, nil
}
