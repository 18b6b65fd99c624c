/*
 * @module service/realtime/blender_test
 * @description 实时融合器单元测试，覆盖α融合、交通特征参与评分、零流量与速率不可得的区分
 * @architecture 单元测试
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow 构造速率与交通特征桩 -> 计算混合评分 -> 验证可用性语义
 * @rules 速率为0与速率不可得必须产生不同的响应结构；交通特征缺失不触发不可得
 * @dependencies testing, github.com/stretchr/testify
 * @refs blender.go
 */

package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"safety-index-service/service/models"

	"github.com/stretchr/testify/assert"
)

// stubRateSource 测试用速率来源
type stubRateSource struct {
	rate float64
	ok   bool
	err  error
}

func (s *stubRateSource) StabilizedRate(ctx context.Context, entity string, ts time.Time) (float64, bool, error) {
	return s.rate, s.ok, s.err
}

// stubTrafficSource 测试用交通特征来源
type stubTrafficSource struct {
	window *models.TrafficWindow
	err    error
}

func (s *stubTrafficSource) TrafficWindow(ctx context.Context, entity string, ts time.Time) (*models.TrafficWindow, error) {
	return s.window, s.err
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 71.0, Blend(0.7, 80, 50), 1e-9)
	assert.InDelta(t, 50.0, Blend(0, 80, 50), 1e-9)
	assert.InDelta(t, 80.0, Blend(1, 80, 50), 1e-9)
}

func TestComputeRTSIZeroWindow(t *testing.T) {
	blender := NewBlender(&stubRateSource{}, nil, nil)

	// 零速率加零流量是合法评分
	assert.InDelta(t, 0.0, blender.ComputeRTSI(0, nil), 1e-9)
	// 半饱和速率在零流量窗口下只贡献速率分量
	assert.InDelta(t, 25.0, blender.ComputeRTSI(defaultRateScale, nil), 1e-9)
	// 速率单调且有界
	assert.Less(t, blender.ComputeRTSI(100, nil), 100.0)
	assert.Greater(t, blender.ComputeRTSI(100, nil), blender.ComputeRTSI(10, nil))
	// 负速率按0处理
	assert.InDelta(t, 0.0, blender.ComputeRTSI(-3, nil), 1e-9)
}

func TestComputeRTSIUsesTrafficFeatures(t *testing.T) {
	blender := NewBlender(&stubRateSource{}, nil, nil)

	// 各分量恰在半饱和点：速率25 + 流量10 + 速度5 + 方差10
	window := &models.TrafficWindow{VehicleCount: 60, SpeedAvg: 60, SpeedVariance: 40}
	assert.InDelta(t, 50.0, blender.ComputeRTSI(defaultRateScale, window), 1e-9)

	// 同速率下繁忙窗口的评分必须高于零流量窗口
	assert.Greater(t,
		blender.ComputeRTSI(defaultRateScale, window),
		blender.ComputeRTSI(defaultRateScale, nil))

	// VRU与机动车共同计入暴露分量
	vruOnly := &models.TrafficWindow{VRUCount: 60}
	assert.InDelta(t, 35.0, blender.ComputeRTSI(defaultRateScale, vruOnly), 1e-9)

	// 零速率下交通特征仍产生非零评分
	assert.Greater(t, blender.ComputeRTSI(0, window), 0.0)
}

func TestScoreWithAvailableRate(t *testing.T) {
	traffic := &stubTrafficSource{window: &models.TrafficWindow{}}
	blender := NewBlender(&stubRateSource{rate: defaultRateScale, ok: true}, traffic, nil)

	score, err := blender.Score(context.Background(), "int-001", time.Now(), 0.3, 70)
	assert.NoError(t, err)
	assert.True(t, score.RTSIAvailable)
	assert.NotNil(t, score.RTSI)
	assert.InDelta(t, 25.0, *score.RTSI, 1e-9)
	// 0.3*25 + 0.7*70
	assert.InDelta(t, 56.5, score.Final, 1e-9)
}

func TestScoreCarriesTrafficWindow(t *testing.T) {
	window := &models.TrafficWindow{VehicleCount: 60, SpeedAvg: 60, SpeedVariance: 40}
	blender := NewBlender(
		&stubRateSource{rate: defaultRateScale, ok: true},
		&stubTrafficSource{window: window}, nil)

	score, err := blender.Score(context.Background(), "int-001", time.Now(), 0.5, 30)
	assert.NoError(t, err)
	assert.True(t, score.RTSIAvailable)
	assert.NotNil(t, score.Traffic)
	assert.InDelta(t, 50.0, *score.RTSI, 1e-9)
	assert.InDelta(t, 40.0, score.Final, 1e-9)
}

func TestScoreZeroTrafficIsNotMiss(t *testing.T) {
	// 零流量窗口速率为0时RT-SI为0，仍是可用评分，不得退化为综合指数
	traffic := &stubTrafficSource{window: &models.TrafficWindow{}}
	blender := NewBlender(&stubRateSource{rate: 0, ok: true}, traffic, nil)

	score, err := blender.Score(context.Background(), "int-001", time.Now(), 0.5, 80)
	assert.NoError(t, err)
	assert.True(t, score.RTSIAvailable)
	assert.NotNil(t, score.RTSI)
	assert.InDelta(t, 0.0, *score.RTSI, 1e-9)
	assert.InDelta(t, 40.0, score.Final, 1e-9)
}

func TestScoreTrafficErrorDoesNotFallBack(t *testing.T) {
	// 交通特征查询失败按零流量窗口计分，不触发不可得
	traffic := &stubTrafficSource{err: errors.New("collector down")}
	blender := NewBlender(&stubRateSource{rate: defaultRateScale, ok: true}, traffic, nil)

	score, err := blender.Score(context.Background(), "int-001", time.Now(), 0.3, 70)
	assert.NoError(t, err)
	assert.True(t, score.RTSIAvailable)
	assert.NotNil(t, score.RTSI)
	assert.InDelta(t, 25.0, *score.RTSI, 1e-9)
}

func TestScoreUnavailableRateFallsBack(t *testing.T) {
	blender := NewBlender(&stubRateSource{ok: false}, nil, nil)

	score, err := blender.Score(context.Background(), "int-001", time.Now(), 0.5, 80)
	assert.NoError(t, err)
	assert.False(t, score.RTSIAvailable)
	assert.Nil(t, score.RTSI)
	assert.InDelta(t, 80.0, score.Final, 1e-9)
}

func TestScoreInvalidAlpha(t *testing.T) {
	blender := NewBlender(&stubRateSource{ok: true}, nil, nil)

	_, err := blender.Score(context.Background(), "int-001", time.Now(), 1.5, 80)
	assert.Error(t, err)
	_, err = blender.Score(context.Background(), "int-001", time.Now(), -0.1, 80)
	assert.Error(t, err)
}

func TestScoreSourceError(t *testing.T) {
	blender := NewBlender(&stubRateSource{err: errors.New("db down")}, nil, nil)

	_, err := blender.Score(context.Background(), "int-001", time.Now(), 0.3, 80)
	assert.Error(t, err)
}
