/*
 * @module service/realtime/rate_cache
 * @description 稳定速率缓存源，在事故存储聚合之上叠加redis缓存与经验贝叶斯收缩
 * @architecture 装饰器模式 - 缓存未命中时回源聚合并回填
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow 查缓存 -> 未命中则聚合历史事故率 -> 收缩估计 -> 回填缓存
 * @rules 无标定模型时速率不可得（ok=false）；缓存键按（路口, 周内分片）划分
 * @dependencies github.com/go-redis/redis/v8
 * @refs blender.go, service/crashstore/store.go, service/ebayes/stabilizer.go
 */

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"safety-index-service/service/crashstore"
	"safety-index-service/service/ebayes"
	"safety-index-service/service/models"

	"github.com/go-redis/redis/v8"
)

const (
	rateCacheKeyPrefix = "safety_index:rate"
	defaultCacheTTL    = 30 * time.Minute
	defaultLookback    = 90 * 24 * time.Hour
)

// CachedRateSource 带缓存的稳定速率来源
type CachedRateSource struct {
	store    *crashstore.Store
	redis    *redis.Client
	ttl      time.Duration
	lookback time.Duration

	mu    sync.RWMutex
	model *models.EmpiricalBayesModel
}

// NewCachedRateSource 创建速率来源，redisClient可为nil（直接回源）
func NewCachedRateSource(store *crashstore.Store, redisClient *redis.Client) *CachedRateSource {
	return &CachedRateSource{
		store:    store,
		redis:    redisClient,
		ttl:      defaultCacheTTL,
		lookback: defaultLookback,
	}
}

// SetModel 更新收缩模型，标定任务完成后调用
func (s *CachedRateSource) SetModel(model *models.EmpiricalBayesModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Model 当前收缩模型
func (s *CachedRateSource) Model() *models.EmpiricalBayesModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// cacheKey 缓存键：路口 + 周内分片
func cacheKey(entity string, bin ebayes.BinKey) string {
	return fmt.Sprintf("%s:%s:%d:%d", rateCacheKeyPrefix, entity, int(bin.DayOfWeek), bin.Hour)
}

// StabilizedRate 查询某路口某时刻所属周内分片的稳定事故速率
// 无标定模型时返回ok=false；分片无历史事故时返回收缩后的数值而非不可得
func (s *CachedRateSource) StabilizedRate(ctx context.Context, entity string, ts time.Time) (float64, bool, error) {
	model := s.Model()
	if model == nil {
		return 0, false, nil
	}

	bin := ebayes.KeyFor(ts)
	key := cacheKey(entity, bin)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, key).Result()
		if err == nil {
			rate, parseErr := strconv.ParseFloat(cached, 64)
			if parseErr == nil {
				return rate, true, nil
			}
		} else if err != redis.Nil {
			slog.Warn("读取速率缓存失败", "key", key, "error", err)
		}
	}

	end := ts.UTC()
	rates, err := s.store.WeightedRates(ctx, end.Add(-s.lookback), end)
	if err != nil {
		return 0, false, err
	}

	observed := rates[ebayes.RateKey{Entity: entity, Bin: bin}] // 无事故分片按0观测收缩
	rate := ebayes.Adjust(model, observed)

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, strconv.FormatFloat(rate, 'f', -1, 64), s.ttl).Err(); err != nil {
			slog.Warn("回填速率缓存失败", "key", key, "error", err)
		}
	}

	return rate, true, nil
}

// Invalidate 清除某路口的全部速率缓存，模型更新后调用
func (s *CachedRateSource) Invalidate(ctx context.Context, entity string) error {
	if s.redis == nil {
		return nil
	}

	pattern := fmt.Sprintf("%s:%s:*", rateCacheKeyPrefix, entity)
	keys, err := s.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("扫描速率缓存失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("清除速率缓存失败: %w", err)
	}
	return nil
}
