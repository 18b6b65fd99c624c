/*
 * @module service/crashstore/store
 * @description 历史事故存储，提供事故记录读写与按（路口, 周内时间分片）的加权事故率聚合
 * @architecture 仓储模式 - gorm读写，分片聚合在Go侧完成以保持数据库无关
 * @documentReference dev_docs/ebayes_req.md
 * @stateFlow 事故记录入库 -> 按窗口读取 -> 周内分片聚合 -> 供标定与实时速率查询
 * @rules 加权事故率 = 严重度加权事故数 / 窗口覆盖的周数；窗口不足一周按一周计
 * @dependencies gorm.io/gorm
 * @refs service/models/ebayes.go, service/ebayes/stabilizer.go
 */

package crashstore

import (
	"context"
	"fmt"
	"time"

	"safety-index-service/service/ebayes"
	"safety-index-service/service/models"

	"gorm.io/gorm"
)

// Store 历史事故存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建历史事故存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert 写入一批事故记录
func (s *Store) Insert(ctx context.Context, records []*models.CrashRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(records).Error; err != nil {
		return fmt.Errorf("写入事故记录失败: %w", err)
	}
	return nil
}

// ListWindow 读取 [start, end) 内的事故记录
func (s *Store) ListWindow(ctx context.Context, start, end time.Time) ([]*models.CrashRecord, error) {
	var records []*models.CrashRecord
	err := s.db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", start.UTC(), end.UTC()).
		Order("occurred_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("读取事故记录失败: %w", err)
	}
	return records, nil
}

// WeightedRates 计算 [start, end) 内按（路口, 周内时间分片）的加权事故率
func (s *Store) WeightedRates(ctx context.Context, start, end time.Time) (map[ebayes.RateKey]float64, error) {
	records, err := s.ListWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}

	weeks := windowWeeks(start, end)
	rates := make(map[ebayes.RateKey]float64)
	for _, record := range records {
		key := ebayes.RateKey{
			Entity: record.Entity,
			Bin:    ebayes.KeyFor(record.OccurredAt),
		}
		rates[key] += models.SeverityWeight(record.Severity) / weeks
	}
	return rates, nil
}

// RawCounts 计算 [start, end) 内按（路口, 周内时间分片）的未加权事故数
func (s *Store) RawCounts(ctx context.Context, start, end time.Time) (map[ebayes.RateKey]float64, error) {
	records, err := s.ListWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}

	counts := make(map[ebayes.RateKey]float64)
	for _, record := range records {
		key := ebayes.RateKey{
			Entity: record.Entity,
			Bin:    ebayes.KeyFor(record.OccurredAt),
		}
		counts[key]++
	}
	return counts, nil
}

// windowWeeks 窗口覆盖的周数，不足一周按一周计
func windowWeeks(start, end time.Time) float64 {
	weeks := end.Sub(start).Hours() / (24 * 7)
	if weeks < 1 {
		return 1
	}
	return weeks
}
