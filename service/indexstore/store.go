/*
 * @module service/indexstore/store
 * @description 指数结果存储，负责归一化常量、指数记录与经验贝叶斯模型的持久化
 * @architecture 仓储模式 - gorm读写，常量按周期键upsert
 * @documentReference dev_docs/index_req.md
 * @stateFlow 常量/模型标定产出 -> upsert持久化 -> 在线计算只读消费
 * @rules 归一化常量按period_key唯一，重算覆盖旧值；指数记录只增不改
 * @dependencies gorm.io/gorm
 * @refs service/models/index.go, service/models/ebayes.go
 */

package indexstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safety-index-service/service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 指数结果存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建指数结果存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveConstants 保存归一化常量，同周期键覆盖
func (s *Store) SaveConstants(ctx context.Context, constants *models.NormalizationConstants) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"bounds", "sample_count", "computed_at"}),
	}).Create(constants).Error
	if err != nil {
		return fmt.Errorf("保存归一化常量失败: %w", err)
	}
	return nil
}

// LoadConstants 按周期键读取归一化常量，不存在返回nil
func (s *Store) LoadConstants(ctx context.Context, periodKey string) (*models.NormalizationConstants, error) {
	var constants models.NormalizationConstants
	err := s.db.WithContext(ctx).Where("period_key = ?", periodKey).First(&constants).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取归一化常量失败: %w", err)
	}
	return &constants, nil
}

// LatestConstants 读取最近计算的归一化常量，不存在返回nil
func (s *Store) LatestConstants(ctx context.Context) (*models.NormalizationConstants, error) {
	var constants models.NormalizationConstants
	err := s.db.WithContext(ctx).Order("computed_at DESC").First(&constants).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取归一化常量失败: %w", err)
	}
	return &constants, nil
}

// SaveRecords 批量写入指数记录
func (s *Store) SaveRecords(ctx context.Context, records []*models.SafetyIndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(records, 200).Error; err != nil {
		return fmt.Errorf("写入指数记录失败: %w", err)
	}
	return nil
}

// ListRecords 查询某路口 [start, end) 内的指数记录
func (s *Store) ListRecords(ctx context.Context, entity string, start, end time.Time) ([]*models.SafetyIndexRecord, error) {
	var records []*models.SafetyIndexRecord
	query := s.db.WithContext(ctx).
		Where("bin_start >= ? AND bin_start < ?", start.UTC(), end.UTC())
	if entity != "" {
		query = query.Where("entity = ?", entity)
	}
	if err := query.Order("entity, bin_start").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询指数记录失败: %w", err)
	}
	return records, nil
}

// LatestRecord 查询某路口最近一条指数记录，不存在返回nil
func (s *Store) LatestRecord(ctx context.Context, entity string) (*models.SafetyIndexRecord, error) {
	var record models.SafetyIndexRecord
	err := s.db.WithContext(ctx).
		Where("entity = ?", entity).
		Order("bin_start DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询指数记录失败: %w", err)
	}
	return &record, nil
}

// SaveEBModel 保存经验贝叶斯模型快照
func (s *Store) SaveEBModel(ctx context.Context, model *models.EmpiricalBayesModel) error {
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("保存收缩模型失败: %w", err)
	}
	return nil
}

// LatestEBModel 读取最近一次标定的模型快照，不存在返回nil
func (s *Store) LatestEBModel(ctx context.Context) (*models.EmpiricalBayesModel, error) {
	var model models.EmpiricalBayesModel
	err := s.db.WithContext(ctx).Order("created_at DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取收缩模型失败: %w", err)
	}
	return &model, nil
}

// ListPluginConfigs 读取全部插件配置
func (s *Store) ListPluginConfigs(ctx context.Context) ([]*models.PluginConfig, error) {
	var configs []*models.PluginConfig
	if err := s.db.WithContext(ctx).Order("name").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("读取插件配置失败: %w", err)
	}
	return configs, nil
}

// SavePluginConfig 新建插件配置
func (s *Store) SavePluginConfig(ctx context.Context, cfg *models.PluginConfig) error {
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("保存插件配置失败: %w", err)
	}
	return nil
}

// UpdatePluginConfig 更新插件配置
func (s *Store) UpdatePluginConfig(ctx context.Context, cfg *models.PluginConfig) error {
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("更新插件配置失败: %w", err)
	}
	return nil
}

// DeletePluginConfig 删除插件配置
func (s *Store) DeletePluginConfig(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.PluginConfig{})
	if result.Error != nil {
		return fmt.Errorf("删除插件配置失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("插件配置 %s 不存在", name)
	}
	return nil
}
