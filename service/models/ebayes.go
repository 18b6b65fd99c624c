/*
 * @module service/models/ebayes
 * @description 经验贝叶斯模型与历史事故记录模型定义
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/model.md
 * @stateFlow 历史事故记录入库 -> 标定任务训练模型 -> 模型快照只读消费
 * @rules 模型每次标定产生一份快照；降级标定（无训练数据）必须打标
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/ebayes, service/crashstore
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 事故严重程度
const (
	CrashSeverityFatal  = "fatal"  // 致死
	CrashSeverityInjury = "injury" // 致伤
	CrashSeverityPDO    = "pdo"    // 仅财产损失
)

// SeverityWeight 事故严重程度的加权系数，未知严重度按财损事故计
func SeverityWeight(severity string) float64 {
	switch severity {
	case CrashSeverityFatal:
		return 10
	case CrashSeverityInjury:
		return 3
	default:
		return 1
	}
}

// CrashRecord 历史事故记录
type CrashRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Entity     string    `json:"entity" gorm:"not null;size:255;index:idx_crash_entity_time"`
	OccurredAt time.Time `json:"occurred_at" gorm:"not null;index:idx_crash_entity_time"`
	Severity   string    `json:"severity" gorm:"not null;size:20"` // fatal, injury, pdo
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *CrashRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// EmpiricalBayesModel 经验贝叶斯模型快照
// 一次标定运行产生一条记录，之后只读
type EmpiricalBayesModel struct {
	ID             string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PeriodKey      string           `json:"period_key" gorm:"not null;size:64;index"`
	PooledMeanRate float64          `json:"pooled_mean_rate" gorm:"not null"` // r0
	Lambda         float64          `json:"lambda" gorm:"not null"`           // 选定的收缩强度
	TrainingBins   int              `json:"training_bins" gorm:"not null"`
	TestBins       int              `json:"test_bins" gorm:"not null"`
	Degraded       bool             `json:"degraded" gorm:"not null;default:false"` // 训练集为空时使用默认λ并打标
	CandidateGrid  JSONBStringArray `json:"candidate_grid" gorm:"type:jsonb"`
	CreatedAt      time.Time        `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (m *EmpiricalBayesModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
