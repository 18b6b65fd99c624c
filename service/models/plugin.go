/*
 * @module service/models/plugin
 * @description 数据插件相关模型定义，包括插件配置、插件描述符、健康状态和观测数据表
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/model.md
 * @stateFlow 插件配置持久化 -> 插件实例化 -> 采集观测数据
 * @rules 插件描述符构造后不可变；观测数据以（路口, 时间片）为主键合并
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/plugin/interface.go
 */

package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PluginConfig 插件配置模型，持久化每个数据源插件的静态配置
type PluginConfig struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name             string    `json:"name" gorm:"not null;unique;size:255" example:"vru_telemetry"`
	Type             string    `json:"type" gorm:"not null;size:50"` // telemetry_mqtt, telemetry_kafka, weather_http, detector_backfill, crash_db
	Version          string    `json:"version" gorm:"not null;default:'1.0.0';size:20"`
	Description      string    `json:"description" gorm:"size:1000"`
	Author           string    `json:"author" gorm:"not null;default:'system';size:100"`
	Enabled          bool      `json:"enabled" gorm:"not null;default:true"`
	Weight           float64   `json:"weight" gorm:"not null;default:0"` // 在综合指数中的权重份额 [0,1]
	ConnectionConfig JSONB     `json:"connection_config" gorm:"type:jsonb;not null"`
	ParamsConfig     JSONB     `json:"params_config" gorm:"type:jsonb"`
	FeatureScript    string    `json:"feature_script" gorm:"type:text"` // 派生特征脚本，按时间片行计算附加特征
	ScriptEnabled    bool      `json:"script_enabled" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (p *PluginConfig) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Descriptor 从配置构造插件描述符
func (p *PluginConfig) Descriptor() PluginDescriptor {
	return PluginDescriptor{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Author:      p.Author,
		Enabled:     p.Enabled,
		Weight:      p.Weight,
	}
}

// PluginDescriptor 插件描述符，构造后只读
type PluginDescriptor struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Description string  `json:"description"`
	Author      string  `json:"author"`
	Enabled     bool    `json:"enabled"`
	Weight      float64 `json:"weight"`
}

// HealthStatus 插件健康状态，每次探测即时生成，不持久化
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Observation 一条观测记录：某路口在某时间片上的原始特征值集合
type Observation struct {
	Entity    string             `json:"entity"` // 路口ID
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

// ObservationKey 观测行主键
type ObservationKey struct {
	Entity    string
	Timestamp time.Time
}

// ObservationTable 观测数据表，按（路口, 时间片）索引
type ObservationTable struct {
	rows  map[ObservationKey]*Observation
	order []ObservationKey
}

// NewObservationTable 创建空观测表
func NewObservationTable() *ObservationTable {
	return &ObservationTable{
		rows: make(map[ObservationKey]*Observation),
	}
}

// Upsert 写入特征值，行不存在时创建
func (t *ObservationTable) Upsert(entity string, ts time.Time, features map[string]float64) {
	key := ObservationKey{Entity: entity, Timestamp: ts.UTC()}
	row, exists := t.rows[key]
	if !exists {
		row = &Observation{
			Entity:    entity,
			Timestamp: key.Timestamp,
			Features:  make(map[string]float64, len(features)),
		}
		t.rows[key] = row
		t.order = append(t.order, key)
	}
	for name, value := range features {
		row.Features[name] = value
	}
}

// Get 按主键查找观测行
func (t *ObservationTable) Get(entity string, ts time.Time) (*Observation, bool) {
	row, exists := t.rows[ObservationKey{Entity: entity, Timestamp: ts.UTC()}]
	return row, exists
}

// Rows 返回按（路口, 时间片）排序的所有观测行
func (t *ObservationTable) Rows() []*Observation {
	keys := make([]ObservationKey, len(t.order))
	copy(keys, t.order)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Entity != keys[j].Entity {
			return keys[i].Entity < keys[j].Entity
		}
		return keys[i].Timestamp.Before(keys[j].Timestamp)
	})

	rows := make([]*Observation, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, t.rows[key])
	}
	return rows
}

// Len 观测行数量
func (t *ObservationTable) Len() int {
	return len(t.rows)
}

// FillMissing 对缺失的特征列按默认值补齐，已有值不覆盖
func (t *ObservationTable) FillMissing(feature string, defaultValue float64) {
	for _, row := range t.rows {
		if _, exists := row.Features[feature]; !exists {
			row.Features[feature] = defaultValue
		}
	}
}

// MergeFrom 合并另一张观测表（外连接语义），同键行的特征取并集
func (t *ObservationTable) MergeFrom(other *ObservationTable) {
	if other == nil {
		return
	}
	for _, key := range other.order {
		row := other.rows[key]
		t.Upsert(row.Entity, row.Timestamp, row.Features)
	}
}

// DefaultBinWidth 默认时间片宽度
const DefaultBinWidth = 15 * time.Minute

// TruncateToBin 将时间戳截断到时间片起点
func TruncateToBin(ts time.Time, width time.Duration) time.Time {
	return ts.UTC().Truncate(width)
}
