/*
 * @module service/models/index
 * @description 安全指数相关模型定义，包括归一化常量、安全指数记录和混合评分
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/model.md
 * @stateFlow 归一化常量按周期版本化保存 -> 指数计算引擎只读消费
 * @rules 所有子指数取值范围 [0,100]；综合指数权重在启用插件集合上归一化为1
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/normalization, service/index
 */

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 归一化方法
const (
	NormMethodPercentile = "percentile" // 分位数上下界
	NormMethodMinMax     = "minmax"     // 观测最小/最大值
)

// FeatureBounds 单个特征的缩放边界
type FeatureBounds struct {
	Method string  `json:"method"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// FeatureBoundsMap 特征名到缩放边界的映射，按JSONB存储
type FeatureBoundsMap map[string]FeatureBounds

// Scan 实现 Scanner 接口
func (m *FeatureBoundsMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("类型断言失败: 不是 []byte 或 string")
	}
	return json.Unmarshal(bytes, m)
}

// Value 实现 Valuer 接口
func (m FeatureBoundsMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// NormalizationConstants 归一化常量，每个参考数据周期计算一次
// 常量是否过期由调用方策略决定，计算方不做自动刷新
type NormalizationConstants struct {
	ID          string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PeriodKey   string           `json:"period_key" gorm:"not null;unique;size:64" example:"2024Q3"`
	Bounds      FeatureBoundsMap `json:"bounds" gorm:"type:jsonb;not null"`
	SampleCount int              `json:"sample_count" gorm:"not null;default:0"`
	ComputedAt  time.Time        `json:"computed_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *NormalizationConstants) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// SafetyIndexRecord 安全指数记录：某路口某时间片的各子指数与综合指数
// 子指数使用指针区分"数值0"与"该数据源未启用"两种情况
type SafetyIndexRecord struct {
	ID       string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Entity   string    `json:"entity" gorm:"not null;size:255;index:idx_record_entity_bin"`
	BinStart time.Time `json:"bin_start" gorm:"not null;index:idx_record_entity_bin"`
	BinWidth int       `json:"bin_width_seconds" gorm:"not null;default:900"`

	VRUIndex     *float64 `json:"vru_index,omitempty"`
	VehicleIndex *float64 `json:"vehicle_index,omitempty"`
	WeatherIndex *float64 `json:"weather_index,omitempty"`
	TrafficIndex *float64 `json:"traffic_index,omitempty"`

	CombinedIndex float64 `json:"combined_index" gorm:"not null"`

	// 经验贝叶斯修正后的对应值，仅在修正模型可用时填充
	EBVehicleIndex  *float64 `json:"eb_vehicle_index,omitempty"`
	EBTrafficIndex  *float64 `json:"eb_traffic_index,omitempty"`
	EBCombinedIndex *float64 `json:"eb_combined_index,omitempty"`

	ConstantsPeriod string    `json:"constants_period" gorm:"size:64"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *SafetyIndexRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TrafficWindow 单路口单时间片的短时交通特征快照
// 全零窗口表示该时段无车流与VRU活动，是合法观测而非缺失
type TrafficWindow struct {
	VehicleCount  float64 `json:"vehicle_count"`
	SpeedAvg      float64 `json:"speed_avg"`
	SpeedVariance float64 `json:"speed_variance"`
	VRUCount      float64 `json:"vru_count"`
}

// BlendedScore 实时/长期混合评分（仅作为接口返回结构，不持久化）
// RTSIAvailable 为 false 表示历史时段查不到可用速率，此时 Final 退化为 CombinedIndex；
// RTSI 数值为 0 是合法评分，二者不可混同。交通特征缺失不影响可用性
type BlendedScore struct {
	Entity        string         `json:"entity"`
	Timestamp     time.Time      `json:"timestamp"`
	Alpha         float64        `json:"alpha"`
	RTSI          *float64       `json:"rt_si,omitempty"`
	RTSIAvailable bool           `json:"rt_si_available"`
	Traffic       *TrafficWindow `json:"traffic,omitempty"`
	CombinedIndex float64        `json:"combined_index"`
	Final         float64        `json:"final"`
}
