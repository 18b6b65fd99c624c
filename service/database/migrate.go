/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责表结构迁移与内置插件配置的初始化
 * @architecture 数据访问层 - gorm自动迁移
 * @documentReference dev_docs/model.md
 * @stateFlow 应用启动 -> 表结构迁移 -> 内置数据初始化
 * @rules 初始化数据幂等，已存在的内置插件配置不重复写入
 * @dependencies gorm.io/gorm
 * @refs service/init.go, service/models
 */

package database

import (
	"errors"
	"fmt"
	"log"

	"safety-index-service/service/models"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移所有表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PluginConfig{},
		&models.NormalizationConstants{},
		&models.SafetyIndexRecord{},
		&models.CrashRecord{},
		&models.EmpiricalBayesModel{},
	)
}

// InitializeData 初始化内置插件配置，幂等
func InitializeData(db *gorm.DB) error {
	builtins := []*models.PluginConfig{
		{
			Name:        "vru_telemetry",
			Type:        "telemetry_mqtt",
			Description: "路口行人/非机动车检测遥测",
			Enabled:     true,
			Weight:      0.35,
			ConnectionConfig: models.JSONB{
				"host": "localhost",
				"port": 1883,
			},
			ParamsConfig: models.JSONB{
				"topics": []interface{}{"intersection/+/vru"},
				"qos":    1,
			},
		},
		{
			Name:        "vehicle_telemetry",
			Type:        "telemetry_kafka",
			Description: "机动车轨迹与事件遥测",
			Enabled:     true,
			Weight:      0.3,
			ConnectionConfig: models.JSONB{
				"brokers":  []interface{}{"localhost:9092"},
				"group_id": "safety-index-service",
			},
			ParamsConfig: models.JSONB{
				"topic": "vehicle-telemetry",
			},
		},
		{
			Name:        "weather_station",
			Type:        "weather_http",
			Description: "气象站观测拉取",
			Enabled:     true,
			Weight:      0.1,
			ConnectionConfig: models.JSONB{
				"base_url": "http://localhost:8090",
			},
			ParamsConfig: models.JSONB{
				"timeout_seconds": 10,
			},
		},
		{
			Name:        "detector_backfill",
			Type:        "detector_backfill",
			Description: "线圈检测器时序回补",
			Enabled:     true,
			Weight:      0.1,
			ConnectionConfig: models.JSONB{
				"base_url": "http://localhost:8428",
			},
			ParamsConfig: models.JSONB{
				"entity_label": "intersection",
				"step_seconds": 900,
			},
		},
		{
			Name:        "crash_history",
			Type:        "crash_db",
			Description: "历史事故暴露聚合",
			Enabled:     true,
			Weight:      0.15,
			ConnectionConfig: models.JSONB{
				"dsn": "host=localhost port=5432 user=postgres dbname=crashes sslmode=disable",
			},
			ParamsConfig: models.JSONB{
				"lookback_days": 90,
			},
		},
	}

	for _, cfg := range builtins {
		var existing models.PluginConfig
		err := db.Where("name = ?", cfg.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询内置插件配置失败: %w", err)
		}
		if err := db.Create(cfg).Error; err != nil {
			return fmt.Errorf("初始化插件配置 %s 失败: %w", cfg.Name, err)
		}
		log.Printf("内置插件配置 %s 初始化完成", cfg.Name)
	}

	return nil
}
