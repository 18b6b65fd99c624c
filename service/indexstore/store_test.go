/*
 * @module service/indexstore/store_test
 * @description 指数结果存储单元测试，基于内存sqlite验证常量upsert与记录查询
 * @architecture 单元测试
 * @documentReference dev_docs/index_req.md
 * @stateFlow 建表 -> 写入 -> 查询 -> 验证覆盖与排序语义
 * @rules 同周期键的归一化常量重算覆盖旧值
 * @dependencies testing, github.com/stretchr/testify, gorm.io/driver/sqlite
 * @refs store.go
 */

package indexstore

import (
	"context"
	"testing"
	"time"

	"safety-index-service/service/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	assert.NoError(t, err)

	err = db.AutoMigrate(
		&models.PluginConfig{},
		&models.NormalizationConstants{},
		&models.SafetyIndexRecord{},
		&models.EmpiricalBayesModel{},
	)
	assert.NoError(t, err)

	return NewStore(db)
}

func TestSaveConstantsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.NormalizationConstants{
		PeriodKey: "202506",
		Bounds: models.FeatureBoundsMap{
			"vru_count": {Method: models.NormMethodPercentile, Lower: 1, Upper: 9},
		},
		SampleCount: 100,
		ComputedAt:  time.Now().UTC(),
	}
	assert.NoError(t, store.SaveConstants(ctx, first))

	// 同周期键重算覆盖旧值
	second := &models.NormalizationConstants{
		PeriodKey: "202506",
		Bounds: models.FeatureBoundsMap{
			"vru_count": {Method: models.NormMethodPercentile, Lower: 2, Upper: 8},
		},
		SampleCount: 200,
		ComputedAt:  time.Now().UTC().Add(time.Hour),
	}
	assert.NoError(t, store.SaveConstants(ctx, second))

	loaded, err := store.LoadConstants(ctx, "202506")
	assert.NoError(t, err)
	assert.NotNil(t, loaded)
	assert.Equal(t, 200, loaded.SampleCount)
	assert.InDelta(t, 2.0, loaded.Bounds["vru_count"].Lower, 1e-9)
}

func TestLoadConstantsMissing(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.LoadConstants(context.Background(), "209912")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLatestConstants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	assert.NoError(t, store.SaveConstants(ctx, &models.NormalizationConstants{
		PeriodKey: "202505", Bounds: models.FeatureBoundsMap{}, ComputedAt: base.AddDate(0, -1, 0),
	}))
	assert.NoError(t, store.SaveConstants(ctx, &models.NormalizationConstants{
		PeriodKey: "202506", Bounds: models.FeatureBoundsMap{}, ComputedAt: base,
	}))

	latest, err := store.LatestConstants(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, latest)
	assert.Equal(t, "202506", latest.PeriodKey)
}

func TestSaveAndListRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	binStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	vru := 65.0
	records := []*models.SafetyIndexRecord{
		{Entity: "int-001", BinStart: binStart, BinWidth: 900, VRUIndex: &vru, CombinedIndex: 47, ConstantsPeriod: "202506"},
		{Entity: "int-001", BinStart: binStart.Add(15 * time.Minute), BinWidth: 900, CombinedIndex: 52, ConstantsPeriod: "202506"},
		{Entity: "int-002", BinStart: binStart, BinWidth: 900, CombinedIndex: 30, ConstantsPeriod: "202506"},
	}
	assert.NoError(t, store.SaveRecords(ctx, records))
	// 空批次是空操作
	assert.NoError(t, store.SaveRecords(ctx, nil))

	// 按路口过滤，半开区间
	listed, err := store.ListRecords(ctx, "int-001", binStart, binStart.Add(15*time.Minute))
	assert.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.NotNil(t, listed[0].VRUIndex)
	assert.InDelta(t, 65.0, *listed[0].VRUIndex, 1e-9)
	assert.Nil(t, listed[0].VehicleIndex)

	// 不指定路口返回全部
	listed, err = store.ListRecords(ctx, "", binStart, binStart.Add(time.Hour))
	assert.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestLatestRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	binStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	assert.NoError(t, store.SaveRecords(ctx, []*models.SafetyIndexRecord{
		{Entity: "int-001", BinStart: binStart, BinWidth: 900, CombinedIndex: 40, ConstantsPeriod: "202506"},
		{Entity: "int-001", BinStart: binStart.Add(15 * time.Minute), BinWidth: 900, CombinedIndex: 55, ConstantsPeriod: "202506"},
	}))

	latest, err := store.LatestRecord(ctx, "int-001")
	assert.NoError(t, err)
	assert.NotNil(t, latest)
	assert.InDelta(t, 55.0, latest.CombinedIndex, 1e-9)

	missing, err := store.LatestRecord(ctx, "int-999")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEBModelRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.SaveEBModel(ctx, &models.EmpiricalBayesModel{
		PeriodKey:      "202505",
		PooledMeanRate: 1.5,
		Lambda:         5,
		CreatedAt:      time.Date(2025, 5, 1, 2, 30, 0, 0, time.UTC),
	}))
	assert.NoError(t, store.SaveEBModel(ctx, &models.EmpiricalBayesModel{
		PeriodKey:      "202506",
		PooledMeanRate: 2.0,
		Lambda:         10,
		Degraded:       true,
		CandidateGrid:  models.JSONBStringArray{"0.5", "1", "10"},
		CreatedAt:      time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC),
	}))

	latest, err := store.LatestEBModel(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, latest)
	assert.Equal(t, "202506", latest.PeriodKey)
	assert.True(t, latest.Degraded)
	assert.Len(t, latest.CandidateGrid, 3)
}

func TestPluginConfigCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &models.PluginConfig{
		Name:             "vru_telemetry",
		Type:             "telemetry_mqtt",
		Enabled:          true,
		Weight:           0.35,
		ConnectionConfig: models.JSONB{"host": "broker.local"},
	}
	assert.NoError(t, store.SavePluginConfig(ctx, cfg))
	assert.NotEmpty(t, cfg.ID) // BeforeCreate钩子生成UUID

	configs, err := store.ListPluginConfigs(ctx)
	assert.NoError(t, err)
	assert.Len(t, configs, 1)

	cfg.Weight = 0.4
	assert.NoError(t, store.UpdatePluginConfig(ctx, cfg))

	configs, err = store.ListPluginConfigs(ctx)
	assert.NoError(t, err)
	assert.InDelta(t, 0.4, configs[0].Weight, 1e-9)

	assert.NoError(t, store.DeletePluginConfig(ctx, "vru_telemetry"))
	assert.Error(t, store.DeletePluginConfig(ctx, "vru_telemetry"))
}
