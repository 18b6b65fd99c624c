/*
 * @module service/plugin/crash_db
 * @description 历史事故插件，查询外部事故库并输出近期加权事故暴露特征
 * @architecture 客户端模式 - PostgreSQL聚合查询，结果广播到窗口内各时间片
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow Collect触发 -> 按回溯窗口聚合查询 -> 每个路口的暴露值广播到窗口内所有时间片
 * @rules 非常驻插件；事故暴露是慢变特征，同一窗口内各时间片取同一值；严重度权重 死亡10 受伤3 财损1
 * @dependencies database/sql, github.com/lib/pq
 * @refs interface.go, base.go
 */

package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/utils"

	_ "github.com/lib/pq"
)

// 事故暴露特征名
const (
	FeatureCrashWeighted = "crash_weighted_90d"
	FeatureCrashCount    = "crash_count_90d"
)

// CrashDBPlugin 历史事故插件
type CrashDBPlugin struct {
	*BasePlugin
	db           *sql.DB
	dsn          string
	lookbackDays int
	binWidth     time.Duration
}

// NewCrashDBPlugin 创建历史事故插件
func NewCrashDBPlugin() SafetyPlugin {
	return &CrashDBPlugin{
		BasePlugin:   NewBasePlugin("crash_db", false), // 按需查询，非常驻
		lookbackDays: 90,
		binWidth:     models.DefaultBinWidth,
	}
}

// Init 初始化插件并建立数据库连接池
func (c *CrashDBPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	if err := c.BasePlugin.Init(ctx, cfg); err != nil {
		return err
	}

	c.dsn = utils.ToString(cfg.ConnectionConfig["dsn"])
	if c.dsn == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "dsn", Reason: "缺少连接串配置"}
	}

	if cfg.ParamsConfig != nil {
		if daysVal, exists := cfg.ParamsConfig["lookback_days"]; exists {
			days, err := utils.ToFloat64(daysVal)
			if err == nil && days > 0 {
				c.lookbackDays = int(days)
			}
		}
	}

	db, err := sql.Open("postgres", c.dsn)
	if err != nil {
		return &ConfigError{Plugin: cfg.Name, Field: "dsn", Reason: fmt.Sprintf("连接串非法: %v", err)}
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	c.db = db

	return nil
}

// Stop 关闭连接池
func (c *CrashDBPlugin) Stop(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return fmt.Errorf("关闭事故库连接失败: %w", err)
		}
	}
	return c.BasePlugin.Stop(ctx)
}

// crashExposure 单路口的事故暴露聚合结果
type crashExposure struct {
	weighted float64
	count    float64
}

// Collect 聚合回溯窗口内的事故并广播到 [start, end) 的各时间片
func (c *CrashDBPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	name := c.Descriptor().Name
	lookbackStart := end.UTC().AddDate(0, 0, -c.lookbackDays)

	rows, err := c.db.QueryContext(ctx, `
		SELECT entity, severity, COUNT(*)
		FROM crash_records
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY entity, severity`,
		lookbackStart, end.UTC())
	if err != nil {
		return nil, NewCollectionError(name, fmt.Errorf("查询事故库失败: %w", err))
	}
	defer rows.Close()

	exposures := make(map[string]*crashExposure)
	for rows.Next() {
		var entity, severity string
		var count float64
		if err := rows.Scan(&entity, &severity, &count); err != nil {
			return nil, NewCollectionError(name, fmt.Errorf("读取事故行失败: %w", err))
		}

		exposure, exists := exposures[entity]
		if !exists {
			exposure = &crashExposure{}
			exposures[entity] = exposure
		}
		exposure.count += count
		exposure.weighted += count * models.SeverityWeight(severity)
	}
	if err := rows.Err(); err != nil {
		return nil, NewCollectionError(name, fmt.Errorf("遍历事故行失败: %w", err))
	}

	table := models.NewObservationTable()
	for entity, exposure := range exposures {
		// 慢变特征，窗口内每个时间片取同一暴露值
		for binStart := models.TruncateToBin(start, c.binWidth); binStart.Before(end); binStart = binStart.Add(c.binWidth) {
			table.Upsert(entity, binStart, map[string]float64{
				FeatureCrashWeighted: exposure.weighted,
				FeatureCrashCount:    exposure.count,
			})
		}
	}

	if err := c.ApplyFeatureScript(table); err != nil {
		return nil, NewCollectionError(name, err)
	}
	return table, nil
}

// Features 返回本插件贡献的特征，无历史事故时填0
func (c *CrashDBPlugin) Features() []FeatureSpec {
	return []FeatureSpec{
		{Name: FeatureCrashWeighted, Default: 0},
		{Name: FeatureCrashCount, Default: 0},
	}
}

// HealthCheck 在状态机检查之上叠加数据库连通性探测
func (c *CrashDBPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := c.BasePlugin.HealthCheck(ctx)
	if !status.Healthy {
		return status
	}

	if c.db == nil {
		status.Healthy = false
		status.Message = "事故库连接未初始化"
		return status
	}

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("事故库不可达: %v", err)
		return status
	}

	status.LatencyMs = time.Since(start).Milliseconds()
	status.Details["lookback_days"] = c.lookbackDays
	return status
}
