/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移、插件注册与各引擎的装配
 * @architecture 分层架构 - 服务层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 数据库初始化 -> 迁移 -> 插件注册 -> 引擎装配 -> 调度器启动
 * @rules 注册表与采集器为显式实例，由本模块构造后注入控制器，不提供包级单例
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs dev_docs/model.md
 */

package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/crashstore"
	"safety-index-service/service/database"
	"safety-index-service/service/distributed_lock"
	"safety-index-service/service/index"
	"safety-index-service/service/indexstore"
	"safety-index-service/service/monitoring"
	"safety-index-service/service/normalization"
	"safety-index-service/service/plugin"
	"safety-index-service/service/realtime"
	"safety-index-service/service/scheduler"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB              *gorm.DB
	Metrics         *monitoring.Metrics
	PluginRegistry  *plugin.Registry
	Collector       *collector.Collector
	IndexStore      *indexstore.Store
	CrashStore      *crashstore.Store
	IndexPipeline   *index.Pipeline
	RateSource      *realtime.CachedRateSource
	Blender         *realtime.Blender
	Scheduler       *scheduler.CalibrationScheduler
	DistributedLock *distributed_lock.RedisLock
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库表结构迁移完成")

	if err := database.InitializeData(DB); err != nil {
		log.Fatalf("基础数据初始化失败: %v", err)
	}
	log.Println("基础数据初始化完成")
}

// initServices 装配各引擎与调度器
func initServices() {
	Metrics = monitoring.NewMetrics()
	IndexStore = indexstore.NewStore(DB)
	CrashStore = crashstore.NewStore(DB)

	factory := plugin.NewDefaultPluginFactory()
	if err := plugin.RegisterBuiltinTypes(factory); err != nil {
		log.Fatalf("注册内置插件类型失败: %v", err)
	}
	PluginRegistry = plugin.NewRegistry(factory)

	Collector = collector.NewCollector(PluginRegistry, Metrics)
	normEngine := normalization.NewEngine(nil)
	indexEngine := index.NewEngine(nil)
	IndexPipeline = index.NewPipeline(Collector, normEngine, indexEngine, IndexStore, Metrics)

	// Redis分布式锁可选，连接失败时降级为单实例调度与无缓存速率查询
	var lockExec *distributed_lock.LockExecutor
	var err error
	DistributedLock, err = distributed_lock.NewRedisLock()
	if err != nil {
		log.Printf("Redis不可用，降级为单实例模式: %v", err)
		RateSource = realtime.NewCachedRateSource(CrashStore, nil)
	} else {
		lockExec = distributed_lock.NewLockExecutor(DistributedLock)
		RateSource = realtime.NewCachedRateSource(CrashStore, DistributedLock.Client())
	}
	Blender = realtime.NewBlender(RateSource, realtime.NewCollectorTrafficSource(Collector), Metrics)

	registerPlugins()
	loadLatestEBModel()

	Scheduler = scheduler.NewCalibrationScheduler(
		IndexPipeline, Collector, normEngine, CrashStore, IndexStore, RateSource, lockExec)
	if err := Scheduler.Start(); err != nil {
		log.Printf("启动标定调度器失败: %v", err)
	}

	log.Println("服务初始化完成")
}

// registerPlugins 按持久化配置注册插件，单个插件失败不阻塞其余插件
func registerPlugins() {
	log.Println("开始注册数据插件...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	configs, err := IndexStore.ListPluginConfigs(ctx)
	if err != nil {
		log.Printf("读取插件配置失败: %v", err)
		return
	}

	var failed int
	for _, cfg := range configs {
		if err := PluginRegistry.Register(ctx, cfg); err != nil {
			log.Printf("注册插件 %s 失败: %v", cfg.Name, err)
			failed++
		}
	}

	log.Printf("数据插件注册完成: 总计=%d, 失败=%d", len(configs), failed)
}

// loadLatestEBModel 加载最近一次标定的收缩模型供实时评分使用
func loadLatestEBModel() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	model, err := IndexStore.LatestEBModel(ctx)
	if err != nil {
		log.Printf("加载收缩模型失败: %v", err)
		return
	}
	if model == nil {
		log.Println("尚无标定的收缩模型，实时评分将退化为长期指数")
		return
	}
	RateSource.SetModel(model)
	log.Printf("收缩模型已加载: period=%s lambda=%v", model.PeriodKey, model.Lambda)
}
