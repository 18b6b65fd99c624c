/*
 * @module service/scheduler/calibration_scheduler
 * @description 标定调度器，定时执行指数窗口计算、归一化常量刷新与经验贝叶斯标定
 * @architecture 调度器模式 - cron触发，分布式锁防止多实例重复执行
 * @documentReference dev_docs/scheduler_req.md
 * @stateFlow 启动注册cron任务 -> 到点抢锁 -> 执行任务 -> 释放锁
 * @rules 抢锁失败静默跳过；任务失败记日志不中断调度器；手动触发走同一把锁
 * @dependencies github.com/robfig/cron/v3
 * @refs service/index/pipeline.go, service/distributed_lock/redis_lock.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/crashstore"
	"safety-index-service/service/distributed_lock"
	"safety-index-service/service/ebayes"
	"safety-index-service/service/index"
	"safety-index-service/service/indexstore"
	"safety-index-service/service/models"
	"safety-index-service/service/normalization"
	"safety-index-service/service/realtime"

	"github.com/robfig/cron/v3"
)

// 调度表达式
const (
	computeSpec     = "*/15 * * * *" // 每个时间片收口后计算上一窗口
	constantsSpec   = "0 3 * * *"    // 每日凌晨刷新归一化常量
	calibrationSpec = "30 2 * * *"   // 每日凌晨标定收缩模型
)

// 锁键与TTL
const (
	lockKeyCompute     = "index_compute"
	lockKeyConstants   = "constants_refresh"
	lockKeyCalibration = "eb_calibration"
	lockTTL            = 10 * time.Minute
)

// 标定与常量刷新的数据窗口
const (
	constantsLookback   = 30 * 24 * time.Hour
	calibrationLookback = 180 * 24 * time.Hour
	holdoutWindow       = 30 * 24 * time.Hour
)

// CalibrationScheduler 标定调度器
type CalibrationScheduler struct {
	cron       *cron.Cron
	pipeline   *index.Pipeline
	collector  *collector.Collector
	norm       *normalization.Engine
	crashes    *crashstore.Store
	store      *indexstore.Store
	rateSource *realtime.CachedRateSource
	lockExec   *distributed_lock.LockExecutor
	binWidth   time.Duration
}

// NewCalibrationScheduler 创建标定调度器，lockExec为nil时不做分布式防重（单实例部署）
func NewCalibrationScheduler(pipeline *index.Pipeline, c *collector.Collector,
	norm *normalization.Engine, crashes *crashstore.Store, store *indexstore.Store,
	rateSource *realtime.CachedRateSource, lockExec *distributed_lock.LockExecutor) *CalibrationScheduler {
	return &CalibrationScheduler{
		cron:       cron.New(),
		pipeline:   pipeline,
		collector:  c,
		norm:       norm,
		crashes:    crashes,
		store:      store,
		rateSource: rateSource,
		lockExec:   lockExec,
		binWidth:   models.DefaultBinWidth,
	}
}

// Start 注册cron任务并启动调度
func (s *CalibrationScheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{computeSpec, lockKeyCompute, s.computePreviousWindow},
		{constantsSpec, lockKeyConstants, s.RefreshConstants},
		{calibrationSpec, lockKeyCalibration, s.RunCalibration},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
			defer cancel()
			if err := s.withLock(ctx, job.name, job.fn); err != nil {
				slog.Error("调度任务失败", "task", job.name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("注册调度任务 %s 失败: %w", job.name, err)
		}
	}

	s.cron.Start()
	slog.Info("标定调度器已启动")
	return nil
}

// Stop 停止调度器，等待在途任务结束
func (s *CalibrationScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("标定调度器已停止")
}

// withLock 在分布式锁保护下执行任务
func (s *CalibrationScheduler) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.lockExec == nil {
		return fn(ctx)
	}
	return s.lockExec.ExecuteWithLock(ctx, key, lockTTL, func() error {
		return fn(ctx)
	})
}

// computePreviousWindow 计算刚收口的上一个时间片
func (s *CalibrationScheduler) computePreviousWindow(ctx context.Context) error {
	end := models.TruncateToBin(time.Now(), s.binWidth)
	start := end.Add(-s.binWidth)

	records, err := s.pipeline.ComputeWindow(ctx, start, end, collector.ModeFailSoft)
	if err != nil {
		return err
	}
	slog.Info("窗口指数计算完成", "start", start, "end", end, "records", len(records))
	return nil
}

// RefreshConstants 重新计算归一化常量
// 参考窗口为近30天的采集数据，fail_soft模式容忍部分源离线
func (s *CalibrationScheduler) RefreshConstants(ctx context.Context) error {
	end := models.TruncateToBin(time.Now(), s.binWidth)
	start := end.Add(-constantsLookback)

	table, err := s.collector.Collect(ctx, start, end, collector.ModeFailSoft)
	if err != nil {
		return fmt.Errorf("常量参考数据采集失败: %w", err)
	}
	if table.Len() == 0 {
		return fmt.Errorf("常量参考窗口无观测数据")
	}

	samples := normalization.CollectSamples(table)
	constants, err := s.norm.ComputeConstants(periodKey(end), samples)
	if err != nil {
		return err
	}
	if err := s.store.SaveConstants(ctx, constants); err != nil {
		return err
	}

	slog.Info("归一化常量已刷新",
		"period", constants.PeriodKey,
		"features", len(constants.Bounds),
		"samples", constants.SampleCount)
	return nil
}

// RunCalibration 标定收缩模型
// 近30天为留出集，更早的历史为训练集
func (s *CalibrationScheduler) RunCalibration(ctx context.Context) error {
	now := time.Now().UTC()
	holdoutStart := now.Add(-holdoutWindow)
	trainingStart := now.Add(-calibrationLookback)

	training, err := s.crashes.WeightedRates(ctx, trainingStart, holdoutStart)
	if err != nil {
		return err
	}
	holdout, err := s.crashes.WeightedRates(ctx, holdoutStart, now)
	if err != nil {
		return err
	}

	model, err := ebayes.Calibrate(periodKey(now), training, holdout, ebayes.DefaultGrid)
	if err != nil {
		return err
	}
	if err := s.store.SaveEBModel(ctx, model); err != nil {
		return err
	}

	if s.rateSource != nil {
		s.rateSource.SetModel(model)
	}

	slog.Info("收缩模型标定完成",
		"period", model.PeriodKey,
		"lambda", model.Lambda,
		"r0", model.PooledMeanRate,
		"degraded", model.Degraded)
	return nil
}

// ComputeWindow 手动触发指定窗口的指数计算
func (s *CalibrationScheduler) ComputeWindow(ctx context.Context, start, end time.Time, mode string) ([]*models.SafetyIndexRecord, error) {
	return s.pipeline.ComputeWindow(ctx, start, end, mode)
}

// periodKey 常量与模型的周期标识，按月滚动
func periodKey(t time.Time) string {
	return t.UTC().Format("200601")
}
