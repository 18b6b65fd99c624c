/*
 * @module service/monitoring/metrics
 * @description 服务运行指标定义与注册，覆盖采集耗时、插件失败、健康状态和指数分布
 * @architecture 指标注册模式 - 启动时注册到默认Registry，由/metrics端点暴露
 * @stateFlow 指标定义 -> 注册 -> 业务路径打点 -> Prometheus抓取
 * @rules 指标注册只执行一次；标签基数受控（插件名、模式，不含路口ID）
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go, service/collector/collector.go
 */

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 服务运行指标集合
type Metrics struct {
	CollectDuration   *prometheus.HistogramVec
	CollectFailures   *prometheus.CounterVec
	PluginHealth      *prometheus.GaugeVec
	IndexComputed     prometheus.Counter
	CombinedIndexDist prometheus.Histogram
	BlendRequests     *prometheus.CounterVec
}

// NewMetrics 创建并注册服务指标
func NewMetrics() *Metrics {
	return &Metrics{
		CollectDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safety_index",
			Name:      "collect_duration_seconds",
			Help:      "单插件采集耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin"}),

		CollectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safety_index",
			Name:      "collect_failures_total",
			Help:      "插件采集失败次数",
		}, []string{"plugin", "mode"}),

		PluginHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safety_index",
			Name:      "plugin_healthy",
			Help:      "插件健康状态，1为健康",
		}, []string{"plugin"}),

		IndexComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "safety_index",
			Name:      "index_records_computed_total",
			Help:      "已计算的指数记录条数",
		}),

		CombinedIndexDist: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "safety_index",
			Name:      "combined_index",
			Help:      "综合指数分布",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),

		BlendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safety_index",
			Name:      "blend_requests_total",
			Help:      "实时融合请求次数，按RT-SI可用性分类",
		}, []string{"rtsi"}),
	}
}

// RecordHealth 批量更新插件健康指标
func (m *Metrics) RecordHealth(results map[string]bool) {
	for plugin, healthy := range results {
		value := 0.0
		if healthy {
			value = 1.0
		}
		m.PluginHealth.WithLabelValues(plugin).Set(value)
	}
}
