/*
 * @module service/plugin/http_weather
 * @description 气象数据插件，按时间窗口拉取气象服务REST接口并展开为时间片特征
 * @architecture 客户端模式 - 按需拉取，无本地缓冲
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow Collect触发 -> HTTP区间查询 -> 响应行展开为观测表
 * @rules 非常驻插件；气象缺失填NaN表示"未知"而非"无降水"；请求失败返回CollectionError
 * @dependencies net/http, encoding/json, context, time
 * @refs interface.go, base.go
 */

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"safety-index-service/service/models"
	"safety-index-service/service/utils"
)

// 气象特征名
const (
	FeaturePrecipitation = "precipitation_mm"
	FeatureVisibility    = "visibility_km"
	FeatureWindSpeed     = "wind_speed_ms"
	FeatureTempDeviation = "temp_deviation_c"
)

// WeatherHTTPPlugin 气象数据插件
type WeatherHTTPPlugin struct {
	*BasePlugin
	baseURL    string
	stationID  string
	binWidth   time.Duration
	httpClient *http.Client
}

// weatherObservation 气象服务响应行
type weatherObservation struct {
	IntersectionID  string      `json:"intersection_id"`
	Timestamp       interface{} `json:"timestamp"`
	PrecipitationMM *float64    `json:"precipitation_mm"`
	VisibilityKM    *float64    `json:"visibility_km"`
	WindSpeedMS     *float64    `json:"wind_speed_ms"`
	TempC           *float64    `json:"temp_c"`
	TempNormalC     *float64    `json:"temp_normal_c"`
}

// weatherResponse 气象服务响应体
type weatherResponse struct {
	Observations []weatherObservation `json:"observations"`
}

// NewWeatherHTTPPlugin 创建气象数据插件
func NewWeatherHTTPPlugin() SafetyPlugin {
	return &WeatherHTTPPlugin{
		BasePlugin: NewBasePlugin("weather_http", false), // 按需拉取，非常驻
		binWidth:   models.DefaultBinWidth,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Init 初始化插件并解析连接配置
func (w *WeatherHTTPPlugin) Init(ctx context.Context, cfg *models.PluginConfig) error {
	if err := w.BasePlugin.Init(ctx, cfg); err != nil {
		return err
	}

	w.baseURL = strings.TrimRight(utils.ToString(cfg.ConnectionConfig["base_url"]), "/")
	if w.baseURL == "" {
		return &ConfigError{Plugin: cfg.Name, Field: "base_url", Reason: "缺少服务地址配置"}
	}

	if cfg.ParamsConfig != nil {
		w.stationID = utils.ToString(cfg.ParamsConfig["station_id"])
		if timeoutVal, exists := cfg.ParamsConfig["timeout_seconds"]; exists {
			seconds, err := utils.ToFloat64(timeoutVal)
			if err == nil && seconds > 0 {
				w.httpClient.Timeout = time.Duration(seconds) * time.Second
			}
		}
	}

	return nil
}

// Collect 拉取 [start, end) 的气象观测并展开为时间片特征
func (w *WeatherHTTPPlugin) Collect(ctx context.Context, start, end time.Time) (*models.ObservationTable, error) {
	name := w.Descriptor().Name

	values := url.Values{}
	values.Set("start", start.UTC().Format(time.RFC3339))
	values.Set("end", end.UTC().Format(time.RFC3339))
	if w.stationID != "" {
		values.Set("station_id", w.stationID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/v1/observations?"+values.Encode(), nil)
	if err != nil {
		return nil, NewCollectionError(name, fmt.Errorf("创建HTTP请求失败: %w", err))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, NewCollectionError(name, fmt.Errorf("请求气象服务失败: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewCollectionError(name, fmt.Errorf("气象服务返回状态码 %d", resp.StatusCode))
	}

	var payload weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, NewCollectionError(name, fmt.Errorf("解析气象响应失败: %w", err))
	}

	table := models.NewObservationTable()
	for _, obs := range payload.Observations {
		if obs.IntersectionID == "" {
			continue
		}
		ts, err := utils.ParseTimestamp(obs.Timestamp)
		if err != nil {
			continue
		}

		features := map[string]float64{
			FeaturePrecipitation: valueOrNaN(obs.PrecipitationMM),
			FeatureVisibility:    valueOrNaN(obs.VisibilityKM),
			FeatureWindSpeed:     valueOrNaN(obs.WindSpeedMS),
			FeatureTempDeviation: tempDeviation(obs.TempC, obs.TempNormalC),
		}
		table.Upsert(obs.IntersectionID, models.TruncateToBin(ts, w.binWidth), features)
	}

	if err := w.ApplyFeatureScript(table); err != nil {
		return nil, NewCollectionError(name, err)
	}
	return table, nil
}

// valueOrNaN 指针字段缺失时返回NaN
func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// tempDeviation 实测气温与历史均温的绝对偏差
func tempDeviation(temp, normal *float64) float64 {
	if temp == nil || normal == nil {
		return math.NaN()
	}
	return math.Abs(*temp - *normal)
}

// Features 返回本插件贡献的特征，气象不可得时填NaN（缺失而非零观测）
func (w *WeatherHTTPPlugin) Features() []FeatureSpec {
	return []FeatureSpec{
		{Name: FeaturePrecipitation, Default: math.NaN()},
		{Name: FeatureVisibility, Default: math.NaN()},
		{Name: FeatureWindSpeed, Default: math.NaN()},
		{Name: FeatureTempDeviation, Default: math.NaN()},
	}
}

// HealthCheck 在状态机检查之上叠加服务可达性探测
func (w *WeatherHTTPPlugin) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := w.BasePlugin.HealthCheck(ctx)
	if !status.Healthy {
		return status
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/health", nil)
	if err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("创建探测请求失败: %v", err)
		return status
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("气象服务不可达: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		status.Healthy = false
		status.Message = fmt.Sprintf("气象服务异常，状态码 %d", resp.StatusCode)
		return status
	}

	status.LatencyMs = time.Since(start).Milliseconds()
	status.Details["base_url"] = w.baseURL
	return status
}
