/*
 * @module monitor_client/victoria_metrics_client
 * @description VictoriaMetrics查询客户端，提供即时查询与区间查询，供检测器回补插件使用
 * @architecture 客户端模式 - 封装Prometheus兼容查询API
 * @stateFlow 构造客户端 -> 发起查询 -> 解析响应
 * @rules 查询失败返回错误而非空结果；区间查询步长必须为正
 * @dependencies net/http, encoding/json
 * @refs service/plugin/detector_backfill.go
 */

package monitor_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client VictoriaMetrics查询客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建查询客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL 获取当前查询地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.Unix()), 'f', -1, 64)
}

// Query 执行即时查询
func (c *Client) Query(ctx context.Context, query string, queryTime time.Time) (*QueryResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	if queryTime.IsZero() {
		queryTime = time.Now()
	}

	values := url.Values{}
	values.Add("query", query)
	values.Add("time", formatTime(queryTime))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/query", nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.URL.RawQuery = values.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	var metricsResp QueryResultResp
	if err = json.NewDecoder(resp.Body).Decode(&metricsResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if metricsResp.Status != "success" {
		return nil, fmt.Errorf("查询失败: %s", metricsResp.Status)
	}

	return &metricsResp.Data, nil
}

// QueryRange 执行区间查询
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	if start.IsZero() || end.IsZero() {
		return nil, errors.New("start and end time cannot be zero")
	}

	if start.After(end) {
		return nil, errors.New("start time must be before end time")
	}

	if step <= 0 {
		step = 15 * time.Minute // 默认与指数时间片对齐
	}

	u, err := url.Parse(c.baseURL + "/api/v1/query_range")
	if err != nil {
		return nil, fmt.Errorf("解析URL失败: %w", err)
	}

	q := u.Query()
	q.Set("query", query)
	q.Set("start", formatTime(start))
	q.Set("end", formatTime(end))
	q.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var metricsResp QueryResultResp
	if err = json.Unmarshal(body, &metricsResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if metricsResp.Status != "success" {
		return nil, fmt.Errorf("查询失败: %s", metricsResp.Status)
	}

	return &metricsResp.Data, nil
}
