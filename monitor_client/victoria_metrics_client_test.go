/*
 * @module monitor_client/victoria_metrics_client_test
 * @description 时序库查询客户端单元测试，基于httptest模拟查询接口
 * @architecture 单元测试
 * @documentReference dev_docs/collector_req.md
 * @stateFlow 启动模拟服务 -> 发起查询 -> 验证请求参数与响应解析
 * @rules 区间查询步长缺省为15分钟
 * @dependencies testing, net/http/httptest, github.com/stretchr/testify
 * @refs victoria_metrics_client.go, types.go
 */

package monitor_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleRangeResponse() *QueryResultResp {
	return &QueryResultResp{
		Status: "success",
		Data: QueryResult{
			ResultType: "matrix",
			Result: []MetricSeries{
				{
					Metric: map[string]string{"intersection": "int-001"},
					Values: [][]interface{}{
						{float64(1748764800), "12"},
						{float64(1748765700), "15"},
					},
				},
			},
		},
	}
}

func TestQueryRange(t *testing.T) {
	var gotPath, gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, r.ParseForm())
		gotStep = r.Form.Get("step")
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(sampleRangeResponse()))
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	result, err := client.QueryRange(context.Background(),
		`sum(increase(detector_vehicle_total[15m])) by (intersection)`,
		start, start.Add(time.Hour), 0)
	assert.NoError(t, err)
	assert.Equal(t, "/api/v1/query_range", gotPath)
	// 步长缺省15分钟
	assert.Equal(t, "900", gotStep)

	assert.Len(t, result.Result, 1)
	assert.Equal(t, "int-001", result.Result[0].Metric["intersection"])
}

func TestQueryRangeInvalidWindow(t *testing.T) {
	client := NewClient("http://vm.local")
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := client.QueryRange(context.Background(), "up", start, start.Add(-time.Hour), 0)
	assert.Error(t, err)
	_, err = client.QueryRange(context.Background(), "", start, start.Add(time.Hour), 0)
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(&QueryResultResp{
			Status: "success",
			Data: QueryResult{
				ResultType: "vector",
				Result: []MetricSeries{
					{Metric: map[string]string{}, Value: []interface{}{float64(1748764800), "1"}},
				},
			},
		}))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Query(context.Background(), "vm_app_version", time.Now())
	assert.NoError(t, err)
	assert.Len(t, result.Result, 1)
}

func TestQueryFailedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(&QueryResultResp{Status: "error"}))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Query(context.Background(), "up", time.Now())
	assert.Error(t, err)
}

func TestMetricSeriesPoints(t *testing.T) {
	series := MetricSeries{
		Values: [][]interface{}{
			{float64(1748764800), "12"},
			{float64(1748765700), "bad"}, // 非法值跳过
			{float64(1748766600)},        // 残缺对跳过
			{float64(1748767500), "15.5"},
		},
	}

	points := series.Points()
	assert.Len(t, points, 2)
	assert.Equal(t, time.Unix(1748764800, 0).UTC(), points[0].Timestamp)
	assert.InDelta(t, 12.0, points[0].Value, 1e-9)
	assert.InDelta(t, 15.5, points[1].Value, 1e-9)
}
