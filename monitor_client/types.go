package monitor_client

import (
	"time"

	"github.com/spf13/cast"
)

// QueryResultResp 查询响应外层结构（Prometheus兼容）
type QueryResultResp struct {
	Status string      `json:"status"`
	Data   QueryResult `json:"data"`
}

// QueryResult 查询结果数据
type QueryResult struct {
	ResultType string         `json:"resultType"` // vector, matrix
	Result     []MetricSeries `json:"result"`
}

// MetricSeries 单条时序结果
type MetricSeries struct {
	Metric map[string]string `json:"metric"`
	Value  []interface{}     `json:"value,omitempty"`  // 即时查询: [时间戳, 值]
	Values [][]interface{}   `json:"values,omitempty"` // 区间查询: [[时间戳, 值], ...]
}

// Point 一个采样点
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Points 将区间查询结果解析为采样点列表，非法采样直接跳过
func (s *MetricSeries) Points() []Point {
	points := make([]Point, 0, len(s.Values))
	for _, pair := range s.Values {
		if len(pair) != 2 {
			continue
		}
		epoch, err := cast.ToFloat64E(pair[0])
		if err != nil {
			continue
		}
		value, err := cast.ToFloat64E(pair[1])
		if err != nil {
			continue
		}
		points = append(points, Point{
			Timestamp: time.Unix(int64(epoch), 0).UTC(),
			Value:     value,
		})
	}
	return points
}
