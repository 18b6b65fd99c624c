/*
 * @module service/models/plugin_test
 * @description 观测数据表与时间片工具单元测试
 * @architecture 单元测试
 * @documentReference dev_docs/model.md
 * @stateFlow 写入观测 -> 合并 -> 补齐缺失列 -> 验证排序与取并集语义
 * @rules 合并取特征并集；补齐不覆盖已有值；行序按（路口, 时间片）稳定
 * @dependencies testing
 * @refs plugin.go
 */

package models

import (
	"testing"
	"time"
)

func binAt(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestObservationTableUpsert(t *testing.T) {
	table := NewObservationTable()
	ts := binAt(8, 0)

	table.Upsert("int-001", ts, map[string]float64{"vru_count": 3})
	table.Upsert("int-001", ts, map[string]float64{"vru_count": 5, "speed_avg": 40})

	if table.Len() != 1 {
		t.Fatalf("同键写入不应产生新行, 行数: %d", table.Len())
	}

	row, exists := table.Get("int-001", ts)
	if !exists {
		t.Fatal("观测行应该存在")
	}
	if row.Features["vru_count"] != 5 {
		t.Errorf("后写入的值应该覆盖: %v", row.Features["vru_count"])
	}
	if row.Features["speed_avg"] != 40 {
		t.Errorf("新特征应该并入: %v", row.Features["speed_avg"])
	}
}

func TestObservationTableTimestampNormalizedToUTC(t *testing.T) {
	table := NewObservationTable()
	cst := time.FixedZone("CST", 8*3600)
	// UTC 08:00 == CST 16:00，两者应落到同一行
	table.Upsert("int-001", binAt(8, 0), map[string]float64{"a": 1})
	table.Upsert("int-001", time.Date(2025, 6, 1, 16, 0, 0, 0, cst), map[string]float64{"b": 2})

	if table.Len() != 1 {
		t.Fatalf("不同时区的同一时刻应合并为一行, 行数: %d", table.Len())
	}
}

func TestObservationTableRowsOrdering(t *testing.T) {
	table := NewObservationTable()
	table.Upsert("int-002", binAt(8, 0), map[string]float64{"a": 1})
	table.Upsert("int-001", binAt(8, 15), map[string]float64{"a": 2})
	table.Upsert("int-001", binAt(8, 0), map[string]float64{"a": 3})

	rows := table.Rows()
	if len(rows) != 3 {
		t.Fatalf("行数不匹配: %d", len(rows))
	}
	if rows[0].Entity != "int-001" || !rows[0].Timestamp.Equal(binAt(8, 0)) {
		t.Errorf("首行排序错误: %s %v", rows[0].Entity, rows[0].Timestamp)
	}
	if rows[1].Entity != "int-001" || !rows[1].Timestamp.Equal(binAt(8, 15)) {
		t.Errorf("次行排序错误: %s %v", rows[1].Entity, rows[1].Timestamp)
	}
	if rows[2].Entity != "int-002" {
		t.Errorf("末行排序错误: %s", rows[2].Entity)
	}
}

func TestObservationTableFillMissing(t *testing.T) {
	table := NewObservationTable()
	table.Upsert("int-001", binAt(8, 0), map[string]float64{"vru_count": 3})
	table.Upsert("int-002", binAt(8, 0), map[string]float64{})

	table.FillMissing("vru_count", 0)

	row, _ := table.Get("int-001", binAt(8, 0))
	if row.Features["vru_count"] != 3 {
		t.Errorf("已有值不得被默认值覆盖: %v", row.Features["vru_count"])
	}
	row, _ = table.Get("int-002", binAt(8, 0))
	if row.Features["vru_count"] != 0 {
		t.Errorf("缺失列应补默认值: %v", row.Features["vru_count"])
	}
}

func TestObservationTableMergeFrom(t *testing.T) {
	left := NewObservationTable()
	left.Upsert("int-001", binAt(8, 0), map[string]float64{"vru_count": 3})

	right := NewObservationTable()
	right.Upsert("int-001", binAt(8, 0), map[string]float64{"vehicle_count": 12})
	right.Upsert("int-002", binAt(8, 0), map[string]float64{"vehicle_count": 7})

	left.MergeFrom(right)

	if left.Len() != 2 {
		t.Fatalf("外连接合并后行数应为2: %d", left.Len())
	}
	row, _ := left.Get("int-001", binAt(8, 0))
	if row.Features["vru_count"] != 3 || row.Features["vehicle_count"] != 12 {
		t.Errorf("同键行特征应取并集: %v", row.Features)
	}

	// nil合并是空操作
	left.MergeFrom(nil)
	if left.Len() != 2 {
		t.Errorf("合并nil后行数不应变化: %d", left.Len())
	}
}

func TestTruncateToBin(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{name: "mid bin", input: time.Date(2025, 6, 1, 8, 7, 33, 0, time.UTC), expected: binAt(8, 0)},
		{name: "bin boundary", input: binAt(8, 15), expected: binAt(8, 15)},
		{name: "last second", input: time.Date(2025, 6, 1, 8, 29, 59, 0, time.UTC), expected: binAt(8, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToBin(tt.input, DefaultBinWidth)
			if !got.Equal(tt.expected) {
				t.Errorf("截断结果不匹配: 期望 %v, 实际 %v", tt.expected, got)
			}
		})
	}
}

func TestPluginConfigDescriptor(t *testing.T) {
	cfg := &PluginConfig{
		Name:    "vru_telemetry",
		Version: "1.0.0",
		Enabled: true,
		Weight:  0.35,
	}

	descriptor := cfg.Descriptor()
	if descriptor.Name != "vru_telemetry" || !descriptor.Enabled || descriptor.Weight != 0.35 {
		t.Errorf("描述符字段不匹配: %+v", descriptor)
	}
}
