/*
 * @module service/utils/data_converter_test
 * @description 遥测载荷转换工具单元测试
 * @architecture 测试层 - 纯函数测试，无外部依赖
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow 输入参数 -> 函数调用 -> 输出验证
 * @rules 转换失败必须返回错误而非默默置零
 * @dependencies testing, github.com/stretchr/testify
 * @refs data_converter.go
 */

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected float64
		wantErr  bool
	}{
		{name: "float64", input: 3.14, expected: 3.14},
		{name: "int", input: 42, expected: 42},
		{name: "numeric string", input: "12.5", expected: 12.5},
		{name: "json number", input: float64(7), expected: 7},
		{name: "nil", input: nil, wantErr: true},
		{name: "garbage string", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFloat64(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    interface{}
		expected time.Time
		wantErr  bool
	}{
		{name: "rfc3339", input: "2025-06-01T08:00:00Z", expected: expected},
		{name: "rfc3339 with offset", input: "2025-06-01T16:00:00+08:00", expected: expected},
		{name: "unix seconds", input: float64(1748764800), expected: expected},
		{name: "unix millis", input: int64(1748764800000), expected: expected},
		{name: "bad string", input: "not-a-time", wantErr: true},
		{name: "unsupported type", input: []string{"x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, got.Equal(tt.expected), "期望 %v, 实际 %v", tt.expected, got)
		})
	}
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ToStringSlice([]interface{}{"a", "b"}))
	assert.Empty(t, ToStringSlice(nil))
}

func TestDecodeGBK(t *testing.T) {
	// "路口" 的GBK编码
	gbk := []byte{0xC2, 0xB7, 0xBF, 0xDA}
	decoded, err := DecodeGBK(gbk)
	assert.NoError(t, err)
	assert.Equal(t, "路口", decoded)

	// ASCII在GBK下原样通过
	decoded, err = DecodeGBK([]byte("int-001"))
	assert.NoError(t, err)
	assert.Equal(t, "int-001", decoded)
}
