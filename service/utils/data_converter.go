/**
 * @module data_converter
 * @description 遥测载荷转换工具模块，负责消息字段的类型转换、编码转换和时间解析
 * @architecture 工具函数模式，提供静态转换方法集合
 * @stateFlow 无状态转换：输入 -> 转换逻辑 -> 输出
 * @rules
 *   - 转换失败返回错误而非默默置零
 *   - 编码转换支持GBK等字符集（部分路侧设备上报GBK编码）
 *   - 时间解析兼容RFC3339字符串与Unix秒/毫秒
 * @dependencies
 *   - github.com/spf13/cast: 类型转换
 *   - golang.org/x/text: 编码转换
 * @refs
 *   - service/plugin/*: 数据插件载荷解析
 */

package utils

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ToFloat64 将载荷字段转换为float64
func ToFloat64(value interface{}) (float64, error) {
	if value == nil {
		return 0, fmt.Errorf("nil值无法转换为数值")
	}
	return cast.ToFloat64E(value)
}

// ToString 将载荷字段转换为字符串
func ToString(value interface{}) string {
	return cast.ToString(value)
}

// ToBool 将载荷字段转换为布尔值
func ToBool(value interface{}) bool {
	return cast.ToBool(value)
}

// ToStringSlice 将载荷字段转换为字符串数组
func ToStringSlice(value interface{}) []string {
	return cast.ToStringSlice(value)
}

// ParseTimestamp 解析载荷中的时间戳字段
// 支持RFC3339字符串、Unix秒和Unix毫秒
func ParseTimestamp(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("时间戳格式错误: %v", err)
		}
		return ts.UTC(), nil
	case float64, int, int64, uint64:
		epoch := cast.ToInt64(v)
		// 毫秒时间戳的数量级判断
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("不支持的时间戳类型: %T", value)
	}
}

// DecodeGBK 将GBK编码的字节序列转换为UTF-8字符串
func DecodeGBK(data []byte) (string, error) {
	decoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("GBK解码失败: %w", err)
	}
	return string(decoded), nil
}
