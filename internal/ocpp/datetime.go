package ocpp

import (
	"fmt"
	"strings"
	"time"
)

// DateTime OCPP 时间戳。CSMS 发来的字符串可能带 "Z"、带显式时区偏移或完全
// 不带时区；三种都要能解析并统一换算到本地模拟时钟。
type DateTime struct {
	time.Time
}

// 不带时区的时间戳按本地时钟解释
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp 解析 OCPP 时间戳字符串，统一转换为本地时间
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("ocpp: empty timestamp")
	}
	// RFC3339 覆盖 "Z" 与显式偏移两种形式
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Local(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("ocpp: unparseable timestamp %q", s)
}

// NewDateTime 构造 DateTime
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

// Now 当前时刻的 DateTime
func Now() DateTime {
	return DateTime{Time: time.Now()}
}

// MarshalJSON 按 RFC3339 毫秒精度 UTC 输出
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.UTC().Format("2006-01-02T15:04:05.000Z07:00") + `"`), nil
}

// UnmarshalJSON 接受三种时间戳形式
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		dt.Time = time.Time{}
		return nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	dt.Time = t
	return nil
}
