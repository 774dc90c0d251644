package model

import "time"

// TimestampFormat 是对外协议中时间戳的统一格式（ISO-8601）。
const TimestampFormat = time.RFC3339

// FormatTimestamp 将时间格式化为协议时间戳字符串。
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}
