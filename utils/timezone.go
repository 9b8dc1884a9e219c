package utils

import (
	"time"
)

// GlobalLocation 全局配置的时区，报表与日志时间戳统一使用
var GlobalLocation = time.UTC

// SetLocation 设置全局时区
// 名称无法解析时保持当前时区不变并返回错误
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换到配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}
