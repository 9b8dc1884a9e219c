package walkforward

import (
	"fmt"
	"time"
)

// GenerateWindows 在 [dataStart, dataEnd) 上生成训练/测试窗口序列
// 日期运算使用 AddDate，天数按日历天理解
// 测试区间放不下完整 test_days 的尾部窗口被丢弃
func GenerateWindows(dataStart, dataEnd time.Time, cfg WindowConfig) ([]Window, error) {
	if cfg.TrainingDays <= 0 || cfg.TestDays <= 0 || cfg.StepDays <= 0 {
		return nil, fmt.Errorf("窗口参数必须为正: training=%d test=%d step=%d",
			cfg.TrainingDays, cfg.TestDays, cfg.StepDays)
	}
	if cfg.Mode != ModeRolling && cfg.Mode != ModeExpanding {
		return nil, fmt.Errorf("未知窗口模式: %s", cfg.Mode)
	}
	if !dataEnd.After(dataStart) {
		return nil, fmt.Errorf("数据区间非法: %s >= %s", dataStart, dataEnd)
	}

	var windows []Window
	for i := 0; ; i++ {
		var trainStart time.Time
		if cfg.Mode == ModeExpanding {
			trainStart = dataStart
		} else {
			trainStart = dataStart.AddDate(0, 0, i*cfg.StepDays)
		}

		trainEnd := dataStart.AddDate(0, 0, cfg.TrainingDays+i*cfg.StepDays)
		testStart := trainEnd
		testEnd := testStart.AddDate(0, 0, cfg.TestDays)

		if testEnd.After(dataEnd) {
			break
		}

		windows = append(windows, Window{
			Index:      i + 1, // 窗口编号从 1 开始
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
	}

	if len(windows) == 0 {
		return nil, fmt.Errorf("数据区间 %s ~ %s 放不下任何完整窗口（训练 %d 天 + 测试 %d 天）",
			dataStart.Format("2006-01-02"), dataEnd.Format("2006-01-02"),
			cfg.TrainingDays, cfg.TestDays)
	}

	return windows, nil
}
