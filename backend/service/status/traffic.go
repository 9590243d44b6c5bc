package status

import (
	"regexp"
	"strconv"
	"strings"

	"secureproxy/backend/domain"
)

// 引擎每 5 秒输出一行统计：
//
//	🟢 📊 ↑   1.2KB/s ↓ 345.6KB/s (峰值:800KB/s) | 连接:3/200 | 成功率:98% | 缓冲区溢出:0 | drain操作:12
var trafficLine = regexp.MustCompile(`📊\s*↑\s*([\d.]+)\s*KB/s\s*↓\s*([\d.]+)\s*KB/s\s*\(峰值:\s*([\d.]+)\s*KB/s\)\s*\|\s*连接:\s*(\d+)\s*/\s*(\d+)\s*\|\s*成功率:\s*([\d.]+)%`)

const (
	degradedMarker  = "进入降级模式"
	recoveredMarker = "恢复正常模式"
)

// ParseTrafficLine 解析统计行；不是统计行时返回 false
func ParseTrafficLine(line string) (domain.TrafficStats, bool) {
	m := trafficLine.FindStringSubmatch(line)
	if m == nil {
		return domain.TrafficStats{}, false
	}
	f := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	i := func(s string) int {
		v, _ := strconv.Atoi(s)
		return v
	}
	return domain.TrafficStats{
		UpKBps:            f(m[1]),
		DownKBps:          f(m[2]),
		PeakDownKBps:      f(m[3]),
		ActiveConnections: i(m[4]),
		MaxConnections:    i(m[5]),
		SuccessRate:       f(m[6]),
		Degraded:          strings.HasPrefix(strings.TrimSpace(line), "🔴"),
	}, true
}

// classifyEngineLine 决定一行引擎输出的日志级别
func classifyEngineLine(stream Stream, text string) domain.LogLevel {
	if stream == StreamStderr {
		return domain.LogError
	}
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.Contains(trimmed, degradedMarker), strings.HasPrefix(trimmed, "⚠"):
		return domain.LogWarn
	case strings.HasPrefix(trimmed, "❌"):
		return domain.LogError
	}
	return domain.LogInfo
}
