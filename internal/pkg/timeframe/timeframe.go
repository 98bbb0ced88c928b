package timeframe

import (
	"sort"
	"time"
)

// 中文说明：
// 周期工具：解析 1m/30m/1h/4h/1d/1w 等写法，换算分钟数用于优先级排序。
// 趋势确认的 TTL 固定为 2 倍周期时长。

// Minutes 返回周期对应的分钟数；非法写法返回 0。
// 后缀权重：m=1、h=60、d=1440、w=10080，缺省按分钟。
func Minutes(tf string) int {
	if tf == "" {
		return 0
	}
	n := 0
	i := 0
	for ; i < len(tf); i++ {
		c := tf[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0
	}
	if i == len(tf) {
		return n
	}
	if i != len(tf)-1 {
		return 0
	}
	switch tf[i] {
	case 'm':
		return n
	case 'h':
		return n * 60
	case 'd':
		return n * 1440
	case 'w':
		return n * 10080
	}
	return 0
}

// Duration 返回周期时长；非法写法返回 0。
func Duration(tf string) time.Duration {
	return time.Duration(Minutes(tf)) * time.Minute
}

// TTL 趋势确认的存活时长 = 2×周期。
func TTL(tf string) time.Duration {
	return 2 * Duration(tf)
}

// SortByPriority 按优先级（分钟数）从高到低排序，返回副本。
func SortByPriority(tfs []string) []string {
	out := make([]string, len(tfs))
	copy(out, tfs)
	sort.SliceStable(out, func(i, j int) bool {
		return Minutes(out[i]) > Minutes(out[j])
	})
	return out
}

// Main 返回列表中优先级最高（分钟数最大）的周期；空列表返回空串。
func Main(tfs []string) string {
	main := ""
	best := -1
	for _, tf := range tfs {
		if m := Minutes(tf); m > best {
			best = m
			main = tf
		}
	}
	return main
}

// Valid 判断是否为合法周期写法。
func Valid(tf string) bool {
	return Minutes(tf) > 0
}
