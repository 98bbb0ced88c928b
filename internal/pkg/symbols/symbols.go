package symbols

import "strings"

// 中文说明：
// 告警里的交易对写法不统一（OP_USDT / OPUSDT / op），这里统一成
// 交易所通用的基础形态，并提供 Bitget 两代接口的符号转换。

// Normalize 把告警符号规整为 XXXUSDT 形态（去下划线、大写、补 USDT）。
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}

// BitgetSymbolID 返回 Bitget v1 合约符号（XXXUSDT_UMCBL）。
func BitgetSymbolID(raw string) string {
	s := Normalize(raw)
	if s == "" {
		return ""
	}
	return s + "_UMCBL"
}

// BitgetV2Symbol 返回 Bitget v2 接口使用的符号（与基础形态一致）。
func BitgetV2Symbol(raw string) string {
	return Normalize(raw)
}
