package protocol

// 快取鍵值命名空間，由外部程序寫入
const (
	KeyProcesses     = "processes:all"
	KeyMetricsAll    = "metrics:all"
	KeyRevenueLatest = "revenue:latest"
)

// MetricsKey 回傳指定平台的指標鍵值，未指定平台時回傳 metrics:all
func MetricsKey(platform string) string {
	if platform == "" {
		return KeyMetricsAll
	}
	return "metrics:" + platform
}

// RevenueKey 回傳指定區間的營收鍵值，未指定區間時回傳 revenue:latest
func RevenueKey(timeframe string) string {
	if timeframe == "" {
		return KeyRevenueLatest
	}
	return "revenue:" + timeframe
}
