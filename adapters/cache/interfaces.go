//go:generate mockgen -package=cache -destination=mock.go -source=interfaces.go

package cache

import "context"

// ICache 定義了快照快取的讀取介面。
// 鍵值不存在時回傳 (nil, nil)，不視為錯誤。
type ICache interface {
	Get(ctx context.Context, key string) ([]byte, error)
}
