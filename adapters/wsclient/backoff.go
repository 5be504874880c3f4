package wsclient

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// unbounded 用於不設上限時的 MaxInterval，保留空間避免 float 轉換溢位
const unbounded = time.Duration(math.MaxInt64 / 2)

// Delay 回傳第 attempt 次（從 1 開始）重連前的等待時間 base × 2^(attempt−1)。
// maxDelay 大於 0 時，結果不會超過 maxDelay。
func Delay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.MaxInterval = unbounded
	if maxDelay > 0 {
		b.MaxInterval = maxDelay
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}
