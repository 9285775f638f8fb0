// pkg/fetcher/retry.go
package fetcher

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy 暂时性故障的重试策略
// 固定退避序列，每次重试前叠加随机抖动缓解数据源限流
type RetryPolicy struct {
	Delays    []time.Duration
	JitterMin time.Duration
	JitterMax time.Duration

	// Sleep 可注入，测试时替换为假时钟
	Sleep func(time.Duration)
}

// DefaultRetryPolicy 默认策略: 2s/5s/10s退避 + 1~3s抖动
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Delays:    []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		JitterMin: 1 * time.Second,
		JitterMax: 3 * time.Second,
		Sleep:     time.Sleep,
	}
}

// Do 执行op，暂时性故障按退避序列重试，其他错误立即返回
func (p *RetryPolicy) Do(ctx context.Context, op func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt >= len(p.Delays) {
			return err
		}

		delay := p.Delays[attempt] + p.jitter()
		log.Printf("数据源请求失败，%v后重试(第%d次): %v", delay, attempt+1, err)
		sleep(delay)
	}
}

func (p *RetryPolicy) jitter() time.Duration {
	if p.JitterMax <= p.JitterMin {
		return p.JitterMin
	}
	return p.JitterMin + time.Duration(rand.Int63n(int64(p.JitterMax-p.JitterMin)))
}
