package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Strategy string

const (
	Exponential Strategy = "exponential"
	Fixed       Strategy = "fixed"
)

// noCap MaxDelay <= 0 时的等待上限
const noCap = time.Duration(math.MaxInt64)

// Policy 一次调用的重试预算：最多执行 MaxRetries+1 次
// 等待时间单调不减，不加抖动
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	// MaxDelay 单次等待上限，<= 0 表示不设上限；小于 Delay 时按 Delay 处理
	MaxDelay   time.Duration
	Multiplier float64
	Strategy   Strategy
	// NewTimer 每次 Do 创建一个计时器，nil 使用真实计时器
	NewTimer func() backoff.Timer
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Delay:      time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Strategy:   Exponential,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	switch {
	case p.MaxDelay <= 0:
		p.MaxDelay = noCap
	case p.MaxDelay < p.Delay:
		p.MaxDelay = p.Delay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Strategy == "" {
		p.Strategy = Exponential
	}
	return p
}

// NewBackOff 返回不含次数限制的等待序列
func (p Policy) NewBackOff() backoff.BackOff {
	p = p.normalized()
	if p.Strategy == Fixed {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delays 每次重试前的等待时间
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	b := p.NewBackOff()
	out := make([]time.Duration, 0, p.MaxRetries)
	for i := 0; i < p.MaxRetries; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Notify 在每次重试等待前调用，attempt 为已执行次数
type Notify func(err error, attempt int, wait time.Duration)

// Do 执行 op 直到成功、返回 Permanent 错误、次数耗尽或 ctx 取消
// 返回最后一次的错误，ctx 取消时返回 ctx.Err()
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify Notify) error {
	p = p.normalized()
	attempt := 0
	operation := func() error {
		attempt++
		return op(attempt)
	}
	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}
	}
	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.NewBackOff(), uint64(p.MaxRetries)), ctx)
	return backoff.RetryNotifyWithTimer(operation, b, n, timer)
}

// Permanent 包装后的错误不再重试，Do 返回原始错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
