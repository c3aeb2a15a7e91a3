// Package occ 提供乐观并发控制（版本号 CAS）的通用重试封装。
package occ

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const DefaultMaxAttempts = 3

var (
	// ErrConflict 由仓储在条件写入失败（版本号不匹配或状态已被改变）时返回。
	ErrConflict = errors.New("optimistic lock conflict")
	// ErrExhausted 表示重试次数耗尽，调用方可以自行决定是否在更高层重试。
	ErrExhausted = errors.New("optimistic locking retries exhausted")
)

// Controller 对任意带版本号的实体执行 "读取 -> 计算 -> 条件写入" 循环。
type Controller struct {
	maxAttempts int
	backoff     time.Duration
	observer    func(attempt int)
}

type Option func(*Controller)

// WithMaxAttempts 设置最多尝试次数（包括第一次）。
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff 设置两次尝试之间的线性退避间隔。
func WithBackoff(d time.Duration) Option {
	return func(c *Controller) { c.backoff = d }
}

// WithObserver 在每次冲突后回调，用于打点。
func WithObserver(fn func(attempt int)) Option {
	return func(c *Controller) { c.observer = fn }
}

func NewController(opts ...Option) *Controller {
	c := &Controller{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Run 执行一次完整的乐观锁循环。
// load 每次尝试都会重新读取实体；apply 基于读到的快照计算新状态并做条件写入，
// 版本冲突时必须返回（包装后的）ErrConflict。其他错误立即返回，不做重试。
func Run[T any](ctx context.Context, c *Controller, load func(ctx context.Context) (T, error), apply func(ctx context.Context, current T) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		current, err := load(ctx)
		if err != nil {
			return zero, err
		}

		updated, err := apply(ctx, current)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return zero, err
		}

		lastErr = err
		if c.observer != nil {
			c.observer(attempt)
		}
		if c.backoff > 0 && attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	return zero, errors.Wrapf(ErrExhausted, "after %d attempts: %v", c.maxAttempts, lastErr)
}
