package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy 在限定时间内拿不到账户的独占权
var ErrBusy = errors.New("账户繁忙，请稍后重试")

// Guard 账户维度的互斥
//
// WithExclusive 保证同一 accountID 上同一时刻只有一个 fn 在执行，
// 不同账户之间完全并行。每次操作只锁一个账户，因此不存在循环等待。
//
// 在等待期间 ctx 被取消或等待超过上限时返回 ErrBusy，此时 fn 不会执行。
// 一旦拿到独占权，fn 收到的 context 不再受调用方取消影响，保证提交跑完。
type Guard interface {
	WithExclusive(ctx context.Context, accountID string, fn func(ctx context.Context) error) error
}

// ============================================================================
// 进程内实现
// ============================================================================

type slot struct {
	ch   chan struct{}
	refs int
}

// LocalGuard 单实例部署使用的进程内账户锁
//
// 每个账户一个容量为 1 的 channel，等待者按到达顺序排队。
// 没有持有者也没有等待者的账户会被回收。
type LocalGuard struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

func NewLocalGuard(wait time.Duration) *LocalGuard {
	return &LocalGuard{
		slots: make(map[string]*slot),
		wait:  wait,
	}
}

func (g *LocalGuard) WithExclusive(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	s := g.ref(accountID)
	defer g.unref(accountID)

	timer := time.NewTimer(g.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: 等待超过 %s", ErrBusy, g.wait)
	}
	defer func() { <-s.ch }()

	return fn(context.WithoutCancel(ctx))
}

func (g *LocalGuard) ref(accountID string) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[accountID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		g.slots[accountID] = s
	}
	s.refs++
	return s
}

func (g *LocalGuard) unref(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.slots[accountID]
	s.refs--
	if s.refs == 0 {
		delete(g.slots, accountID)
	}
}

// ============================================================================
// Redis 实现
// ============================================================================

// RedisGuard 多实例部署使用的账户锁，基于 DistributedLock
//
// 锁的 TTL 必须大于一次提交的最长耗时，否则锁过期后会有第二个持有者进入。
type RedisGuard struct {
	client        redis.UniversalClient
	wait          time.Duration
	ttl           time.Duration
	retryInterval time.Duration
	log           *zap.Logger
}

func NewRedisGuard(client redis.UniversalClient, wait, ttl, retryInterval time.Duration, log *zap.Logger) *RedisGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisGuard{
		client:        client,
		wait:          wait,
		ttl:           ttl,
		retryInterval: retryInterval,
		log:           log,
	}
}

func (g *RedisGuard) WithExclusive(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	l := NewDistributedLock(g.client, AccountLockKey(accountID), uuid.NewString(), g.ttl)

	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()

	if err := l.Lock(waitCtx, g.retryInterval); err != nil {
		if errors.Is(err, ErrLockFailed) {
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := l.Unlock(runCtx); err != nil {
			g.log.Warn("释放账户锁失败", zap.String("account_id", accountID), zap.Error(err))
		}
	}()

	return fn(runCtx)
}

var (
	_ Guard = (*LocalGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
