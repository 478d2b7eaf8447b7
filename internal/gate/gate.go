// internal/gate/gate.go
package gate

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultLimit 未配置时的并发上限
const DefaultLimit = 3

// Gate 限制同时在途的模型调用数量
type Gate struct {
	slots chan struct{}
}

// Permit 一次成功获取的调用许可
// Release 可以安全地重复调用，只有第一次生效
type Permit struct {
	gate *Gate
	once sync.Once
}

// NewGate 创建并发门，limit 小于 1 时取 1
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{slots: make(chan struct{}, limit)}
}

// Acquire 获取一个调用许可，等待期间遵循 ctx 取消
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case g.slots <- struct{}{}:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire 非阻塞获取，拿不到许可时返回 nil
func (g *Gate) TryAcquire() *Permit {
	select {
	case g.slots <- struct{}{}:
		return &Permit{gate: g}
	default:
		return nil
	}
}

// InFlight 当前已占用的许可数
func (g *Gate) InFlight() int {
	return len(g.slots)
}

// Limit 许可上限
func (g *Gate) Limit() int {
	return cap(g.slots)
}

// Release 归还许可
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		<-p.gate.slots
	})
}

// LimitFromEnv 读取 LLM_CONCURRENCY 环境变量，无效时回退默认值
func LimitFromEnv() int {
	raw := os.Getenv("LLM_CONCURRENCY")
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return DefaultLimit
	}
	return n
}

// Registry 按作用域管理并发门
// 每个会话使用自己的门，避免不同生命周期的调用方共用一个限流器
type Registry struct {
	mu    sync.Mutex
	gates map[string]*registryEntry
	limit int

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

type registryEntry struct {
	gate     *Gate
	lastUsed time.Time
}

// NewRegistry 创建门注册表，limit 小于 1 时取 LimitFromEnv 的结果
func NewRegistry(limit int) *Registry {
	if limit < 1 {
		limit = LimitFromEnv()
	}
	return &Registry{
		gates:       make(map[string]*registryEntry),
		limit:       limit,
		stopCleanup: make(chan struct{}),
	}
}

// For 返回指定作用域的门，首次使用时惰性创建
// 空作用域表示没有可共享的调用上下文，返回一个独立的新门
func (r *Registry) For(scope string) *Gate {
	if scope == "" {
		return NewGate(r.limit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.gates[scope]
	if !ok {
		entry = &registryEntry{gate: NewGate(r.limit)}
		r.gates[scope] = entry
	}
	entry.lastUsed = time.Now()
	return entry.gate
}

// Drop 移除作用域的门，在会话结束时调用
func (r *Registry) Drop(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gates, scope)
}

// Len 当前注册的作用域数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gates)
}

// StartCleanup 启动后台清理，移除超过 maxIdle 未使用的作用域
func (r *Registry) StartCleanup(interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.dropIdle(maxIdle)
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup 停止后台清理
func (r *Registry) StopCleanup() {
	r.cleanupOnce.Do(func() {
		close(r.stopCleanup)
	})
}

func (r *Registry) dropIdle(maxIdle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for scope, entry := range r.gates {
		// 有在途许可的门不回收
		if entry.gate.InFlight() > 0 {
			continue
		}
		if now.Sub(entry.lastUsed) > maxIdle {
			delete(r.gates, scope)
		}
	}
}
