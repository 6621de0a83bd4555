// Package client 实现白板客户端的同步核心：变更捕获、回声抑制和会话事件循环。
package client

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate 是可重入的回声抑制计数器。
// 只要还有未释放的 Token，Engaged 就返回 true，此时 Capture 不会把本地 Store 的变更当作本地编辑发出。
type Gate struct {
	held atomic.Int32
}

// Token 是一次抑制。Release 可以重复调用，只生效一次。
type Token struct {
	gate *Gate
	once sync.Once
}

// Acquire 在应用远端变更之前调用，配合 defer tok.Release() 使用
func (g *Gate) Acquire() *Token {
	g.held.Add(1)
	return &Token{gate: g}
}

// Release 释放抑制
func (t *Token) Release() {
	t.once.Do(func() { t.gate.held.Add(-1) })
}

// Engaged 报告是否有未释放的 Token
func (g *Gate) Engaged() bool {
	return g.held.Load() > 0
}

// Hold 在抑制状态下执行 fn，fn 出错或 panic 时也会释放
func (g *Gate) Hold(fn func() error) error {
	tok := g.Acquire()
	defer tok.Release()
	return fn()
}

type suspensionKey struct{}

// WithSuspension 返回携带抑制标记的 ctx。
// 用这样的 ctx 调用 Session 的本地编辑方法时，变更只作用于本地，不会复制到房间。
func WithSuspension(ctx context.Context) context.Context {
	return context.WithValue(ctx, suspensionKey{}, true)
}

// Suspended 报告 ctx 是否携带抑制标记
func Suspended(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(suspensionKey{}).(bool)
	return v
}
