package health

import (
	"context"
	"sync/atomic"
	"time"
)

// LoopMonitor 记录后台循环的最近心跳与错误
type LoopMonitor struct {
	lastTickUnixNano atomic.Int64
	lastErr          atomic.Value // string
}

func (m *LoopMonitor) Tick() {
	m.lastTickUnixNano.Store(time.Now().UnixNano())
}

func (m *LoopMonitor) SetError(err error) {
	if err == nil {
		return
	}
	m.lastErr.Store(err.Error())
}

func (m *LoopMonitor) LastError() string {
	if s, ok := m.lastErr.Load().(string); ok {
		return s
	}
	return ""
}

// Healthy reports whether the loop ticked within maxAge. A loop that never
// ticked is unhealthy.
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastTickUnixNano.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	t := time.Unix(0, last)
	if now.Before(t) {
		return true, 0, lastErr
	}
	age = now.Sub(t)
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return age <= maxAge, age, lastErr
}

type loopChecker struct {
	name   string
	mon    *LoopMonitor
	maxAge time.Duration
}

// NewLoopChecker 将 LoopMonitor 注册为就绪依赖
func NewLoopChecker(name string, mon *LoopMonitor, maxAge time.Duration) Checker {
	return &loopChecker{name: name, mon: mon, maxAge: maxAge}
}

func (c *loopChecker) Name() string { return c.name }

func (c *loopChecker) Check(_ context.Context) CheckResult {
	if c.mon == nil {
		return CheckResult{Status: StatusDown, Message: "nil monitor"}
	}
	ok, age, lastErr := c.mon.Healthy(time.Now(), c.maxAge)
	if !ok {
		msg := "stalled"
		if lastErr != "" {
			msg = lastErr
		}
		return CheckResult{Status: StatusDown, Latency: age, Message: msg}
	}
	return CheckResult{Status: StatusUp, Latency: age}
}
