// Package sequence hands out order ids. Every boundary that builds orders
// (HTTP, redis stream, simulator) draws from one shared Counter so ids stay
// unique and increasing for the life of the process.
package sequence

import "sync/atomic"

type Counter struct {
	last atomic.Int64
}

// NewCounter starts after start; the first Next returns start+1.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.last.Store(start)
	return c
}

func (c *Counter) Next() int64 {
	return c.last.Add(1)
}

// Reserve claims an externally assigned id. It succeeds only when id is above
// every id handed out or reserved so far; later Next calls never return it.
func (c *Counter) Reserve(id int64) bool {
	for {
		cur := c.last.Load()
		if id <= cur {
			return false
		}
		if c.last.CompareAndSwap(cur, id) {
			return true
		}
	}
}

func (c *Counter) Last() int64 {
	return c.last.Load()
}
