package counter

import "sync/atomic"

// Counter is a non-negative, only-growing int64.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Load() int64 { return c.value.Load() }

// Inc adds one and returns the new value.
func (c *Counter) Inc() int64 { return c.value.Add(1) }
