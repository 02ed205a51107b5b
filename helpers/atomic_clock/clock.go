// Package atomic_clock is convenient API around atomic int64 system clock.
// Used for last-request and last-fault timestamps in stats.
// Do not use where time zone matters.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) get() int64    { return atomic.LoadInt64(&c.v) }
func (c *Clock) set(new int64) { atomic.StoreInt64(&c.v, new) }

func (c *Clock) IsZero() bool { return c.get() == 0 }

func (c *Clock) Set(new int64)       { c.set(new) }
func (c *Clock) SetNow()             { c.set(source()) }
func (c *Clock) SetTime(t time.Time) { c.set(t.UnixNano()) }

func (c *Clock) UnixNano() int64 { return c.get() }
func (c *Clock) Unix() int64     { return c.get() / int64(time.Second) }
func (c *Clock) Time() time.Time {
	v := c.get()
	return time.Unix(v/int64(time.Second), v%int64(time.Second))
}

// String formats as RFC3339 with milliseconds or "never" for zero clock.
func (c *Clock) String() string {
	if c.IsZero() {
		return "never"
	}
	return c.Time().Format("2006-01-02T15:04:05.000Z07:00")
}

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(source()) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.get()) }
func Source() int64                    { return source() }
