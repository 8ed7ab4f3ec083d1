package hub

import (
	"sync/atomic"
	"time"
)

// atomic64 stores a time.Time behind an atomic.Value so Registration's
// hot last-activity field can be read and written without taking the
// hub's registry lock.
type atomic64 struct {
	v atomic.Value
}

func (a *atomic64) store(t time.Time) {
	a.v.Store(t)
}

func (a *atomic64) load() time.Time {
	v := a.v.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}
