// Package lifecycle holds process state shared by the HTTP handlers.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle flips to draining on shutdown: readiness fails and new media
// streams are refused while live calls finish.
type Lifecycle struct {
	draining   atomic.Bool
	drainSince atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if draining && !l.draining.Swap(true) {
		l.drainSince.Store(time.Now().UnixNano())
		return
	}
	if !draining {
		l.draining.Store(false)
		l.drainSince.Store(0)
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince returns when draining started, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainSince.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
