package health

import (
	"sync/atomic"
	"time"
)

const defaultLoopMaxAge = 10 * time.Second

// LoopMonitor records a background loop's heartbeat so readiness checks can
// tell a stalled loop from a live one.
type LoopMonitor struct {
	tickNano atomic.Int64
	errMsg   atomic.Value // string
}

// Tick records a heartbeat. The loop calls this once per iteration.
func (m *LoopMonitor) Tick() {
	m.tickNano.Store(time.Now().UnixNano())
}

// SetError records the loop's most recent failure. Nil is ignored, so a
// recovered loop keeps its last error visible for diagnosis.
func (m *LoopMonitor) SetError(err error) {
	if err != nil {
		m.errMsg.Store(err.Error())
	}
}

func (m *LoopMonitor) LastError() string {
	s, _ := m.errMsg.Load().(string)
	return s
}

// Healthy reports whether the loop ticked within maxAge of now, along with
// the heartbeat age and the last recorded error. A monitor that never
// ticked is unhealthy.
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	nano := m.tickNano.Load()
	if nano == 0 {
		return false, 0, lastErr
	}
	if maxAge <= 0 {
		maxAge = defaultLoopMaxAge
	}
	if age = now.Sub(time.Unix(0, nano)); age < 0 {
		age = 0
	}
	return age <= maxAge, age, lastErr
}
