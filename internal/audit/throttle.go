package audit

import "time"

// Progress-event throttle: the sweep surfaces at most MaxProgressEdits
// observable progress events per tick, at least ProgressEditMinGap apart.
const (
	MaxProgressEdits   = 15
	ProgressEditMinGap = 600 * time.Millisecond
)

type progressThrottle struct {
	now    func() time.Time
	events int
	last   time.Time
}

func newProgressThrottle(now func() time.Time) *progressThrottle {
	return &progressThrottle{now: now}
}

// allow reports whether another progress event may fire, consuming one
// event slot when it does.
func (p *progressThrottle) allow() bool {
	if p.events >= MaxProgressEdits {
		return false
	}
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < ProgressEditMinGap {
		return false
	}
	p.events++
	p.last = now
	return true
}
