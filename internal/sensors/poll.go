package sensors

import "github.com/sweeney/circ-pump/internal/logic"

// Phase is the state of the poll cycle.
type Phase int

const (
	// AwaitingConversion waits for the repeat interval before starting a conversion.
	AwaitingConversion Phase = iota
	// AwaitingRead waits for the conversion to finish before reading.
	AwaitingRead
)

func (p Phase) String() string {
	if p == AwaitingRead {
		return "awaiting-read"
	}
	return "awaiting-conversion"
}

type action int

const (
	actionNone action = iota
	actionConvert
	actionRead
)

// poller is the two-phase poll timer.
type poller struct {
	phase          Phase
	last           logic.Millis
	convertTimeout logic.Millis
	// repeatTimeout is stored net of convertTimeout.
	repeatTimeout logic.Millis
}

func (p *poller) setRepeatInterval(total logic.Millis) {
	if total > p.convertTimeout {
		p.repeatTimeout = total - p.convertTimeout
	} else {
		p.repeatTimeout = 0
	}
}

func (p *poller) arm(now logic.Millis) {
	p.phase = AwaitingConversion
	p.last = now
}

func (p *poller) advance(now logic.Millis) action {
	switch p.phase {
	case AwaitingConversion:
		if now.Since(p.last) >= p.repeatTimeout {
			p.last = now
			p.phase = AwaitingRead
			return actionConvert
		}
	case AwaitingRead:
		if now.Since(p.last) >= p.convertTimeout {
			p.last = now
			p.phase = AwaitingConversion
			return actionRead
		}
	}
	return actionNone
}
