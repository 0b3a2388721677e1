package alarm

import "time"

// Frequency is a host polling rate expressed in host ticks.
type Frequency int

const (
	FrequencyNone Frequency = iota
	FrequencyEvery1
	FrequencyEvery10
	FrequencyEvery100
)

// Ticks returns how many host ticks pass between invocations, or 0 for
// FrequencyNone.
func (f Frequency) Ticks() int {
	switch f {
	case FrequencyEvery1:
		return 1
	case FrequencyEvery10:
		return 10
	case FrequencyEvery100:
		return 100
	default:
		return 0
	}
}

func (f Frequency) String() string {
	switch f {
	case FrequencyEvery1:
		return "every1"
	case FrequencyEvery10:
		return "every10"
	case FrequencyEvery100:
		return "every100"
	default:
		return "none"
	}
}

// FrequencySetter is a host that polls the program at a configurable rate
// instead of exposing alarms.
type FrequencySetter interface {
	SetUpdateFrequency(f Frequency)
}

// DefaultTickPeriod is the host tick length assumed when none is given.
const DefaultTickPeriod = time.Second / 60

// FrequencyRearmer picks the slowest polling rate that still wakes the
// program before the next timed entry is due.
type FrequencyRearmer struct {
	host       FrequencySetter
	tickPeriod time.Duration
}

// NewFrequencyRearmer returns a FrequencyRearmer for host. A non-positive
// tickPeriod selects DefaultTickPeriod.
func NewFrequencyRearmer(host FrequencySetter, tickPeriod time.Duration) *FrequencyRearmer {
	if tickPeriod <= 0 {
		tickPeriod = DefaultTickPeriod
	}
	return &FrequencyRearmer{host: host, tickPeriod: tickPeriod}
}

// Rearm implements Rearmer.
func (r *FrequencyRearmer) Rearm(p Pending) Decision {
	d := r.decide(p)
	if r.host == nil {
		if d.Kind != KindDormant {
			d.Kind = KindUnarmed
		}
		return d
	}
	r.host.SetUpdateFrequency(d.Frequency)
	return d
}

func (r *FrequencyRearmer) decide(p Pending) Decision {
	if p.TickEntries > 0 {
		return Decision{Kind: KindImmediate, Frequency: FrequencyEvery1}
	}
	if p.TimeEntries == 0 {
		return Decision{Kind: KindDormant, Frequency: FrequencyNone}
	}

	next := p.NextTime - p.Now
	var f Frequency
	switch {
	case next < 10*r.tickPeriod:
		f = FrequencyEvery1
	case next < 100*r.tickPeriod:
		f = FrequencyEvery10
	default:
		f = FrequencyEvery100
	}
	if f == FrequencyEvery1 {
		return Decision{Kind: KindImmediate, Frequency: f}
	}
	return Decision{Kind: KindDelayed, Delay: time.Duration(f.Ticks()) * r.tickPeriod, Frequency: f}
}
