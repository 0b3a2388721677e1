package alarm

// TimerRearmer arms one-shot host alarms. With no alarms it does nothing and
// the process depends on the host invoking it some other way.
type TimerRearmer struct {
	alarms Set
}

// NewTimerRearmer returns a TimerRearmer driving alarms.
func NewTimerRearmer(alarms Set) *TimerRearmer {
	return &TimerRearmer{alarms: alarms}
}

// Alarms returns the alarms being re-armed.
func (r *TimerRearmer) Alarms() Set {
	return r.alarms
}

// Rearm implements Rearmer. The returned decision reflects the first
// alarm's bounds.
func (r *TimerRearmer) Rearm(p Pending) Decision {
	if len(r.alarms) == 0 {
		return Nop{}.Rearm(p)
	}

	var first Decision
	for i, a := range r.alarms {
		min, max := a.Bounds()
		d := Plan(p, min, max)
		switch d.Kind {
		case KindImmediate:
			a.TriggerNow()
		case KindDelayed:
			a.SetDelay(d.Delay)
			a.Start()
		}
		if i == 0 {
			first = d
		}
	}
	return first
}
