package metrics

// Fanout forwards each event to every observer in order.
type Fanout []Observer

func (f Fanout) RecordEvent(ev MetricsEvent) {
	for _, o := range f {
		if o != nil {
			o.RecordEvent(ev)
		}
	}
}

// Compose flattens a set of observers into one, skipping nils.
func Compose(observers ...Observer) Observer {
	out := make(Fanout, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
