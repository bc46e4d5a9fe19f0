package broker

// SessionTrace holds hooks run around a client session. OnRun is called
// as the session starts, the func it returns once the session is over
// with the error that ended it, nil for a clean DISCONNECT.
type SessionTrace struct {
	OnRun func(id string) func(err error)
}

// Compose returns a trace running the hooks of a then those of b
func (a SessionTrace) Compose(b SessionTrace) (c SessionTrace) {
	switch {
	case a.OnRun == nil:
		c.OnRun = b.OnRun
	case b.OnRun == nil:
		c.OnRun = a.OnRun
	default:
		c.OnRun = func(id string) func(error) {
			doneA := a.OnRun(id)
			doneB := b.OnRun(id)
			switch {
			case doneA == nil:
				return doneB
			case doneB == nil:
				return doneA
			default:
				return func(err error) {
					doneA(err)
					doneB(err)
				}
			}
		}
	}
	return c
}

func (a SessionTrace) run(id string) func(error) {
	if a.OnRun == nil {
		return func(error) {}
	}
	done := a.OnRun(id)
	if done == nil {
		return func(error) {}
	}
	return done
}
