package trace

import "io"

// Reduce drops repeated hits that changed nothing and annotates every
// remaining step with the variables that changed since the previous emitted
// step. A name that disappears is not reported; the next snapshot simply
// lacks it.
func Reduce(raw []RawStep) Trace {
	steps := make(Trace, 0, len(raw))
	var lastVars Vars
	for _, r := range raw {
		if n := len(steps); n > 0 && steps[n-1].Line == r.Line && steps[n-1].Variables.Equal(r.Variables) {
			continue
		}
		changed := make([]Change, 0)
		for _, name := range r.Variables.keys {
			value := r.Variables.values[name]
			prev, ok := lastVars.Get(name)
			if ok && prev == value {
				continue
			}
			if !ok {
				prev = NotAvailable
			}
			changed = append(changed, Change{Name: name, Value: value, Previous: prev})
		}
		steps = append(steps, Step{
			Line:         r.Line,
			Variables:    r.Variables,
			Dereferenced: Dereferenced{Structures: r.Dereferenced},
			ChangedVars:  changed,
		})
		lastVars = r.Variables
	}
	return steps
}

// Extract parses and reduces a transcript in one go.
func Extract(r io.Reader) (Trace, error) {
	raw, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return Reduce(raw), nil
}
