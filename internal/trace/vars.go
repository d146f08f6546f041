package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Vars maps variable names to the text the debugger printed for them. Keys
// are unique and the last write wins; iteration follows the order in which
// names were first seen so that traces are reproducible.
type Vars struct {
	keys   []string
	values map[string]string
}

// VarsOf builds Vars from alternating name, value pairs.
func VarsOf(pairs ...string) Vars {
	var v Vars
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

func (v *Vars) Set(name, value string) {
	if v.values == nil {
		v.values = make(map[string]string)
	}
	if _, ok := v.values[name]; !ok {
		v.keys = append(v.keys, name)
	}
	v.values[name] = value
}

func (v Vars) Get(name string) (string, bool) {
	value, ok := v.values[name]
	return value, ok
}

func (v Vars) Len() int {
	return len(v.keys)
}

// Names returns the variable names in first-seen order.
func (v Vars) Names() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Map returns an unordered copy.
func (v Vars) Map() map[string]string {
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Equal reports whether both snapshots hold the same names and values,
// regardless of order.
func (v Vars) Equal(other Vars) bool {
	if len(v.values) != len(other.values) {
		return false
	}
	for k, val := range v.values {
		if ov, ok := other.values[k]; !ok || ov != val {
			return false
		}
	}
	return true
}

func (v Vars) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *Vars) UnmarshalJSON(data []byte) error {
	*v = Vars{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("variables: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("variables: expected name, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("variables: value of %q: %w", name, err)
		}
		v.Set(name, value)
	}
	_, err = dec.Token()
	return err
}
