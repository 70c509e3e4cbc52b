package protocol

// State is a value with the backend timestamp (milliseconds since epoch)
// of its last change. A zero Ts means the timestamp is absent.
type State struct {
	Val any   `json:"val"`
	Ts  int64 `json:"ts,omitempty"`
	Ack bool  `json:"ack,omitempty"`
}

// HasTimestamp reports whether the state carries a timestamp.
func (s *State) HasTimestamp() bool {
	return s != nil && s.Ts != 0
}

// NewerThan reports whether s should replace a value stamped current.
// Only a timestamped state that is strictly newer wins; an absent current
// timestamp loses to any timestamped state. Equal timestamps do not apply.
func (s *State) NewerThan(current int64) bool {
	if !s.HasTimestamp() {
		return false
	}
	return current == 0 || s.Ts > current
}

// Truthy reports whether an alive-style state value counts as true.
func (s *State) Truthy() bool {
	if s == nil {
		return false
	}
	return truthy(s.Val)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
