package types

// Matcher decides whether an event is delivered to a subscription.
type Matcher interface {
	Matches(ev Event) bool
}

// Filter restricts delivery by kind, event type and room. An empty field
// matches everything, so the zero Filter matches every event.
type Filter struct {
	Kinds []Kind
	Types []string
	Rooms []string
}

// Any matches every event.
var Any = Filter{}

// Matches implements Matcher.
func (f Filter) Matches(ev Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, ev.Type) {
		return false
	}
	if len(f.Rooms) > 0 && !containsString(f.Rooms, ev.RoomID) {
		return false
	}
	return true
}

// OfKind matches events of any of the given kinds.
func OfKind(kinds ...Kind) Filter {
	return Filter{Kinds: kinds}
}

// OfType matches events whose type is one of types.
func OfType(types ...string) Filter {
	return Filter{Types: types}
}

// FilterFunc adapts a predicate to Matcher.
type FilterFunc func(ev Event) bool

// Matches implements Matcher.
func (f FilterFunc) Matches(ev Event) bool { return f(ev) }

func containsKind(list []Kind, k Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
