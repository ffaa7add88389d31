package cleanup

import "strings"

// Predicate decides whether a resource matches.
type Predicate func(r Resource) (bool, error)

// All matches every resource.
func All() Predicate {
	return func(Resource) (bool, error) { return true, nil }
}

// None matches nothing.
func None() Predicate {
	return func(Resource) (bool, error) { return false, nil }
}

// NamePrefix matches resources whose name starts with prefix.
func NamePrefix(prefix string) Predicate {
	return func(r Resource) (bool, error) {
		return prefix != "" && strings.HasPrefix(r.Name, prefix), nil
	}
}

// TagPrefix matches resources whose tag key starts with prefix.
func TagPrefix(key, prefix string) Predicate {
	return func(r Resource) (bool, error) {
		v, ok := r.Tags[key]
		return ok && prefix != "" && strings.HasPrefix(v, prefix), nil
	}
}

// NotDefault excludes the provider's default resources.
func NotDefault() Predicate {
	return func(r Resource) (bool, error) {
		return !r.Default, nil
	}
}

// AttributeEquals matches resources whose attribute key equals value.
func AttributeEquals(key, value string) Predicate {
	return func(r Resource) (bool, error) {
		return r.Attributes[key] == value, nil
	}
}

// StateIn matches resources in one of states.
func StateIn(states ...string) Predicate {
	return func(r Resource) (bool, error) {
		for _, s := range states {
			if r.State == s {
				return true, nil
			}
		}
		return false, nil
	}
}

// And matches when every predicate matches. It stops at the first miss.
func And(ps ...Predicate) Predicate {
	return func(r Resource) (bool, error) {
		for _, p := range ps {
			ok, err := p(r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or matches when any predicate matches.
func Or(ps ...Predicate) Predicate {
	return func(r Resource) (bool, error) {
		for _, p := range ps {
			ok, err := p(r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(r Resource) (bool, error) {
		ok, err := p(r)
		return !ok && err == nil, err
	}
}
