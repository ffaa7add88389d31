package engine

import (
	"fmt"
	"strconv"
	"time"
)

// OutputOf looks key up in t's own outputs, then depth-first through
// Dependencies in declaration order. The first present value wins.
func OutputOf(t Task, key Output) (any, bool) {
	return resolveOutput(t, key, make(map[*BaseTask]struct{}))
}

func resolveOutput(t Task, key Output, seen map[*BaseTask]struct{}) (any, bool) {
	b := t.core()
	if _, ok := seen[b]; ok {
		return nil, false
	}
	seen[b] = struct{}{}
	if v, ok := b.ownOutput(key); ok {
		return v, true
	}
	for _, d := range t.Dependencies() {
		if d == nil {
			continue
		}
		if v, ok := resolveOutput(d, key, seen); ok {
			return v, true
		}
	}
	return nil, false
}

// OutputAs resolves key and checks its type. A present value of another
// type is an error, never a silent zero.
func OutputAs[T any](t Task, key Output) (T, bool, error) {
	var zero T
	v, ok := OutputOf(t, key)
	if !ok {
		return zero, false, nil
	}
	out, err := as[T](v, string(key))
	return out, err == nil, err
}

// OutputString is OutputAs for strings.
func OutputString(t Task, key Output) (string, bool, error) {
	return OutputAs[string](t, key)
}

// OutputList resolves key as a list. Absent yields nil.
func OutputList[T any](t Task, key Output) ([]T, error) {
	v, ok := OutputOf(t, key)
	if !ok {
		return nil, nil
	}
	return asList[T](v, string(key))
}

// InputAs resolves an input and checks its type. Inputs given on the
// command line or in the environment arrive as strings, so a string is
// parsed when T is a duration, bool or int.
func InputAs[T any](t Task, key Input) (T, bool, error) {
	var zero T
	v, ok := t.core().Input(key)
	if !ok {
		return zero, false, nil
	}
	if str, isString := v.(string); isString {
		if parsed, handled, err := parseScalar[T](str, string(key)); handled {
			return parsed, err == nil, err
		}
	}
	out, err := as[T](v, string(key))
	return out, err == nil, err
}

func parseScalar[T any](s, key string) (T, bool, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case *time.Duration:
		*p, err = time.ParseDuration(s)
	case *bool:
		*p, err = strconv.ParseBool(s)
	case *int:
		*p, err = strconv.Atoi(s)
	default:
		return out, false, nil
	}
	if err != nil {
		var zero T
		return zero, true, fmt.Errorf("%s: %w: %v", key, ErrWrongType, err)
	}
	return out, true, nil
}

// InputList resolves an input as a list. Absent yields nil.
func InputList[T any](t Task, key Input) ([]T, error) {
	v, ok := t.core().Input(key)
	if !ok {
		return nil, nil
	}
	return asList[T](v, string(key))
}

func as[T any](v any, key string) (T, error) {
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: %w: got %T, want %T", key, ErrWrongType, v, zero)
	}
	return out, nil
}

func asList[T any](v any, key string) ([]T, error) {
	switch l := v.(type) {
	case []T:
		return l, nil
	case []any:
		out := make([]T, 0, len(l))
		for i, item := range l {
			x, err := as[T](item, fmt.Sprintf("%s[%d]", key, i))
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	default:
		var zero []T
		return nil, fmt.Errorf("%s: %w: got %T, want %T", key, ErrWrongType, v, zero)
	}
}
