package channel

import "fmt"

// ReplaceReducer implements LastValue semantics: LastValue(a, b) = b.
func ReplaceReducer(_, incoming any) (any, error) {
	return incoming, nil
}

// AppendReducer implements Topic semantics: Topic(a, b) = a ++ b.
// current must be absent (nil slice) or a []any; incoming may be a single
// value or a []any, both are flattened onto the running list.
func AppendReducer(current, incoming any) (any, error) {
	var list []any
	if current != nil {
		existing, ok := current.([]any)
		if !ok {
			return nil, fmt.Errorf("channel: topic reducer: current value is %T, want []any", current)
		}
		list = append(list, existing...)
	}
	switch v := incoming.(type) {
	case []any:
		list = append(list, v...)
	default:
		list = append(list, v)
	}
	return list, nil
}

// BinaryOpReducer adapts a user fold function fn(current, incoming) → new
// into a channel.Reducer. fn is never invoked on an empty write set — the
// registry only calls the reducer when at least one write is staged.
func BinaryOpReducer(fn func(current, incoming any) any) Reducer {
	return func(current, incoming any) (any, error) {
		return fn(current, incoming), nil
	}
}
