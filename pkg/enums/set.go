package enums

import (
	"fmt"
	"slices"
)

// set is a closed enumeration in declaration order.
type set[T ~string] []T

func (s set[T]) has(value T) bool {
	return slices.Contains(s, value)
}

func (s set[T]) values() []T {
	return slices.Clone(s)
}

func (s set[T]) parse(kind, raw string) (T, error) {
	for _, candidate := range s {
		if string(candidate) == raw {
			return candidate, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
