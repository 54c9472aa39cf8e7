package mapslicehelp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}

// LongestKey returns the length of the longest key, e.g. for aligning output.
func LongestKey[V any](m *orderedmap.OrderedMap[string, V]) int {
	n := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		if len(p.Key) > n {
			n = len(p.Key)
		}
	}
	return n
}
