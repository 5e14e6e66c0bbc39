// Package setutil provides distinct/equality-on-sets helpers, used for
// de-duplicating a Gateway's sessionIds and for Provider.updateClients's
// no-op comparison.
package setutil

import "golang.org/x/exp/slices"

// Dedup returns ids with duplicates removed, preserving first-seen order.
func Dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Equal reports whether a and b contain the same elements, ignoring order
// and duplicates.
func Equal(a, b []string) bool {
	da, db := Dedup(a), Dedup(b)
	if len(da) != len(db) {
		return false
	}
	sa, sb := append([]string(nil), da...), append([]string(nil), db...)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}
