// Package strings holds small string helpers shared by request models.
package strings

import (
	"slices"
	"strings"
)

// LowerSet trims and lowercases values, drops empties and duplicates, and
// returns the rest sorted. Nil in, nil out.
func LowerSet(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
