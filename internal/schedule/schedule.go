// Package schedule orders a batch of generated test units so that
// authentication happens before anything that could depend on it.
package schedule

import "github.com/dbbuilder/autoplaytest/api/schemas"

// Order stable-partitions units into login units followed by everything else.
// Relative order within each partition is preserved, so any intentional
// sequencing the generator encoded among non-login units (create before read
// in a CRUD flow, for example) survives. With no login units the output
// equals the input. Pure function, no failure mode.
func Order(units []schemas.TestUnit) []schemas.TestUnit {
	ordered := make([]schemas.TestUnit, 0, len(units))
	for _, u := range units {
		if u.Category == schemas.CategoryLogin {
			ordered = append(ordered, u)
		}
	}
	if len(ordered) == 0 {
		// Identity. Still copy so callers can't alias the input slice.
		return append(ordered, units...)
	}
	for _, u := range units {
		if u.Category != schemas.CategoryLogin {
			ordered = append(ordered, u)
		}
	}
	return ordered
}
