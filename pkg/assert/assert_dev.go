//go:build !release

// Package assert guards internal invariants. A failed assertion is a bug in this module, never a
// user error, so it panics in development builds and compiles to nothing with the release tag.
package assert

import "fmt"

func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
