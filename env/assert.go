package env

import "fmt"

// Assertions guard fatal invariant violations. They abort the process
// (panic) rather than return an error: a TLH whose alloc pointer passed
// realTop, or a dispatcher slot in an impossible state, is not
// recoverable.

// Assert panics with msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("gc invariant violated: " + msg)
	}
}

// Assertf panics with a formatted message when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("gc invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// Unreachable marks control flow that must never execute.
func Unreachable(where string) {
	panic("gc unreachable: " + where)
}
