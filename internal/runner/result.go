package runner

import (
	"unicode/utf8"
)

// DefaultLimit bounds output when a caller passes no limit.
const DefaultLimit = 10000

// Result is the captured outcome of one execution. Nil fields are absent.
type Result struct {
	Generation int
	Iteration  int
	Kind       Kind
	Stdout     *string
	Stderr     *string
	Exception  *string
}

// StdoutText returns stdout or "".
func (r Result) StdoutText() string { return deref(r.Stdout) }

// StderrText returns stderr or "".
func (r Result) StderrText() string { return deref(r.Stderr) }

// ExceptionText returns the exception or "".
func (r Result) ExceptionText() string { return deref(r.Exception) }

// Ptr returns a pointer to s.
func Ptr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Truncate cuts s to its first limit runes. limit <= 0 selects DefaultLimit.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// RuneLen is the length Truncate measures.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
