package toolpool

import "strings"

// ToModuleName converts a class or function name to a snake_case module
// name without splitting acronyms: GetHTTPServer becomes get_http_server.
func ToModuleName(name string) string {
	r := []rune(name)
	var b strings.Builder
	for i, c := range r {
		if i > 0 && isUpper(c) {
			prev := r[i-1]
			nextLower := i+1 < len(r) && isLower(r[i+1])
			if isLower(prev) || (isUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(c)
	}
	return strings.ToLower(b.String())
}

func isUpper(c rune) bool { return c >= 'A' && c <= 'Z' }
func isLower(c rune) bool { return c >= 'a' && c <= 'z' }
