package classify

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

var hexWidth = map[byte]int{'x': 2, 'u': 4, 'U': 8}

// decodeLiteral decodes a Python string literal such as 'a\'b' or "x\n".
// The whole input (after trimming) must be exactly one literal.
func decodeLiteral(s string) (string, bool) {
	s = strings.TrimSpace(s)
	raw := false
	for len(s) > 0 && strings.ContainsRune("rRuU", rune(s[0])) {
		if s[0] == 'r' || s[0] == 'R' {
			raw = true
		}
		s = s[1:]
	}
	if len(s) < 2 {
		return "", false
	}
	quote := s[0]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	if s[len(s)-1] != quote {
		return "", false
	}
	body := s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == quote {
			// unescaped quote means the literal ended early
			return "", false
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(body) {
			return "", false
		}
		i++
		e := body[i]
		if raw {
			b.WriteByte('\\')
			b.WriteByte(e)
			continue
		}
		switch e {
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '\n':
		case 'x', 'u', 'U':
			width := hexWidth[e]
			if i+width >= len(body) {
				return "", false
			}
			n, err := strconv.ParseUint(body[i+1:i+1+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(n)) {
				return "", false
			}
			b.WriteRune(rune(n))
			i += width
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(body) && j < i+3 && body[j] >= '0' && body[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(body[i:j], 8, 32)
			b.WriteRune(rune(n))
			i = j - 1
		default:
			// unknown escapes are kept verbatim
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), true
}
