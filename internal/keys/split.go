package keys

import "strings"

// SegmentKind classifies a piece of a key-token string.
type SegmentKind int

const (
	// Literal is plain text, with \< and \> escapes already resolved.
	Literal SegmentKind = iota
	// Named is a recognized key token such as <enter>.
	Named
	// ModifierApply is a modifier followed by '+', e.g. "<ctrl>+". Text holds
	// the modifier alone.
	ModifierApply
)

// Segment is one element of Split's output.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Split decomposes s into alternating literal and key-token segments.
// Adjacent literal text is always merged into one segment, and text inside
// angle brackets that is not a recognized key stays literal.
func Split(s string) []Segment {
	var (
		out []Segment
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			out = append(out, Segment{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		if c == '\\' && i+1 < len(s) && (s[i+1] == '<' || s[i+1] == '>') {
			lit.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '<' {
			if end := tokenEnd(s, i); end > 0 {
				tok := s[i:end]
				if IsKey(tok) {
					flush()
					lower := strings.ToLower(tok)
					if end < len(s) && s[end] == '+' && IsModifier(lower) {
						out = append(out, Segment{Kind: ModifierApply, Text: lower})
						i = end + 1
					} else {
						out = append(out, Segment{Kind: Named, Text: lower})
						i = end
					}
					continue
				}
			}
		}
		lit.WriteByte(c)
		i++
	}
	flush()
	return out
}

// tokenEnd returns the index just past the '>' closing the token that opens
// at s[start], or -1 when the bracket is unbalanced.
func tokenEnd(s string, start int) int {
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '>':
			if j == start+1 {
				return -1
			}
			return j + 1
		case '<':
			return -1
		}
	}
	return -1
}

// ContainsSpecialKeys reports whether s holds any recognized key token.
func ContainsSpecialKeys(s string) bool {
	for _, seg := range Split(s) {
		if seg.Kind != Literal {
			return true
		}
	}
	return false
}

// PrintableLength counts the characters s produces when typed: literal runes
// plus one per named key. Modifier applications produce nothing themselves.
func PrintableLength(s string) int {
	n := 0
	for _, seg := range Split(s) {
		switch seg.Kind {
		case Literal:
			n += len([]rune(seg.Text))
		case Named:
			n++
		}
	}
	return n
}

// EscapeText protects literal angle brackets so Split keeps them as text.
func EscapeText(s string) string {
	r := strings.NewReplacer("<", `\<`, ">", `\>`)
	return r.Replace(s)
}
