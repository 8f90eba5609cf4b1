package expr

import (
	"strings"
)

// Parse compiles a template source into an AST.
//
// Function names are recognized by shape (uppercase identifier, optionally
// dotted, immediately followed by an opening parenthesis) and must be
// registered; an uppercase word that looks like a call but names no known
// function is a parse error. Ordinary text, including lowercase words with
// parentheses, passes through as literal.
func Parse(src string) (*Template, error) {
	nodes, err := parseNodes(src, 0)
	if err != nil {
		return nil, err
	}
	return &Template{Source: src, Nodes: nodes}, nil
}

// MustParse is a test helper that panics on parse errors.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

func parseNodes(src string, base int) ([]Node, error) {
	var nodes []Node
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			nodes = append(nodes, Literal{Text: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(src) {
		c := src[i]

		// <Variable> reference.
		if c == '<' {
			end := strings.IndexByte(src[i:], '>')
			if end < 0 {
				return nil, parseErrorf(base+i, "unterminated variable reference %q", src[i:])
			}
			name := src[i+1 : i+end]
			if name == "" {
				return nil, parseErrorf(base+i, "empty variable reference")
			}
			flush()
			nodes = append(nodes, Var{Name: name})
			i += end + 1
			continue
		}

		// FUNCTION( call. Names are uppercase, optionally dotted
		// (REGEXP.REPLACE). Anything else is literal text.
		if isUpper(c) {
			name, nameLen := scanFuncName(src[i:])
			if nameLen > 0 && i+nameLen < len(src) && src[i+nameLen] == '(' {
				if _, ok := functions[name]; !ok {
					return nil, parseErrorf(base+i, "unknown function %s", name)
				}
				argsSrc, consumed, err := scanParens(src[i+nameLen:], base+i+nameLen)
				if err != nil {
					return nil, err
				}
				args, err := parseArgs(argsSrc, base+i+nameLen+1)
				if err != nil {
					return nil, err
				}
				flush()
				nodes = append(nodes, Call{Name: name, Args: args, pos: base + i})
				i += nameLen + consumed
				continue
			}
		}

		lit.WriteByte(c)
		i++
	}

	flush()
	return nodes, nil
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

// scanFuncName reads an uppercase identifier with optional dotted segments.
// Returns the name and its length, or ("", 0) when src does not start one.
func scanFuncName(src string) (string, int) {
	i := 0
	for i < len(src) {
		c := src[i]
		if isUpper(c) || (i > 0 && (c == '.' || (c >= '0' && c <= '9'))) {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return "", 0
	}
	name := src[:i]
	// A trailing dot belongs to the surrounding text, not the name.
	name = strings.TrimRight(name, ".")
	return name, len(name)
}

// scanParens consumes a balanced "(...)" group honoring quoted strings.
// src must start with '('. Returns the inner text and the total number of
// bytes consumed including both parentheses.
func scanParens(src string, pos int) (string, int, error) {
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return src[1:i], i + 1, nil
			}
		}
	}
	return "", 0, parseErrorf(pos, "unbalanced parentheses")
}

// parseArgs splits an argument list on top-level commas and parses each
// argument as a nested template. Quotes protect commas and parentheses;
// a fully quoted argument has its quotes stripped but its content is still
// a template, so variable references inside quotes resolve.
func parseArgs(src string, base int) ([]*Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}

	var pieces []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				pieces = append(pieces, src[start:i])
				start = i + 1
			}
		}
	}
	pieces = append(pieces, src[start:])

	args := make([]*Template, 0, len(pieces))
	for _, p := range pieces {
		trimmed := strings.TrimSpace(p)
		trimmed = stripQuotes(trimmed)
		nodes, err := parseNodes(trimmed, base)
		if err != nil {
			return nil, err
		}
		args = append(args, &Template{Source: trimmed, Nodes: nodes})
	}
	return args, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
