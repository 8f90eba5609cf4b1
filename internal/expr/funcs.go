package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// funcSpec describes one registered template function.
// maxArgs of -1 means variadic.
type funcSpec struct {
	minArgs int
	maxArgs int
	impl    func(st *evalState, args []string) (string, error)
}

// functions is the complete function library. The parser consults this map
// to reject unknown function names at parse time.
var functions = map[string]funcSpec{
	// String transforms.
	"TRIM":    {1, 1, fnTrim},
	"LEFT":    {2, 2, fnLeft},
	"RIGHT":   {2, 2, fnRight},
	"MID":     {2, 3, fnMid},
	"TOUPPER": {1, 1, fnToUpper},
	"TOLOWER": {1, 1, fnToLower},
	"LEN":     {1, 1, fnLen},
	"INDEXOF": {3, 4, fnIndexOf},
	"FORMAT":  {2, 2, fnFormat},

	// Date formatting.
	"FORMATDATE": {1, 1, fnFormatDate},

	// Numeric arithmetic.
	"ADD": {2, 2, arith("ADD", func(a, b float64) (float64, error) { return a + b, nil })},
	"SUB": {2, 2, arith("SUB", func(a, b float64) (float64, error) { return a - b, nil })},
	"MUL": {2, 2, arith("MUL", func(a, b float64) (float64, error) { return a * b, nil })},
	"DIV": {2, 2, arith("DIV", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	})},

	// Conditional branching.
	"IF": {5, 6, fnIf},

	// Regular expressions.
	"REGEXP.MATCH":   {2, 3, fnRegexpMatch},
	"REGEXP.REPLACE": {3, 3, fnRegexpReplace},

	// Durable auto-increment (counter store side channel).
	"AUTOINCREMENT": {3, 3, fnAutoIncrement},
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

func fnTrim(_ *evalState, args []string) (string, error) {
	return strings.TrimSpace(args[0]), nil
}

func fnLeft(_ *evalState, args []string) (string, error) {
	n, err := intArg("LEFT", "length", args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return string(r[:n]), nil
}

func fnRight(_ *evalState, args []string) (string, error) {
	n, err := intArg("RIGHT", "length", args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return string(r[len(r)-n:]), nil
}

// fnMid extracts a substring with a 1-based start position, matching the
// convention of the configuration language rather than Go slicing.
func fnMid(_ *evalState, args []string) (string, error) {
	start, err := intArg("MID", "start", args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	start-- // 1-based to 0-based
	if start < 0 {
		start = 0
	}
	if start >= len(r) {
		return "", nil
	}
	if len(args) == 3 {
		n, err := intArg("MID", "length", args[2])
		if err != nil {
			return "", err
		}
		end := start + n
		if end > len(r) {
			end = len(r)
		}
		if end < start {
			end = start
		}
		return string(r[start:end]), nil
	}
	return string(r[start:]), nil
}

func fnToUpper(_ *evalState, args []string) (string, error) {
	return upperCaser.String(args[0]), nil
}

func fnToLower(_ *evalState, args []string) (string, error) {
	return lowerCaser.String(args[0]), nil
}

func fnLen(_ *evalState, args []string) (string, error) {
	return strconv.Itoa(utf8.RuneCountInString(args[0])), nil
}

// fnIndexOf returns the 1-based position of needle in haystack starting the
// scan at a 0-based offset, or "0" when not found.
func fnIndexOf(_ *evalState, args []string) (string, error) {
	start, err := intArg("INDEXOF", "start", args[0])
	if err != nil {
		return "", err
	}
	haystack, needle := args[1], args[2]
	if len(args) == 4 && strings.EqualFold(args[3], "false") {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}
	if start < 0 || start > len(haystack) {
		return "0", nil
	}
	idx := strings.Index(haystack[start:], needle)
	if idx < 0 {
		return "0", nil
	}
	return strconv.Itoa(start + idx + 1), nil
}

// fnFormat zero-pads a value to the width given by the number of '#'
// placeholders in the format string. Formats without '#' pass the value
// through unchanged.
func fnFormat(_ *evalState, args []string) (string, error) {
	value, format := args[0], args[1]
	width := strings.Count(format, "#")
	if width == 0 {
		return value, nil
	}
	for utf8.RuneCountInString(value) < width {
		value = "0" + value
	}
	return value, nil
}

// formatDateTokens maps pattern tokens to renderers, tried longest-first at
// each position so "yyyy" wins over "yy". Unknown characters copy through.
var formatDateTokens = []struct {
	tok    string
	render func(t timeParts) string
}{
	{"AM/PM", func(t timeParts) string { return t.ampm("AM", "PM") }},
	{"am/pm", func(t timeParts) string { return t.ampm("am", "pm") }},
	{"yyyy", func(t timeParts) string { return fmt.Sprintf("%04d", t.year) }},
	{"mmmm", func(t timeParts) string { return t.month.String() }},
	{"mmm", func(t timeParts) string { return t.month.String()[:3] }},
	{"ddd", func(t timeParts) string { return t.weekday.String()[:3] }},
	{"yy", func(t timeParts) string { return fmt.Sprintf("%02d", t.year%100) }},
	{"mm", func(t timeParts) string { return fmt.Sprintf("%02d", int(t.month)) }},
	{"dd", func(t timeParts) string { return fmt.Sprintf("%02d", t.day) }},
	{"hh", func(t timeParts) string { return fmt.Sprintf("%02d", t.hour) }},
	{"MM", func(t timeParts) string { return fmt.Sprintf("%02d", t.minute) }},
	{"ss", func(t timeParts) string { return fmt.Sprintf("%02d", t.second) }},
	{"ww", func(t timeParts) string { return fmt.Sprintf("%02d", t.isoWeek) }},
	{"tt", func(t timeParts) string { return t.ampm("AM", "PM") }},
	{"t", func(t timeParts) string { return t.ampm("A", "P") }},
	{"m", func(t timeParts) string { return strconv.Itoa(int(t.month)) }},
	{"d", func(t timeParts) string { return strconv.Itoa(t.day) }},
	{"h", func(t timeParts) string { return strconv.Itoa(t.hour) }},
	{"s", func(t timeParts) string { return strconv.Itoa(t.second) }},
	{"y", func(t timeParts) string { return strconv.Itoa(t.year % 100) }},
}

type timeParts struct {
	year, day, hour, minute, second, isoWeek int
	month                                    time.Month
	weekday                                  time.Weekday
}

func (t timeParts) ampm(am, pm string) string {
	if t.hour < 12 {
		return am
	}
	return pm
}

func fnFormatDate(st *evalState, args []string) (string, error) {
	now := st.opts.now()
	_, week := now.ISOWeek()
	parts := timeParts{
		year:    now.Year(),
		month:   now.Month(),
		day:     now.Day(),
		hour:    now.Hour(),
		minute:  now.Minute(),
		second:  now.Second(),
		isoWeek: week,
		weekday: now.Weekday(),
	}

	pattern := args[0]
	var b strings.Builder
	i := 0
scan:
	for i < len(pattern) {
		for _, entry := range formatDateTokens {
			if strings.HasPrefix(pattern[i:], entry.tok) {
				b.WriteString(entry.render(parts))
				i += len(entry.tok)
				continue scan
			}
		}
		b.WriteByte(pattern[i])
		i++
	}
	return b.String(), nil
}

func arith(name string, op func(a, b float64) (float64, error)) func(*evalState, []string) (string, error) {
	return func(_ *evalState, args []string) (string, error) {
		a, err := floatArg(name, "first operand", args[0])
		if err != nil {
			return "", err
		}
		b, err := floatArg(name, "second operand", args[1])
		if err != nil {
			return "", err
		}
		v, err := op(a, b)
		if err != nil {
			return "", &EvalError{Fn: name, Msg: err.Error()}
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
}

// fnIf compares two values and yields one of two results. Both operands are
// coerced to numbers when both parse as numeric, otherwise compared as
// strings. An optional sixth argument of "false" makes the comparison
// case-insensitive.
func fnIf(_ *evalState, args []string) (string, error) {
	value, op, cmp, thenV, elseV := args[0], args[1], args[2], args[3], args[4]
	if len(args) == 6 && strings.EqualFold(args[5], "false") {
		value = strings.ToLower(value)
		cmp = strings.ToLower(cmp)
	}
	ok, err := Compare(value, op, cmp)
	if err != nil {
		return "", &EvalError{Fn: "IF", Msg: err.Error()}
	}
	if ok {
		return thenV, nil
	}
	return elseV, nil
}

// Compare applies a comparison operator with numeric coercion. It is shared
// with the condition evaluator so expressions and condition groups agree on
// operator semantics.
func Compare(value, op, cmp string) (bool, error) {
	switch op {
	case "==", "=":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a == b, nil
		}
		return value == cmp, nil
	case "!=":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a != b, nil
		}
		return value != cmp, nil
	case ">":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a > b, nil
		}
		return value > cmp, nil
	case "<":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a < b, nil
		}
		return value < cmp, nil
	case ">=":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a >= b, nil
		}
		return value >= cmp, nil
	case "<=":
		if a, b, ok := bothNumeric(value, cmp); ok {
			return a <= b, nil
		}
		return value <= cmp, nil
	case "contains":
		return strings.Contains(value, cmp), nil
	case "startswith":
		return strings.HasPrefix(value, cmp), nil
	case "endswith":
		return strings.HasSuffix(value, cmp), nil
	case "matches":
		re, err := regexp.Compile(cmp)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", cmp, err)
		}
		return re.MatchString(value), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func bothNumeric(a, b string) (float64, float64, bool) {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return fa, fb, true
}

func fnRegexpMatch(_ *evalState, args []string) (string, error) {
	re, err := regexp.Compile(args[1])
	if err != nil {
		return "", &EvalError{Fn: "REGEXP.MATCH", Msg: "invalid pattern", Err: err}
	}
	group := 0
	if len(args) == 3 {
		group, err = intArg("REGEXP.MATCH", "group", args[2])
		if err != nil {
			return "", err
		}
	}
	m := re.FindStringSubmatch(args[0])
	if m == nil || group < 0 || group >= len(m) {
		return "", nil
	}
	return m[group], nil
}

func fnRegexpReplace(_ *evalState, args []string) (string, error) {
	re, err := regexp.Compile(args[1])
	if err != nil {
		return "", &EvalError{Fn: "REGEXP.REPLACE", Msg: "invalid pattern", Err: err}
	}
	return re.ReplaceAllString(args[0], args[2]), nil
}

// fnAutoIncrement allocates the next value of a durable named counter.
// The value is persisted before it is returned, so a crash cannot hand the
// same number out twice.
func fnAutoIncrement(st *evalState, args []string) (string, error) {
	if st.opts.Counters == nil {
		return "", evalErrorf("AUTOINCREMENT", "no counter store configured")
	}
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "", evalErrorf("AUTOINCREMENT", "counter name must not be empty")
	}
	start, err := int64Arg("AUTOINCREMENT", "start", args[1])
	if err != nil {
		return "", err
	}
	step, err := int64Arg("AUTOINCREMENT", "step", args[2])
	if err != nil {
		return "", err
	}
	v, err := st.opts.Counters.Increment(st.ctx, name, start, step)
	if err != nil {
		return "", &EvalError{Fn: "AUTOINCREMENT", Msg: "counter store", Err: err}
	}
	return strconv.FormatInt(v, 10), nil
}

func intArg(fn, what, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, evalErrorf(fn, "%s must be an integer, got %q", what, raw)
	}
	return v, nil
}

func int64Arg(fn, what, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, evalErrorf(fn, "%s must be an integer, got %q", what, raw)
	}
	return v, nil
}

func floatArg(fn, what, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, evalErrorf(fn, "%s must be numeric, got %q", what, raw)
	}
	return v, nil
}
