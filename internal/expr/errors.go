package expr

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed template: an unterminated variable
// reference, unbalanced parentheses, or a call to an unknown function.
type ParseError struct {
	Pos int    // byte offset in the source
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// EvalError reports a function that failed during evaluation: bad argument
// arity or type, an invalid regular expression, or a counter store failure.
// An EvalError fails the enclosing render, never the whole pipeline.
type EvalError struct {
	Fn  string
	Msg string
	Err error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Fn, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Fn, e.Msg)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func parseErrorf(pos int, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func evalErrorf(fn, format string, args ...any) *EvalError {
	return &EvalError{Fn: fn, Msg: fmt.Sprintf(format, args...)}
}
