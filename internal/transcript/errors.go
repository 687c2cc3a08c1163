package transcript

import (
	"errors"
	"fmt"
)

// ParseError reports a payload that could not be decoded. The session that
// received it terminates.
type ParseError struct {
	Event string
	Data  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Event, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SemanticError carries the message of a server-sent error event.
type SemanticError struct {
	Message string
}

func (e *SemanticError) Error() string {
	return e.Message
}

// AsSemanticError extracts *SemanticError from an error chain.
func AsSemanticError(err error) (*SemanticError, bool) {
	var e *SemanticError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsParseError extracts *ParseError from an error chain.
func AsParseError(err error) (*ParseError, bool) {
	var e *ParseError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
