// Package errcode attaches stable codes to the error kinds surfaced to users.
//
// Codes are grouped by area: E1xxx tasks, E2xxx graph, E3xxx git,
// E4xxx adapters, E5xxx budget, E9xxx configuration and storage.
package errcode

import (
	"errors"
	"fmt"
)

// Error is a sentinel error carrying a code.
type Error struct {
	Code string
	Msg  string
}

// New returns a coded sentinel error.
func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// ErrorCode returns the code of e.
func (e *Error) ErrorCode() string { return e.Code }

// Of returns the code of the first coded error in err's chain, or "" if none.
func Of(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// Format renders err as "[code] message", falling back to the plain message.
func Format(err error) string {
	if err == nil {
		return ""
	}
	if code := Of(err); code != "" {
		return fmt.Sprintf("[%s] %s", code, err.Error())
	}
	return err.Error()
}
