package config

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a configuration could not be loaded.
type ErrorKind int

const (
	// MissingFile means the config path does not exist.
	MissingFile ErrorKind = iota
	// ParseFailure means the content is not well-formed structured data.
	ParseFailure
	// InvalidField means a required field is absent or out of range.
	InvalidField
)

func (k ErrorKind) String() string {
	switch k {
	case MissingFile:
		return "MissingFile"
	case ParseFailure:
		return "ParseFailure"
	case InvalidField:
		return "InvalidField"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrMissingFile  = errors.New("config file does not exist")
	ErrParseFailure = errors.New("config file is not well-formed")
	ErrInvalidField = errors.New("invalid config field")
)

// Error is returned by Load. Every Error is fatal at startup.
type Error struct {
	Kind ErrorKind
	// Field is set for InvalidField.
	Field string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case MissingFile:
		msg = fmt.Sprintf("config file %s does not exist", e.Path)
	case ParseFailure:
		msg = fmt.Sprintf("failed to parse config file %s", e.Path)
	case InvalidField:
		msg = fmt.Sprintf("invalid field %s in config file %s", e.Field, e.Path)
	default:
		msg = fmt.Sprintf("config file %s: %s", e.Path, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind, so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrMissingFile:
		return e.Kind == MissingFile
	case ErrParseFailure:
		return e.Kind == ParseFailure
	case ErrInvalidField:
		return e.Kind == InvalidField
	}
	return false
}
