package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

// classifier is implemented by errors that know their own metric class.
type classifier interface {
	ErrorClass() string
}

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Context errors map to "canceled" and "timeout". Errors exposing ErrorClass win over
// reflection; otherwise the innermost concrete type is converted to snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var c classifier
	if goerrors.As(err, &c) {
		if class := c.ErrorClass(); class != "" {
			return class
		}
	}

	err = innermost(err)

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

// innermost follows single and joined wrap chains, taking the first branch of a join.
func innermost(err error) error {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 || errs[0] == nil {
				return err
			}
			err = errs[0]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}
