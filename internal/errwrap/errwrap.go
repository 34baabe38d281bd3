// Package errwrap contains GeoTracker's error helpers and the sentinel error
// taxonomy described in spec.md's error handling design.
package errwrap

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Wrapf annotates err with a formatted message, keeping err in the chain
// for errors.Is. If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Append safely appends an error onto an existing one. Passing in a nil
// append error returns the existing error unchanged; if the existing error
// is nil, the new error is returned unchanged. This makes it safe to use as
// `reterr = Append(reterr, err)` without caring whether either is nil.
func Append(reterr, err error) error {
	if reterr == nil {
		return err
	}
	if err == nil {
		return reterr
	}
	return multierror.Append(reterr, err)
}

// String returns a string representation of the error, or the empty string
// if err is nil.
func String(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
