package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"syscall"

	"google.golang.org/api/googleapi"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool    { return true }
func (t *errTmp) Unwrap() error     { return t.error }
func MakeTemporary(err error) error { return &errTmp{err} }

// TemporaryStatus returns whether an http status code reports a transient failure of the server
func TemporaryStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Temporary inspects the error trace and returns whether the error is transient
// (connection reset, timeout, rate limit, server unavailable...)
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return true
		}
		err = uerr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	var tmp errTmpIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var gapiError *googleapi.Error
	if errors.As(err, &gapiError) {
		return TemporaryStatus(gapiError.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the permanent error then to the temporary
// else, priority to no error, then to the temporary and finally to the permanent error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	if len(newErrs) == 0 {
		return err
	}
	newErr := newErrs[0]

	if newErr == nil {
		if !priorityToError {
			return nil
		}
	} else if err == nil {
		err = newErr
	} else if priorityToError != Temporary(err) {
		err = fmt.Errorf("%w\n %v", err, newErr)
	} else {
		err = fmt.Errorf("%w\n %v", newErr, err)
	}
	return MergeErrors(priorityToError, err, newErrs[1:]...)
}
