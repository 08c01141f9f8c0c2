package errors

import (
	"fmt"
	"github.com/pkg/errors"
	"time"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// temporary is implemented by errors that know whether the operation that caused them is worth trying again.
type temporary interface {
	Temporary() bool
}

// temporaryError wraps a cause with a message and a Temporary flag.
type temporaryError struct {
	temporary bool
	msg       string
	cause     error
}

func (te *temporaryError) Temporary() bool { return te.temporary }

func (te *temporaryError) Error() string {
	if te.cause == nil {
		return te.msg
	}
	return te.msg + ": " + te.cause.Error()
}

// Cause implements the causer interface used by errors.Cause.
func (te *temporaryError) Cause() error { return te.cause }

// Unwrap allows errors.Is and errors.As to look through a temporaryError.
func (te *temporaryError) Unwrap() error { return te.cause }

// StackTrace returns the errors.StackTrace of the cause, or nil if there is no traceable cause.
func (te *temporaryError) StackTrace() errors.StackTrace {
	if st, ok := te.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// IsTemporary returns true if err, or any error it wraps, is temporary.
func IsTemporary(err error) bool {
	var te temporary
	return errors.As(err, &te) && te.Temporary()
}

// TemporaryError creates a new error with the given message that reports the given temporary flag.
func TemporaryError(temporary bool, msg string) error {
	return &temporaryError{temporary: temporary, msg: msg}
}

// TemporaryErrorf is TemporaryError with a format string.
func TemporaryErrorf(temporary bool, format string, a ...any) error {
	return TemporaryError(temporary, fmt.Sprintf(format, a...))
}

// TemporaryWrap wraps err in an error that reports the given temporary flag. The wrapped error is given a stack if
// it doesn't have one already. Wrapping a nil error returns nil.
func TemporaryWrap(temporary bool, err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &temporaryError{temporary: temporary, msg: message, cause: err}
}

// TemporaryWrapf calls TemporaryWrap using the output of fmt.Sprintf as the message for the wrapped error.
func TemporaryWrapf(temporary bool, err error, format string, a ...any) error {
	return TemporaryWrap(temporary, err, fmt.Sprintf(format, a...))
}

// MergeErrors merges all the given errors into one error. Each error message is separated with a semicolon. Nil
// errors are skipped. If there are no non-nil errors given (this includes providing 0 errors) then nil will be
// returned. The first non-nil error is kept in the chain so errors.Is still works against it.
func MergeErrors(errs ...error) error {
	var mergedErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if mergedErr == nil {
			mergedErr = err
		} else {
			mergedErr = fmt.Errorf("%w; %s", mergedErr, err.Error())
		}
	}
	if mergedErr == nil {
		return nil
	}
	return errors.WithStack(mergedErr)
}

// RetryFunction is the signature of the function that Retry calls. currentTry starts at 0.
type RetryFunction func(currentTry int) error

// RetryReturnType can be returned (possibly wrapped) from a RetryFunction to steer Retry.
type RetryReturnType int

const (
	// Continue to the next try without waiting. If this is returned on the last try, Retry returns nil.
	Continue RetryReturnType = iota
	// Break out of the try loop and return Break as the error.
	Break
	// Done stops the try loop and returns nil.
	Done
)

func (rrt RetryReturnType) String() string {
	switch rrt {
	case Continue:
		return "continue"
	case Break:
		return "break"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Error returns the error message for this RetryReturnType.
func (rrt RetryReturnType) Error() string {
	return fmt.Sprintf("retry function wants to \"%s\"", rrt.String())
}

// Retry calls retry up to maxTries times. A try fails when it returns an error that isn't a RetryReturnType or when
// it panics. After the nth failed try Retry sleeps for n*minDelay. When every try has failed the last error is
// returned wrapped with the number of tries.
func Retry(maxTries int, minDelay time.Duration, retry RetryFunction) (err error) {
	if retry == nil {
		return errors.New("retry function cannot be nil")
	}
	if maxTries < 1 {
		maxTries = 1
	}

	for try := 0; try < maxTries; try++ {
		err = func() (err error) {
			defer func() {
				if pan := recover(); pan != nil {
					err = fmt.Errorf("panic occurred: %v", pan)
				}
			}()
			return retry(try)
		}()

		var rt RetryReturnType
		switch {
		case err == nil:
			return nil
		case errors.As(err, &rt):
			switch rt {
			case Continue:
				err = nil
				continue
			case Done:
				return nil
			default:
				return rt
			}
		}

		if try < maxTries-1 {
			time.Sleep(minDelay * time.Duration(try+1))
		}
	}

	if err != nil {
		err = errors.Wrapf(err, "ran out of tries (%d total) whilst calling retrier", maxTries)
	}
	return err
}
