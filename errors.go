package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// errKind classifies failures so the CLI can map them to exit codes.
type errKind int

const (
	errUsage      errKind = iota + 1 // exit 1
	errConnection                    // exit 2
	errSchema                        // exit 3: introspection failed, mapping missing, diff rejected
	errDataLoss                      // exit 4: non-empty target without --force
	errRowFailure                    // exit 5: row insert/coerce failure with --halt-on-error
	errVerify                        // exit 6
	errLossy                         // exit 7: lossy mapping without --allow-lossy
)

// migrationError carries an exit-code class alongside the wrapped cause.
type migrationError struct {
	kind errKind
	msg  string
	err  error
}

func (e *migrationError) Error() string {
	if e.err != nil {
		if e.msg != "" {
			return e.msg + ": " + e.err.Error()
		}
		return e.err.Error()
	}
	return e.msg
}

func (e *migrationError) Unwrap() error { return e.err }

func kindError(kind errKind, format string, args ...any) error {
	return &migrationError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapKind(kind errKind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &migrationError{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// exitCode maps an error to the process exit code. Unclassified errors
// (including cancellation) exit 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var me *migrationError
	if errors.As(err, &me) {
		return int(me.kind)
	}
	return 1
}

const connectRetries = 3

// connectBackoffBase is a variable so tests can shrink the waits.
var connectBackoffBase = time.Second

// retryBackoff returns the wait before retry n (0-based): 1s, 2s, 4s.
func retryBackoff(retry int) time.Duration {
	return connectBackoffBase << retry
}

// withConnectRetry runs fn once and retries up to connectRetries more
// times with exponential backoff (1s, 2s, 4s). The last error surfaces
// as a connection error.
func withConnectRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == connectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff(attempt)):
		}
	}
	return wrapKind(errConnection, err, "connect %s (%d attempts)", what, connectRetries+1)
}
