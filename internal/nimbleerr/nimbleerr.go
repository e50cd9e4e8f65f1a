// Package nimbleerr implements the severity-tagged error model described in
// spec.md §7: every error carries a Severity the caller uses to decide
// between dropping a connection, logging a warning, or ignoring an expected
// loss/reorder artifact.
package nimbleerr

import "fmt"

// Severity classifies how the caller should react to an error.
type Severity int

const (
	// Info marks errors expected under ordinary loss or reorder.
	Info Severity = iota
	// Warning marks recoverable errors worth logging.
	Warning
	// Critical marks errors after which the caller should drop the
	// connection.
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a severity.
type Error struct {
	Severity Severity
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %v", e.Severity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a severity-tagged error from a format string.
func New(sev Severity, format string, args ...any) *Error {
	return &Error{Severity: sev, Err: fmt.Errorf(format, args...)}
}

// Wrap tags an existing error with a severity.
func Wrap(sev Severity, err error) *Error {
	return &Error{Severity: sev, Err: err}
}

// SeverityOf returns the severity of err if it is (or wraps) a *Error, and
// Critical otherwise — an un-annotated error is treated as the least
// forgiving case.
func SeverityOf(err error) Severity {
	var ne *Error
	if as(err, &ne) {
		return ne.Severity
	}
	return Critical
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Aggregate collects errors observed while processing one datagram's worth
// of commands, preserving the worst (most severe) severity seen.
type Aggregate struct {
	Errors []error
}

// Add records err, classifying its severity.
func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	a.Errors = append(a.Errors, err)
}

// WorstSeverity returns the most severe severity among recorded errors, or
// Info if none were recorded.
func (a *Aggregate) WorstSeverity() Severity {
	worst := Info
	for _, e := range a.Errors {
		if s := SeverityOf(e); s > worst {
			worst = s
		}
	}
	return worst
}

// HasCritical reports whether any recorded error is Critical — the signal
// that remaining commands in the same datagram must not be processed.
func (a *Aggregate) HasCritical() bool {
	return a.WorstSeverity() == Critical
}
