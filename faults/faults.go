package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Kind classifies a failure so every component reacts the same way.
type Kind string

const (
	// KindTransient: network blip or timeout, expected to clear on retry.
	KindTransient Kind = "Transient"
	// KindDevice: the endpoint is unreachable or refused us; mark it
	// Offline, do not retry indefinitely.
	KindDevice Kind = "Device"
	// KindConfiguration: bad parameter or threshold; surface to the
	// operator, never retry.
	KindConfiguration Kind = "Configuration"
	// KindFatal: store corruption or invariant breach; halt the affected
	// subsystem.
	KindFatal Kind = "Fatal"
	// KindAccessDenied: the caller's role lacks the permission.
	KindAccessDenied Kind = "AccessDenied"
	// KindNotFound: the referenced row does not exist.
	KindNotFound Kind = "NotFound"
)

// Fault carries a Kind plus a human-readable account of what was attempted.
type Fault struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("[%s] %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from anywhere in the chain; unclassified
// errors report KindTransient so an unknown failure is retried before it
// is given up on.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Classify(err)
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Classify maps raw transport/store errors onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return KindTransient
		}
		return KindDevice
	}
	if errors.Is(err, os.ErrPermission) {
		return KindAccessDenied
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "temporar"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindTransient
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "unreachable"), strings.Contains(msg, "auth"):
		return KindDevice
	}
	return KindTransient
}

// Retryable reports whether the failure should be retried with backoff.
func Retryable(err error) bool { return KindOf(err) == KindTransient }
