package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/snapledger/snapledger/internal/notify"
)

// Kind identifies the failure category of a classified error.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindOCR          Kind = "ocr"
	KindCloudStorage Kind = "cloud_storage"
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
	KindPermission   Kind = "permission"
	KindServer       Kind = "server"
	KindUnknown      Kind = "unknown"
)

// StatusError is an error carrying an HTTP-style status code from a remote call.
// The HTTP clients in this module produce it for every non-2xx response so that
// classification can inspect the code.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// classifier is one predicate in the priority-ordered classification chain.
type classifier struct {
	kind  Kind
	match func(err error, status int, msg string) bool
}

// classifiers is evaluated in order; the first match wins. Order matters
// because error messages can mention keywords from several categories.
var classifiers = []classifier{
	{KindNetwork, func(err error, status int, msg string) bool {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		return containsAny(msg, "network", "connection refused", "connection reset", "no such host", "timeout", "offline")
	}},
	{KindOCR, func(err error, status int, msg string) bool {
		return containsAny(msg, "ocr", "extract", "unreadable receipt")
	}},
	{KindCloudStorage, func(err error, status int, msg string) bool {
		return containsAny(msg, "cloud storage", "bucket", "upload failed", "storage quota")
	}},
	{KindValidation, func(err error, status int, msg string) bool {
		return status == 400 || containsAny(msg, "validation", "invalid")
	}},
	{KindAuth, func(err error, status int, msg string) bool {
		return status == 401 || containsAny(msg, "unauthorized", "unauthenticated", "token expired")
	}},
	{KindPermission, func(err error, status int, msg string) bool {
		return status == 403 || containsAny(msg, "forbidden", "permission denied", "not allowed")
	}},
	{KindServer, func(err error, status int, msg string) bool {
		return status >= 500 || containsAny(msg, "internal server error", "bad gateway", "service unavailable")
	}},
}

// Classify maps an error to its Kind using the priority-ordered predicate
// chain. Errors that match nothing are KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	status := statusOf(err)
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		if c.match(err, status, msg) {
			return c.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the error is worth retrying. Only network and
// server failures qualify, and a 401 or 403 status always disqualifies the
// error regardless of its classified kind.
func Retryable(err error) bool {
	status := statusOf(err)
	if status == 401 || status == 403 {
		return false
	}
	switch Classify(err) {
	case KindNetwork, KindServer:
		return true
	}
	return false
}

// SeverityFor maps an error kind to the prominence of its user notification.
func SeverityFor(kind Kind) notify.Severity {
	switch kind {
	case KindAuth, KindPermission, KindServer:
		return notify.SeverityHigh
	case KindNetwork, KindUnknown:
		return notify.SeverityMedium
	default:
		return notify.SeverityLow
	}
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
