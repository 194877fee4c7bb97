package ai

import (
	"fmt"
	"strings"
)

// Kind classifies a collaborator failure for propagation policy: terminal
// kinds surface as blocking notifications, recoverable kinds degrade to a
// system message on the timeline.
type Kind int

const (
	// KindGeneric is the fallback for unclassified service errors.
	KindGeneric Kind = iota

	// KindAuth indicates invalid or missing credentials.
	KindAuth

	// KindQuota indicates an exhausted balance or quota.
	KindQuota

	// KindRateLimit indicates the service asked us to slow down.
	KindRateLimit

	// KindNetwork indicates a connectivity failure.
	KindNetwork

	// KindValidation indicates a malformed payload (ours or theirs).
	KindValidation
)

// String returns the kind name.
func (k Kind) String() string {
	names := []string{"generic", "auth", "quota", "rate_limit", "network", "validation"}
	if int(k) < len(names) {
		return names[k]
	}
	return "generic"
}

// Terminal reports whether the failure must block with a user-acknowledged
// notification instead of degrading to a timeline system message.
func (k Kind) Terminal() bool {
	return k == KindAuth || k == KindQuota
}

// ServiceError wraps a collaborator failure with its classification.
type ServiceError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the original error for errors.Is/As compatibility.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Classify analyzes a raw service error and wraps it with a Kind. Pattern
// matching on the error text is crude but the SDK does not expose a stable
// typed taxonomy across transports.
func Classify(op string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ServiceError); ok {
		return se
	}

	errStr := strings.ToLower(err.Error())
	kind := KindGeneric

	switch {
	case containsAny(errStr, "api key", "unauthorized", "unauthenticated", "invalid credential", "401", "403", "permission denied"):
		kind = KindAuth
	case containsAny(errStr, "quota", "billing", "insufficient balance", "exceeded your current quota"):
		kind = KindQuota
	case containsAny(errStr, "rate limit", "too many requests", "429", "resource exhausted", "resource_exhausted"):
		kind = KindRateLimit
	case containsAny(errStr, "connection", "network", "dial", "dns", "unreachable", "timeout", "deadline", "eof"):
		kind = KindNetwork
	case containsAny(errStr, "unmarshal", "malformed", "unexpected end of json", "invalid character", "missing field"):
		kind = KindValidation
	}

	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// validationError builds a ServiceError for a payload we rejected at the
// boundary.
func validationError(op, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// containsAny returns true if s contains any of the patterns.
func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
