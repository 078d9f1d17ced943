package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tatianab/conestoga/internal/models"
)

// FailureKind classifies a failed generation call.
type FailureKind string

const (
	FailTimeout            FailureKind = "timeout"
	FailNetwork            FailureKind = "network_error"
	FailQuotaExhausted     FailureKind = "quota_exhausted"
	FailServiceUnavailable FailureKind = "service_unavailable"
)

// Reason maps the kind onto the provenance reason recorded for fallbacks.
func (k FailureKind) Reason() models.Reason {
	switch k {
	case FailTimeout:
		return models.ReasonTimeout
	case FailQuotaExhausted:
		return models.ReasonQuotaExhausted
	default:
		return models.ReasonNetworkError
	}
}

// Failure is a terminal error from one generation call.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf classifies err. Unrecognized errors are network errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return FailQuotaExhausted
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return FailServiceUnavailable
		case http.StatusGatewayTimeout:
			return FailTimeout
		}
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return FailQuotaExhausted
		case codes.Unavailable:
			return FailServiceUnavailable
		case codes.DeadlineExceeded:
			return FailTimeout
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(msg, "429"), strings.Contains(lower, "quota"):
		return FailQuotaExhausted
	case strings.Contains(msg, "503"), strings.Contains(lower, "unavailable"), strings.Contains(lower, "overloaded"):
		return FailServiceUnavailable
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "timeout"):
		return FailTimeout
	}
	return FailNetwork
}
