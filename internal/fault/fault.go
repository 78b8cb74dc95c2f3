// Package fault defines the typed error taxonomy shared by the upstream
// client, the storage backends, and the retry executor. Errors are
// classified by kind and code rather than by message text, so retry
// decisions stay deterministic.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/adshao/go-binance/v2/common"
)

// Kind buckets an error for retry/propagation decisions.
type Kind int

const (
	// KindUnknown is an unclassified error; treated as fatal.
	KindUnknown Kind = iota
	// KindTransientNetwork covers timeouts, resets, DNS and TLS failures.
	KindTransientNetwork
	// KindRateLimit covers HTTP 429 and exchange throttling codes.
	KindRateLimit
	// KindUpstreamServer covers upstream 5xx and internal exchange errors.
	KindUpstreamServer
	// KindStorageConnection covers dropped or refused storage connections.
	KindStorageConnection
	// KindValidation covers malformed payloads and bad arguments; never retried.
	KindValidation
	// KindBootstrap means the upstream is unreachable before any work starts;
	// it aborts the whole run.
	KindBootstrap
)

// String returns the kind name used in logs and error strings.
func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient-network"
	case KindRateLimit:
		return "rate-limit"
	case KindUpstreamServer:
		return "upstream-server"
	case KindStorageConnection:
		return "storage-connection"
	case KindValidation:
		return "validation"
	case KindBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// Error wraps a cause with its classification and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// TransientNetwork wraps err as a transient network failure.
func TransientNetwork(op string, err error) *Error {
	return New(KindTransientNetwork, op, err)
}

// RateLimit wraps err as an upstream throttling failure.
func RateLimit(op string, err error) *Error { return New(KindRateLimit, op, err) }

// UpstreamServer wraps err as an upstream 5xx-class failure.
func UpstreamServer(op string, err error) *Error {
	return New(KindUpstreamServer, op, err)
}

// StorageConnection wraps err as a storage connectivity failure.
func StorageConnection(op string, err error) *Error {
	return New(KindStorageConnection, op, err)
}

// Validation wraps err as a non-retryable input/payload failure.
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

// Bootstrap wraps err as a run-aborting startup failure.
func Bootstrap(op string, err error) *Error { return New(KindBootstrap, op, err) }

// KindOf returns the classification of err. Wrapped *Error values win;
// otherwise the raw error is inspected by type and code.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	// Exchange API errors carry a numeric code.
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return kindOfAPICode(apiErr.Code)
	}

	// Network-level failures.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransientNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransientNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransientNetwork
	}
	// Truncated response bodies and failed socket operations: the
	// connection broke mid-flight, not a caller mistake.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransientNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransientNetwork
	}

	return KindUnknown
}

// kindOfAPICode maps Binance error codes to kinds. -1003/-1015 are the
// request-weight and order-rate throttles; the rest of the -10xx range is
// server-side. Everything else (parameter and filter rejections) is a
// caller mistake and must not be retried.
func kindOfAPICode(code int64) Kind {
	switch code {
	case -1003, -1015:
		return KindRateLimit
	case -1000, -1001, -1007, -1008, -1016:
		return KindUpstreamServer
	default:
		return KindValidation
	}
}

// Retryable reports whether an error of this classification may be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimit, KindUpstreamServer, KindStorageConnection:
		return true
	default:
		return false
	}
}
