package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies why a gateway call failed.
type Kind int

const (
	// KindTimeout: the call did not settle within the configured round-trip budget.
	KindTimeout Kind = iota + 1
	// KindNetwork: no HTTP response was obtained.
	KindNetwork
	// KindHTTPStatus: the gateway answered with a non-2xx status.
	KindHTTPStatus
	// KindBusiness: the body carried a failing business status code.
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	case KindBusiness:
		return "business"
	default:
		return "unknown"
	}
}

// NetworkCause marks what kind of transport failure produced a KindNetwork error,
// so a UI can tell an unreachable gateway from a misconfigured one.
type NetworkCause string

const (
	CauseDNS      NetworkCause = "dns"
	CauseRefused  NetworkCause = "refused"
	CauseTLS      NetworkCause = "tls"
	CauseReset    NetworkCause = "reset"
	CauseCanceled NetworkCause = "canceled"
	CauseUnknown  NetworkCause = "unknown"
)

// RequestError is the single error type returned by Executor.Send.
type RequestError struct {
	Kind    Kind
	Method  string
	URL     string
	Status  int    // HTTP status, KindHTTPStatus only
	Code    int    // business code (KindBusiness) or body code (KindHTTPStatus), 0 if absent
	Message string // human-readable message from the body, or a default
	Body    []byte // raw response body, when one was read
	Cause   NetworkCause
	Err     error // underlying transport error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s %s: request timed out", e.Method, e.URL)
	case KindNetwork:
		return fmt.Sprintf("%s %s: request failed (%s): %v", e.Method, e.URL, e.Cause, e.Err)
	case KindHTTPStatus:
		return fmt.Sprintf("%s %s: %s (status %d)", e.Method, e.URL, e.Message, e.Status)
	case KindBusiness:
		return fmt.Sprintf("%s %s: %s (code %d)", e.Method, e.URL, e.Message, e.Code)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Message)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// AuthFailure reports whether the error signals an invalid or expired session at either layer.
func (e *RequestError) AuthFailure() bool {
	switch e.Kind {
	case KindBusiness:
		return e.Code == unauthenticatedCode
	case KindHTTPStatus:
		return e.Status == unauthenticatedCode
	}
	return false
}

// Hint returns an operator-facing suggestion for network failures.
func (e *RequestError) Hint() string {
	if e.Kind != KindNetwork {
		return ""
	}
	switch e.Cause {
	case CauseDNS, CauseRefused:
		return "gateway unreachable: check API_BASE_URL / SYSTEM_API_BASE_URL"
	case CauseTLS:
		return "TLS handshake rejected: check the gateway certificate and scheme"
	case CauseReset:
		return "connection dropped by the gateway or a proxy: check gateway cross-origin and proxy configuration"
	}
	return ""
}

// KindOf returns the Kind of a *RequestError anywhere in err's chain, or 0.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsAuthFailure reports whether err is a 401 from the gateway, at HTTP or business level.
func IsAuthFailure(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.AuthFailure()
}

// classifyNetwork maps a transport error to a NetworkCause.
func classifyNetwork(err error) NetworkCause {
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.As(err, &dnsErr):
		return CauseDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return CauseRefused
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostnameErr), errors.As(err, &recordErr):
		return CauseTLS
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CauseReset
	}
	return CauseUnknown
}
