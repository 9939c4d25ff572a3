package webhook

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a webhook could not be processed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidHeader
	KindUnsupportedVersion
	KindInvalidTimestamp
	KindMalformedSignature
	KindTimestampOutOfWindow
	KindSignatureMismatch
	KindMalformedPayload
	KindForwardingFailure
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindInvalidHeader:        "invalid_header",
	KindUnsupportedVersion:   "unsupported_version",
	KindInvalidTimestamp:     "invalid_timestamp",
	KindMalformedSignature:   "malformed_signature",
	KindTimestampOutOfWindow: "timestamp_out_of_window",
	KindSignatureMismatch:    "signature_mismatch",
	KindMalformedPayload:     "malformed_payload",
	KindForwardingFailure:    "forwarding_failure",
}

// String returns the snake_case name used in logs, metrics and responses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Authentication reports whether the kind is raised before the caller's
// identity is proven (header, freshness and MAC checks).
func (k Kind) Authentication() bool {
	switch k {
	case KindInvalidHeader, KindUnsupportedVersion, KindInvalidTimestamp,
		KindMalformedSignature, KindTimestampOutOfWindow, KindSignatureMismatch:
		return true
	}
	return false
}

// Error is the single error type produced by the verification and forwarding
// stages. Only the fields relevant to Kind are set.
type Error struct {
	Kind Kind

	// Expected and Got describe an InvalidHeader failure.
	Expected string
	Got      string

	// Delta is now-timestamp in seconds for TimestampOutOfWindow.
	Delta int64

	// StatusCode is the upstream HTTP status for ForwardingFailure (0 if none).
	StatusCode int
	// Index is the position of the event whose delivery failed.
	Index int

	Err error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidHeader        = &Error{Kind: KindInvalidHeader}
	ErrUnsupportedVersion   = &Error{Kind: KindUnsupportedVersion}
	ErrInvalidTimestamp     = &Error{Kind: KindInvalidTimestamp}
	ErrMalformedSignature   = &Error{Kind: KindMalformedSignature}
	ErrTimestampOutOfWindow = &Error{Kind: KindTimestampOutOfWindow}
	ErrSignatureMismatch    = &Error{Kind: KindSignatureMismatch}
	ErrMalformedPayload     = &Error{Kind: KindMalformedPayload}
	ErrForwardingFailure    = &Error{Kind: KindForwardingFailure}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidHeader:
		return fmt.Sprintf("invalid signature header (expected %q, got %q)", e.Expected, redactHeader(e.Got))
	case KindUnsupportedVersion:
		return fmt.Sprintf("unsupported signature version %q", redactHeader(e.Got))
	case KindInvalidTimestamp:
		if e.Err != nil {
			return fmt.Sprintf("invalid timestamp %q: %v", redactHeader(e.Got), e.Err)
		}
		return fmt.Sprintf("invalid timestamp %q", redactHeader(e.Got))
	case KindMalformedSignature:
		return "signature is not valid hex"
	case KindTimestampOutOfWindow:
		return fmt.Sprintf("timestamp outside freshness window (delta %ds)", e.Delta)
	case KindSignatureMismatch:
		return "signature mismatch"
	case KindMalformedPayload:
		if e.Err != nil {
			return fmt.Sprintf("malformed payload: %v", e.Err)
		}
		return "malformed payload"
	case KindForwardingFailure:
		msg := fmt.Sprintf("forwarding event %d failed", e.Index)
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(" (status %d)", e.StatusCode)
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

const redactedValue = "[redacted]"

// maxShownValue bounds how much of a header value an error message repeats.
// Any timestamp fits; a claimed signature never does.
const maxShownValue = 20

// redactHeader renders a raw header fragment for an error message. The value
// of every v<n> field is dropped, as is anything too long to be a timestamp.
func redactHeader(raw string) string {
	fields := strings.Split(raw, ",")
	for i, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if len(key) > maxShownValue {
			key = redactedValue
		}
		switch {
		case !ok:
			fields[i] = key
		case isVersionKey(key) || len(value) > maxShownValue:
			fields[i] = key + "=" + redactedValue
		}
	}
	return strings.Join(fields, ",")
}

func isVersionKey(key string) bool {
	n, ok := strings.CutPrefix(key, "v")
	if !ok || n == "" {
		return false
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func invalidHeader(expected, got string) error {
	return &Error{Kind: KindInvalidHeader, Expected: expected, Got: got}
}

func unsupportedVersion(got string) error {
	return &Error{Kind: KindUnsupportedVersion, Got: got}
}

func invalidTimestamp(got string, cause error) error {
	return &Error{Kind: KindInvalidTimestamp, Got: got, Err: cause}
}

func malformedSignature(cause error) error {
	return &Error{Kind: KindMalformedSignature, Err: cause}
}

func timestampOutOfWindow(delta int64) error {
	return &Error{Kind: KindTimestampOutOfWindow, Delta: delta}
}

func signatureMismatch() error {
	return &Error{Kind: KindSignatureMismatch}
}

func malformedPayload(cause error) error {
	return &Error{Kind: KindMalformedPayload, Err: cause}
}

// ForwardingError reports that delivering the event at index failed.
// statusCode is the upstream response status, or 0 when no response arrived.
func ForwardingError(index, statusCode int, cause error) error {
	return &Error{Kind: KindForwardingFailure, Index: index, StatusCode: statusCode, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnknown
}
