package webhook

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the HTTP header Tailscale puts the signature in.
const HeaderName = "Tailscale-Webhook-Signature"

// maxUnixSeconds bounds accepted timestamps so that conversion to time.Time
// never overflows.
const maxUnixSeconds = 1 << 53

// Version is a signature scheme version.
type Version int

const (
	V1 Version = iota + 1
)

func (v Version) String() string {
	if v == V1 {
		return "v1"
	}
	return "v" + strconv.Itoa(int(v))
}

// Signature is the versioned, still hex-encoded signature from the header.
type Signature struct {
	Version Version
	Value   string
}

// SignatureHeader is the parsed form of Tailscale-Webhook-Signature.
type SignatureHeader struct {
	Timestamp time.Time
	Signature Signature
}

// Unix returns the header timestamp in seconds, the form used in the signing
// string.
func (h SignatureHeader) Unix() int64 {
	return h.Timestamp.Unix()
}

// String formats the header back into its wire form.
func (h SignatureHeader) String() string {
	return "t=" + strconv.FormatInt(h.Unix(), 10) + "," + h.Signature.Version.String() + "=" + h.Signature.Value
}

// ParseSignatureHeader parses "t=<unix-seconds>,v1=<hex-signature>".
//
// Only structure is checked here; the signature value is hex-decoded by
// VerifySignature and the timestamp's age by CheckFreshness.
func ParseSignatureHeader(raw string) (SignatureHeader, error) {
	fields := strings.Split(raw, ",")
	if len(fields) != 2 {
		return SignatureHeader{}, invalidHeader("t=<timestamp>,v1=<signature>", raw)
	}

	t, err := headerField(fields[0], "t", "t=<timestamp>")
	if err != nil {
		return SignatureHeader{}, err
	}

	key, value, ok := strings.Cut(fields[1], "=")
	if !ok {
		return SignatureHeader{}, invalidHeader("v1=<signature>", fields[1])
	}
	version, err := parseVersion(key)
	if err != nil {
		return SignatureHeader{}, err
	}

	ts, err := parseTimestamp(t)
	if err != nil {
		return SignatureHeader{}, err
	}

	return SignatureHeader{
		Timestamp: ts,
		Signature: Signature{Version: version, Value: value},
	}, nil
}

func headerField(field, name, expected string) (string, error) {
	key, value, ok := strings.Cut(field, "=")
	if !ok {
		return "", invalidHeader(expected, field)
	}
	if key != name {
		return "", invalidHeader(name, key)
	}
	return value, nil
}

// parseVersion accepts "v1". Other "v<n>" keys are well formed but unsupported.
func parseVersion(key string) (Version, error) {
	if key == "v1" {
		return V1, nil
	}
	if isVersionKey(key) {
		return 0, unsupportedVersion(key)
	}
	return 0, invalidHeader("v1", key)
}

func parseTimestamp(raw string) (time.Time, error) {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// NumError repeats the input; keep only the reason.
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			err = ne.Err
		}
		return time.Time{}, invalidTimestamp(raw, err)
	}
	if secs > maxUnixSeconds || secs < -maxUnixSeconds {
		return time.Time{}, invalidTimestamp(raw, nil)
	}
	return time.Unix(secs, 0).UTC(), nil
}
