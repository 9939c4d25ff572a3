package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SigningString builds the canonical "{timestamp}.{body}" byte sequence the
// MAC is computed over. body must be the request body exactly as received.
func SigningString(timestamp int64, body []byte) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	buf := make([]byte, 0, len(ts)+1+len(body))
	buf = append(buf, ts...)
	buf = append(buf, '.')
	buf = append(buf, body...)
	return buf
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 of signingString.
func ComputeSignature(secret, signingString []byte) string {
	return hex.EncodeToString(computeMAC(secret, signingString))
}

// VerifySignature checks a hex-encoded v1 signature against signingString.
//
// The comparison is done on the decoded bytes with hmac.Equal, which runs in
// constant time. Errors never include the expected or supplied signature.
func VerifySignature(secret, signingString []byte, signature string) error {
	claimed, err := hex.DecodeString(signature)
	if err != nil {
		return malformedSignature(err)
	}

	expected := computeMAC(secret, signingString)
	if !hmac.Equal(expected, claimed) {
		return signatureMismatch()
	}
	return nil
}

// SignHeader produces a complete Tailscale-Webhook-Signature value for body.
func SignHeader(secret []byte, timestamp int64, body []byte) string {
	sig := ComputeSignature(secret, SigningString(timestamp, body))
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + sig
}

func computeMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
