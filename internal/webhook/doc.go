// Package webhook verifies and decodes signed Tailscale webhook deliveries.
//
// Tailscale signs every delivery with a shared secret and sends the result in
// the Tailscale-Webhook-Signature header:
//
//	Tailscale-Webhook-Signature: t=1684518293,v1=5257a869e7...
//
// where v1 = hex(HMAC-SHA256(secret, "{t}.{raw body}")).
//
// # Verification Order
//
//  1. ParseSignatureHeader splits the header into timestamp and signature
//  2. CheckFreshness rejects timestamps older than 300s or in the future
//  3. VerifySignature recomputes the MAC and compares it in constant time
//  4. DecodeEvents parses the body, only after the MAC matched
//
// The body handed to VerifySignature must be the exact bytes received on the
// wire. Re-encoding or unescaping it breaks the signature.
//
// # Errors
//
// Every failure is an *Error tagged with a Kind. Use errors.Is with the
// package sentinels (ErrSignatureMismatch, ...) or KindOf to classify:
//
//	if errors.Is(err, webhook.ErrTimestampOutOfWindow) {
//		// replayed or clock-skewed delivery
//	}
//
// No error message contains the secret or either signature.
package webhook
