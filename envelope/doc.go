// Package envelope implements magic envelopes: signed wrappers around a
// payload and its declared content type.
//
// An envelope serializes as
//
//	{"data": ..., "data_type": ..., "encoding": "base64url",
//	 "alg": "RSA-SHA256", "sigs": [{"value": ..., "keyhash": ...}]}
//
// The signed message is
//
//	data + "." + b64(data_type) + "." + b64(encoding) + "." + b64(alg)
//
// where data is already base64url and is used as-is.
//
// # Verification
//
// Verify walks the signatures in order. Signatures under key hashes that are
// not in the supplied key ring are skipped. A signature under a known key that
// fails to verify aborts with ErrInvalidSignature immediately. If no signature
// matched a known key the envelope fails with ErrUnknownProvenance.
//
// Verifier selects the key ring from a TrustPolicy: RequireKnownKey uses a
// pre-established ring (the trust store), AcceptSelfAsserted trusts only the
// key the payload itself presents (trust on first use).
package envelope
