package envelope

import "errors"

var (
	// ErrUnreadableEnvelope is returned for structurally invalid envelopes.
	ErrUnreadableEnvelope = errors.New("unreadable envelope")

	// ErrInvalidSignature is returned when a signature under a known key does
	// not verify. Callers should treat it as a security event.
	ErrInvalidSignature = errors.New("invalid envelope signature")

	// ErrUnknownProvenance is returned when no signature was made by a
	// trusted key.
	ErrUnknownProvenance = errors.New("envelope has unknown provenance")
)
