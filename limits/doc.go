// Package limits provides centralized size limits for data that enters the
// system from other people's mailboxes.
//
// # Size Hierarchy
//
//   - MaxStatusText (4096 bytes): longest status text accepted by PostStatus.
//
//   - MaxEnvelope (256 KiB): largest serialized envelope accepted from an
//     attachment. Protocol activities are a few kilobytes; anything larger is
//     rejected before JSON decoding.
//
//   - MaxDocument (512 KiB): largest document written to or read from the
//     account's own store.
//
//   - MaxProcessingBuffer (1 MiB): absolute maximum for a raw inbound mail
//     message, applied before MIME parsing.
//
// # Validation Functions
//
// Each validation function checks for empty input and size limit violations:
//
//	if err := limits.ValidateEnvelope(raw); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom size limits, use ValidateMessageSize.
package limits
