package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxStatusText is the longest status update accepted for broadcast.
	MaxStatusText = 4096

	// MaxEnvelope is the maximum serialized envelope size.
	MaxEnvelope = 256 * 1024

	// MaxDocument is the maximum size of a stored document.
	MaxDocument = 512 * 1024

	// MaxProcessingBuffer is the absolute maximum for any raw inbound message.
	// This prevents memory exhaustion from oversized mail (1MB limit)
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateStatusText validates a status update against MaxStatusText.
func ValidateStatusText(text string) error {
	if len(text) == 0 {
		return ErrMessageEmpty
	}
	if len(text) > MaxStatusText {
		return fmt.Errorf("%w: status size %d exceeds limit %d", ErrMessageTooLarge, len(text), MaxStatusText)
	}
	return nil
}

// ValidateEnvelope validates a serialized envelope against MaxEnvelope.
func ValidateEnvelope(raw []byte) error {
	if len(raw) == 0 {
		return ErrMessageEmpty
	}
	if len(raw) > MaxEnvelope {
		return fmt.Errorf("%w: envelope size %d exceeds limit %d", ErrMessageTooLarge, len(raw), MaxEnvelope)
	}
	return nil
}

// ValidateDocument validates a stored document against MaxDocument.
func ValidateDocument(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxDocument {
		return fmt.Errorf("%w: document size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxDocument)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum (MaxProcessingBuffer).
// This limit should be used for all raw mail before it is parsed.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
