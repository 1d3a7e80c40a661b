package types

import "errors"

// Sentinel errors shared across the decoders. A hole (bytes not yet
// confirmed read by the rescue map) is deliberately not an error: it
// travels through result values so traversal can continue elsewhere.
var (
	// ErrMalformedStructure marks a block that read complete but decoded to
	// invalid field values. Since read bytes are trusted, this usually means
	// a wrong partition offset or block size, not media damage.
	ErrMalformedStructure = errors.New("malformed filesystem structure")

	// ErrOutOfRange marks a decoded block address or offset outside the
	// image. Treated exactly like a malformed structure.
	ErrOutOfRange = errors.New("reference outside image bounds")

	// ErrIncomplete means a required structure sits behind unread bytes;
	// the answer may change once more of the disk is rescued.
	ErrIncomplete = errors.New("required structure not yet readable")

	// ErrNotFound is the normal negative result for a name or key that is
	// absent from fully readable structures.
	ErrNotFound = errors.New("not found")
)
