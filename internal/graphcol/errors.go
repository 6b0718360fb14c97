package graphcol

import "github.com/beenet-labs/graphlake/internal/model"

// The §4.3 decode path distinguishes five named failure modes. Each is
// surfaced as a model.CoreError of KindDecodeError whose message is
// prefixed with the failure mode name, so callers (and tests) can match on
// it without graphcol exporting sentinel error values that would defeat
// errors.Is-based matching against model.CoreError.Kind.

func errBadMagic(got []byte) error {
	return model.ErrDecodeError("BadMagic: expected magic %x, got %x", magic, got)
}

func errUnsupportedVersion(got uint16) error {
	return model.ErrDecodeError("UnsupportedVersion: this decoder supports version %d, got %d", formatVersion, got)
}

func errTruncatedSection(section string, want, have int) error {
	return model.ErrDecodeError("TruncatedSection: %s needs %d bytes, %d remain", section, want, have)
}

func errCrcMismatch(want, got uint32) error {
	return model.ErrDecodeError("CrcMismatch: trailer declares 0x%08X, computed 0x%08X", want, got)
}

func errUnknownVariant(tag byte) error {
	return model.ErrDecodeError("UnknownVariant: object type tag %d is not a recognized value variant", tag)
}

func errInvalidUTF8(section string) error {
	return model.ErrDecodeError("InvalidUTF8: %s is not valid UTF-8", section)
}
