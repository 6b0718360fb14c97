package model

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/beenet-labs/graphlake/internal/ulid"
)

// MaxStringValueLength caps a STRING object value the same way
// MaxEntityURLLength caps an entity URL, against pathologically large
// values arriving from an untrusted source.
const MaxStringValueLength = 64 * 1024

// MaxEntityURLLength is the §4.2 cap on subject/REF/URL length.
const MaxEntityURLLength = 2048

var predicateNamePattern = regexp.MustCompile(`^[$_A-Za-z][A-Za-z0-9_$]*$`)

// forbiddenRunes are the zero-width / formatting characters §4.2 rejects
// in addition to C0 controls and DEL: U+200B..U+200D (zero-width
// space/non-joiner/joiner), U+FEFF (BOM), U+00AD (soft hyphen), U+FFFD
// (replacement character).
var forbiddenRunes = []rune{
	'\u200B', '\u200C', '\u200D', // zero-width space/non-joiner/joiner
	'\uFEFF', // byte order mark
	'\u00AD', // soft hyphen
	'\uFFFD', // replacement character
}

// ValidateEntityURL applies the §4.2 consumed contract: the core re-checks
// this at its own boundary even though an external collaborator is
// expected to have validated it already.
func ValidateEntityURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ErrInputValidation("entity URL is empty or whitespace-only")
	}
	if len(raw) > MaxEntityURLLength {
		return ErrInputValidation("entity URL exceeds %d characters (got %d)", MaxEntityURLLength, len(raw))
	}
	for _, b := range []byte(raw) {
		if b <= 0x1F || b == 0x7F {
			return ErrInputValidation("entity URL contains a control byte 0x%02X", b)
		}
	}
	for _, r := range raw {
		for _, bad := range forbiddenRunes {
			if r == bad {
				return ErrInputValidation("entity URL contains forbidden rune U+%04X", r)
			}
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInputValidation("entity URL failed to parse: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInputValidation("entity URL scheme must be http or https, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" || host == "." || host == ".." {
		return ErrInputValidation("entity URL has an empty or degenerate hostname %q", host)
	}
	if u.User != nil {
		return ErrInputValidation("entity URL must not contain userinfo")
	}
	return nil
}

// ValidateStringValue applies the same "never trust raw UTF-8" posture
// ValidateEntityURL applies to subjects: reject the forbidden zero-width/
// formatting runes, and require the value already be in NFC — the form
// nearly every producer emits by default, so a non-NFC string is either a
// malformed upstream source or adversarial combining-mark stuffing
// designed to make visually-identical strings compare unequal.
func ValidateStringValue(s string) error {
	if len(s) > MaxStringValueLength {
		return ErrInputValidation("string value exceeds %d bytes (got %d)", MaxStringValueLength, len(s))
	}
	for _, r := range s {
		for _, bad := range forbiddenRunes {
			if r == bad {
				return ErrInputValidation("string value contains forbidden rune U+%04X", r)
			}
		}
	}
	if !norm.NFC.IsNormalString(s) {
		return ErrInputValidation("string value is not in Unicode NFC normal form")
	}
	return nil
}

// ValidatePredicate applies §3/§4.2's predicate grammar: no colon, no
// whitespace, must match [$_A-Za-z][A-Za-z0-9_$]*.
func ValidatePredicate(name string) error {
	if strings.Contains(name, ":") {
		return ErrInputValidation("predicate %q must not contain a colon", name)
	}
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return ErrInputValidation("predicate %q must not contain whitespace", name)
		}
	}
	if !predicateNamePattern.MatchString(name) {
		return ErrInputValidation("predicate %q does not match [$_A-Za-z][A-Za-z0-9_$]*", name)
	}
	return nil
}

// IsSystemReservedPredicate reports whether name begins with '$' (§3:
// "predicates beginning with $ are system-reserved").
func IsSystemReservedPredicate(name string) bool {
	return strings.HasPrefix(name, "$")
}

// ValidateULID applies §4.2: exactly 26 characters, Crockford alphabet
// only.
func ValidateULID(id string) error {
	if !ulid.Valid(id) {
		return ErrInputValidation("txId %q is not a valid 26-character Crockford-base32 ULID", id)
	}
	return nil
}
