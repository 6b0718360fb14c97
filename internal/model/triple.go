package model

// Triple is the atomic record of §3: (subject, predicate, object,
// timestamp, txId).
type Triple struct {
	Subject   string // entity URL
	Predicate string // identifier name
	Object    Value
	Timestamp uint64 // ms since epoch, strictly positive
	TxID      string // 26-char Crockford-base32 ULID
}

// Validate re-checks a Triple against the §4.2 consumed contract at the
// core's boundary, even though an external collaborator is expected to
// have validated subject/predicate/txId already.
func (t Triple) Validate() error {
	if err := ValidateEntityURL(t.Subject); err != nil {
		return err
	}
	if err := ValidatePredicate(t.Predicate); err != nil {
		return err
	}
	if err := ValidateULID(t.TxID); err != nil {
		return err
	}
	if t.Timestamp == 0 {
		return ErrInputValidation("timestamp must be strictly positive")
	}
	if t.Object.Tag() == TagRef {
		if err := ValidateEntityURL(t.Object.Str()); err != nil {
			return ErrInputValidation("REF object: %v", err)
		}
	}
	if t.Object.Tag() == TagRefArray {
		for i, u := range t.Object.RefArray() {
			if err := ValidateEntityURL(u); err != nil {
				return ErrInputValidation("REF_ARRAY object[%d]: %v", i, err)
			}
		}
	}
	if t.Object.Tag() == TagURL {
		if err := ValidateEntityURL(t.Object.Str()); err != nil {
			return ErrInputValidation("URL object: %v", err)
		}
	}
	if t.Object.Tag() == TagString {
		if err := ValidateStringValue(t.Object.Str()); err != nil {
			return ErrInputValidation("STRING object: %v", err)
		}
	}
	return nil
}

// IsTombstone reports whether this triple marks a deletion (§3, §8
// Scenario F): a NULL-valued object.
func (t Triple) IsTombstone() bool {
	return t.Object.Tag() == TagNull
}

// Latest returns the triple with the greatest Timestamp from a slice of
// triples sharing the same (subject, predicate) — the MVCC resolution rule
// of §3. Ties are broken by comparing TxID lexicographically (ULIDs
// issued by one process are monotonic, so a tie implies the later call in
// program order has the lexicographically larger ULID).
func Latest(triples []Triple) (Triple, bool) {
	if len(triples) == 0 {
		return Triple{}, false
	}
	best := triples[0]
	for _, t := range triples[1:] {
		if t.Timestamp > best.Timestamp || (t.Timestamp == best.Timestamp && t.TxID > best.TxID) {
			best = t
		}
	}
	return best, true
}
