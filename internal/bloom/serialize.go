package bloom

import "encoding/json"

// MarshalJSON implements json.Marshaler using the §6 wire format.
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.toJSONFilter())
}

// UnmarshalJSON implements json.Unmarshaler using the §6 wire format,
// rejecting a declared m that doesn't match the bit array (§9).
func (f *Filter) UnmarshalJSON(data []byte) error {
	var jf jsonFilter
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	decoded, err := fromJSONFilter(jf)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

// Serialize returns the §6 JSON wire format as bytes.
func (f *Filter) Serialize() ([]byte, error) {
	return json.Marshal(f.toJSONFilter())
}

// Deserialize parses the §6 JSON wire format.
func Deserialize(data []byte) (*Filter, error) {
	var jf jsonFilter
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, err
	}
	return fromJSONFilter(jf)
}
