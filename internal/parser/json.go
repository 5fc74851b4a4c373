package parser

import (
	"bytes"
	"encoding/json"
	"io"
)

// ParseJSON accepts a top-level array of flat objects or a single flat
// object. Malformed input yields no records and no error; callers treat an
// empty result as "no data".
func ParseJSON(content []byte) []Record {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil
	}

	var records []Record
	switch tok {
	case json.Delim('['):
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil
			}
			rec, ok := decodeObject(raw)
			if !ok {
				continue
			}
			records = append(records, rec)
		}
		if _, err := dec.Token(); err != nil {
			return nil
		}
	case json.Delim('{'):
		rec, ok := readObject(dec)
		if !ok {
			return nil
		}
		records = append(records, rec)
	default:
		return nil
	}

	// trailing garbage makes the whole document invalid
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return records
}

func decodeObject(raw json.RawMessage) (Record, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return Record{}, false
	}
	return readObject(dec)
}

// readObject consumes the members of an object whose opening brace has
// already been read, keeping keys in document order.
func readObject(dec *json.Decoder) (Record, bool) {
	var columns []string
	var values []Value

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Record{}, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return Record{}, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Record{}, false
		}
		columns = append(columns, key)
		values = append(values, scalarFromJSON(raw))
	}
	if _, err := dec.Token(); err != nil {
		return Record{}, false
	}
	return NewRecord(columns, values), true
}

func scalarFromJSON(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Null()
	}
	switch trimmed[0] {
	case 'n':
		return Null()
	case 't', 'f':
		return Text(string(trimmed))
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Text(string(trimmed))
		}
		return Coerce(s)
	case '{', '[':
		return Text(string(trimmed))
	default:
		if f, ok := ParseNumber(string(trimmed)); ok {
			return Number(f)
		}
		return Text(string(trimmed))
	}
}
