package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Decode parses canonical JSON back into the sealed value family.
// Number literals are preserved textually (integers become Int, everything
// else becomes Decimal carrying the original literal), so
// MarshalCanonical(Decode(b)) reproduces b byte-for-byte for canonical
// input. That round-trip property is what keeps signatures verifiable
// after records pass through storage.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canon: decode: trailing data")
	}
	return fromJSON(raw)
}

// DecodeObject is Decode restricted to a top-level object.
func DecodeObject(data []byte) (Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("canon: decode: expected object, got %T", v)
	}
	return obj, nil
}

func fromJSON(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("canon: null is forbidden in canonical JSON")
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case json.Number:
		lit := v.String()
		if !strings.ContainsAny(lit, ".eE") {
			if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
				return Int(i), nil
			}
		}
		return ParseDecimal(lit)
	case []any:
		arr := make(Array, len(v))
		for i, elem := range v {
			cv, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(v))
		for k, elem := range v {
			cv, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("canon: unsupported decoded type %T", raw)
	}
}
