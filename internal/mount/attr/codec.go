package attr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"simplemounts.ai/internal/codec/zblob"
)

const formatVersion = 1

// Wire tags for tagged entries. Payloads are always JSON strings so every value, including
// NaN and very large integers, survives exactly.
const (
	tagInt    = "i"
	tagFloat  = "f"
	tagBool   = "b"
	tagString = "s"
	tagBytes  = "x" // string holding invalid UTF-8, base64 encoded.
)

type envelope struct {
	V int                  `json:"v"`
	A map[string]wireEntry `json:"a"`
}

type wireEntry struct {
	T string `json:"t"`
	V string `json:"v"`
}

// DecodeInfo reports which path Decode took. It exists for logging and metrics only.
type DecodeInfo struct {
	Compressed bool
	Legacy     bool
	Skipped    int  // entries dropped because their payload could not be parsed.
	Failed     bool // nothing could be parsed; the returned bag is empty.
}

// Encode serializes b to structured text, zstd-compressing it when compress is true.
// Unknown names are carried like any other.
func Encode(b Bag, compress bool) ([]byte, error) {
	env := envelope{V: formatVersion, A: make(map[string]wireEntry, len(b))}
	for name, v := range b {
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("attr: name %q is not valid UTF-8", name)
		}
		e, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attr: %s: %w", name, err)
		}
		env.A[name] = e
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("attr: marshal: %w", err)
	}
	return zblob.Encode(raw, compress), nil
}

func encodeValue(v Value) (wireEntry, error) {
	switch v.t {
	case TypeInt:
		return wireEntry{T: tagInt, V: strconv.FormatInt(v.i, 10)}, nil
	case TypeFloat:
		return wireEntry{T: tagFloat, V: strconv.FormatFloat(v.f, 'g', -1, 64)}, nil
	case TypeBool:
		return wireEntry{T: tagBool, V: strconv.FormatBool(v.b)}, nil
	case TypeString:
		if !utf8.ValidString(v.s) {
			return wireEntry{T: tagBytes, V: base64.StdEncoding.EncodeToString([]byte(v.s))}, nil
		}
		return wireEntry{T: tagString, V: v.s}, nil
	}
	return wireEntry{}, fmt.Errorf("invalid value")
}

// Decode is best effort: it never returns nil and returns an empty bag when blob is empty
// or unparseable.
func Decode(blob []byte) Bag {
	b, _ := DecodeWithInfo(blob)
	return b
}

// DecodeWithInfo decodes blob and reports how. Decompression is attempted first; on failure
// the raw bytes are parsed as structured text.
func DecodeWithInfo(blob []byte) (Bag, DecodeInfo) {
	var info DecodeInfo
	if len(blob) == 0 {
		return New(), info
	}
	payload, compressed := zblob.Decode(blob)
	info.Compressed = compressed
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return New(), info
	}

	if bag, skipped, ok := decodeTagged(payload); ok {
		info.Skipped = skipped
		return bag, info
	}
	if bag, ok := decodeLegacy(payload); ok {
		info.Legacy = true
		return bag, info
	}
	info.Failed = true
	return New(), info
}

func decodeTagged(payload []byte) (Bag, int, bool) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(payload, &shape); err != nil {
		return nil, 0, false
	}
	if len(shape) != 2 || shape["v"] == nil || shape["a"] == nil {
		return nil, 0, false
	}
	var env struct {
		V int                        `json:"v"`
		A map[string]json.RawMessage `json:"a"`
	}
	if err := json.Unmarshal(payload, &env); err != nil || env.V < 1 {
		return nil, 0, false
	}
	bag := make(Bag, len(env.A))
	skipped := 0
	for name, raw := range env.A {
		var e wireEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			continue
		}
		v, err := decodeValue(e)
		if err != nil {
			skipped++
			continue
		}
		bag[name] = v
	}
	return bag, skipped, true
}

func decodeValue(e wireEntry) (Value, error) {
	switch e.T {
	case tagInt:
		n, err := strconv.ParseInt(e.V, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil
	case tagFloat:
		f, err := strconv.ParseFloat(e.V, 64)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case tagBool:
		x, err := strconv.ParseBool(e.V)
		if err != nil {
			return Value{}, err
		}
		return Bool(x), nil
	case tagString:
		return String(e.V), nil
	case tagBytes:
		raw, err := base64.StdEncoding.DecodeString(e.V)
		if err != nil {
			return Value{}, err
		}
		return String(string(raw)), nil
	default:
		// Written by a newer format: keep the payload as a string rather than lose the name.
		return String(e.V), nil
	}
}

// decodeLegacy reads the pre-tagged format: a flat JSON object of untyped values.
func decodeLegacy(payload []byte) (Bag, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var m map[string]json.RawMessage
	if err := dec.Decode(&m); err != nil {
		return nil, false
	}
	bag := make(Bag, len(m))
	for name, raw := range m {
		bag[name] = legacyValue(raw)
	}
	return bag, true
}

func legacyValue(raw json.RawMessage) Value {
	s := strings.TrimSpace(string(raw))
	switch {
	case s == "true":
		return Bool(true)
	case s == "false":
		return Bool(false)
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			return String(str)
		}
	case s == "null":
		return String("")
	default:
		var num json.Number
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&num); err == nil {
			if n, err := num.Int64(); err == nil {
				return Int(n)
			}
			if f, err := num.Float64(); err == nil {
				return Float(f)
			}
		}
	}
	// Nested objects/arrays are kept verbatim.
	return String(s)
}
