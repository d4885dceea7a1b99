// Package canon implements the kernel's stable canonicalization and hashing
// contract: a deterministic JSON encoding (RFC 8785 flavored — sorted object
// keys, no HTML escaping, stable number formatting) over SHA-256, plus the
// two hash families (tamper, public) used to compare decision state across
// the store, receipts and snapshots.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// JCS renders v as canonical JSON bytes: object keys sorted lexicographically,
// no HTML escaping, arrays preserved in order, floating point numbers printed
// without surprising exponents. Cyclic references are not possible for the
// tree-structured domain types this package hashes; marshalRecursive guards
// against accidental depth explosions defensively but a cycle is a bug, not a
// supported input.
func JCS(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}

	var out bytes.Buffer
	if err := marshalRecursive(&out, generic, 0); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// JCSString is JCS rendered as a string.
func JCSString(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// maxDepth bounds recursion so a genuinely cyclic input (which should never
// occur for this package's tree-structured inputs) fails loudly instead of
// stack-overflowing.
const maxDepth = 256

func marshalRecursive(out *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		out.WriteString(`"[Circular]"`)
		return nil
	}
	switch t := v.(type) {
	case nil:
		out.WriteString("null")
	case bool:
		if t {
			out.WriteString("true")
		} else {
			out.WriteString("false")
		}
	case json.Number:
		return writeNumber(out, t)
	case string:
		return writeJSONString(out, t)
	case []any:
		out.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				out.WriteByte(',')
			}
			if elem == nil {
				out.WriteString("null")
				continue
			}
			if err := marshalRecursive(out, elem, depth+1); err != nil {
				return err
			}
		}
		out.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.WriteByte('{')
		wrote := false
		for _, k := range keys {
			val := t[k]
			if val == nil {
				// undefined/null-valued keys are dropped, matching the
				// contract that fields with an "undefined" value vanish.
				continue
			}
			if wrote {
				out.WriteByte(',')
			}
			if err := writeJSONString(out, k); err != nil {
				return err
			}
			out.WriteByte(':')
			if err := marshalRecursive(out, val, depth+1); err != nil {
				return err
			}
			wrote = true
		}
		out.WriteByte('}')
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

func writeJSONString(out *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	out.Write(b)
	return nil
}

func writeNumber(out *bytes.Buffer, n json.Number) error {
	if f, err := n.Float64(); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("canon: non-finite number %s", n.String())
		}
	}
	// json.Number already carries the shortest round-trip representation
	// produced by the encoder; re-emit it verbatim for integers, and
	// normalize floats through strconv to avoid encoder-version skew.
	s := n.String()
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		out.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %s: %w", s, err)
	}
	out.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// Hash computes lowercase-hex SHA-256 over canonical bytes.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes lowercase-hex SHA-256 of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Combine implements the Merkle combine function mandated for this kernel:
// combine(l, r) = H(l ":" r). No domain-separation prefix is used, matching
// the data model's literal contract rather than a stricter domain-tagged
// variant.
func Combine(l, r string) string {
	return HashBytes([]byte(l + ":" + r))
}
