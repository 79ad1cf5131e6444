package admission

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint hashes user, model and the canonical form of input. Requests
// that differ only in key order, number spelling, surrounding whitespace,
// unicode composition or null fields hash the same.
func Fingerprint(userID, modelID string, input map[string]any) (string, error) {
	canon, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(userID)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(modelID)))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSON renders v with sorted keys and normalized scalars.
func CanonicalJSON(v any) ([]byte, error) {
	c, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return norm.NFC.String(strings.TrimSpace(t)), nil
	case bool:
		return t, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, fmt.Errorf("canonical json: number %q: %w", t, err)
		}
		return json.Number(d.String()), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("canonical json: unsupported number %v", t)
		}
		return json.Number(decimal.NewFromFloat(t).String()), nil
	case float32:
		return canonicalize(float64(t))
	case int:
		return json.Number(strconv.Itoa(t)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(t, 10)), nil
	case decimal.Decimal:
		return json.Number(t.String()), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := canonicalize(val)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			out[norm.NFC.String(strings.TrimSpace(k))] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			c, err := canonicalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		// Structs, typed slices and maps go through a JSON round trip.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonical json: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("canonical json: %w", err)
		}
		return canonicalize(generic)
	}
}
