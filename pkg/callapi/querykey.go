package callapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/gowebpki/jcs"
)

// QueryKey identifies a query in a QueryClient or FetchCache.
// Two keys are equal when their elements are equal as canonical JSON.
type QueryKey []any

// DeriveKey builds the key for a call: [endpoint] when there are no
// discriminating inputs, [endpoint, inputs] otherwise. Nil entries of map
// inputs are dropped and map ordering never affects equality.
func DeriveKey(endpoint string, inputs any) QueryKey {
	cleaned, ok := stripNil(inputs)
	if !ok {
		return QueryKey{endpoint}
	}

	return QueryKey{endpoint, cleaned}
}

// KeyForRequest derives the key of a request descriptor.
func KeyForRequest(endpoint string, req *RequestDescriptor) QueryKey {
	return DeriveKey(endpoint, req.Discriminator())
}

// String returns the canonical JSON encoding of the key.
func (k QueryKey) String() string {
	return string(canonical([]any(k)))
}

// Hash returns a hex digest of the canonical encoding, safe for use as a
// storage key in backends with restricted key alphabets.
func (k QueryKey) Hash() string {
	sum := sha256.Sum256(canonical([]any(k)))

	return hex.EncodeToString(sum[:])
}

// Equal reports whether two keys have the same canonical encoding.
func (k QueryKey) Equal(other QueryKey) bool {
	return bytes.Equal(canonical([]any(k)), canonical([]any(other)))
}

// HasPrefix reports whether prefix matches the leading elements of k.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}

	for i := range prefix {
		if !bytes.Equal(canonical(k[i]), canonical(prefix[i])) {
			return false
		}
	}

	return true
}

// Append returns a new key with parts appended.
func (k QueryKey) Append(parts ...any) QueryKey {
	out := make(QueryKey, 0, len(k)+len(parts))
	out = append(out, k...)

	return append(out, parts...)
}

// KeyFactory builds hierarchical keys for one resource scope so that related
// queries can be invalidated together by prefix.
type KeyFactory struct {
	scope string
}

// NewKeyFactory creates a key factory for scope.
func NewKeyFactory(scope string) KeyFactory {
	return KeyFactory{scope: scope}
}

// All returns [scope].
func (f KeyFactory) All() QueryKey {
	return QueryKey{f.scope}
}

// Lists returns [scope, "list"].
func (f KeyFactory) Lists() QueryKey {
	return f.All().Append("list")
}

// List returns [scope, "list", filters].
func (f KeyFactory) List(filters any) QueryKey {
	cleaned, ok := stripNil(filters)
	if !ok {
		cleaned = map[string]any{}
	}

	return f.Lists().Append(cleaned)
}

// Details returns [scope, "detail"].
func (f KeyFactory) Details() QueryKey {
	return f.All().Append("detail")
}

// Detail returns [scope, "detail", id].
func (f KeyFactory) Detail(id any) QueryKey {
	return f.Details().Append(id)
}

// canonical encodes v as RFC 8785 canonical JSON.
func canonical(v any) []byte {
	encoded, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", v))
	}

	transformed, err := jcs.Transform(encoded)
	if err != nil {
		return encoded
	}

	return transformed
}

// stripNil removes nil values from map inputs and reports false when nothing
// discriminating is left.
func stripNil(inputs any) (any, bool) {
	value, ok := deref(inputs)
	if !ok {
		return nil, false
	}

	switch v := value.(type) {
	case Params:
		return stripNilMap(v)
	case map[string]any:
		return stripNilMap(v)
	}

	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.Len() == 0 {
		return nil, false
	}

	return value, true
}

func stripNilMap(m map[string]any) (any, bool) {
	out := make(map[string]any, len(m))

	for key, value := range m {
		if _, ok := deref(value); !ok {
			continue
		}

		out[key] = value
	}

	if len(out) == 0 {
		return nil, false
	}

	return out, true
}
