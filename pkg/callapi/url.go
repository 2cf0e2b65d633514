package callapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// IsAbsoluteURL reports whether endpoint is an absolute http(s) URL.
func IsAbsoluteURL(endpoint string) bool {
	lower := strings.ToLower(endpoint)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveURL joins base and endpoint and appends params as a query string.
//
// Absolute http(s) endpoints ignore base. Relative endpoints are joined to base
// with exactly one slash. Params with nil values are omitted, slices produce one
// pair per element, and pairs are sorted by key so the result is deterministic.
func ResolveURL(base, endpoint string, params Params) (string, error) {
	var target string

	switch {
	case IsAbsoluteURL(endpoint):
		target = endpoint
	case base == "":
		return "", fmt.Errorf("%w: endpoint %q is relative", constants.ErrBaseURLRequired, endpoint)
	case endpoint == "":
		target = strings.TrimSuffix(base, "/")
	default:
		target = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	}

	query, err := EncodeParams(params)
	if err != nil {
		return "", err
	}

	if query == "" {
		return target, nil
	}

	if strings.Contains(target, "?") {
		return target + "&" + query, nil
	}

	return target + "?" + query, nil
}

// EncodeParams encodes params as a sorted query string, skipping nil values.
func EncodeParams(params Params) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var parts []string

	for _, key := range keys {
		values, err := paramValues(params[key])
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", constants.ErrInvalidParam, key, err)
		}

		for _, value := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	return strings.Join(parts, "&"), nil
}

func paramValues(value any) ([]string, error) {
	value, ok := deref(value)
	if !ok {
		return nil, nil
	}

	if v, ok := value.([]string); ok {
		return v, nil
	}

	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8) || rv.Kind() == reflect.Array {
		out := make([]string, 0, rv.Len())

		for i := 0; i < rv.Len(); i++ {
			elem, ok := deref(rv.Index(i).Interface())
			if !ok {
				continue
			}

			s, err := formatScalar(elem)
			if err != nil {
				return nil, err
			}

			out = append(out, s)
		}

		return out, nil
	}

	s, err := formatScalar(value)
	if err != nil {
		return nil, err
	}

	return []string{s}, nil
}

// deref follows pointers and reports false for nil values.
func deref(value any) (any, bool) {
	if value == nil {
		return nil, false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
	}

	return rv.Interface(), true
}

func formatScalar(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case time.Duration:
		return v.String(), nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct {
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", err
		}

		return string(encoded), nil
	}

	return fmt.Sprint(value), nil
}

// EncodeBody serializes a request body and returns its content type.
// A nil body yields no payload.
func EncodeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case *FormData:
		if v == nil {
			return nil, "", nil
		}

		return v.Encode()
	case json.RawMessage:
		return v, "application/json", nil
	case []byte:
		return v, "application/json", nil
	case string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", constants.ErrInvalidBody, err)
		}

		return encoded, "application/json", nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", constants.ErrInvalidBody, err)
	}

	return encoded, "application/json", nil
}
