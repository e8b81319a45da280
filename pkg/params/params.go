// Package params holds the request envelope type shared between the public
// client surface and the internal transport/pagination machinery.
//
// A MediaWiki API call is described entirely by a flat set of string
// parameters. Values models that set: keys map to already-encoded string
// values, an absent key means the parameter is omitted, and the single key
// ending in "limit" (if any) is the page-size knob the paginator and limit
// negotiator adjust between continuation rounds.
package params

import (
	"net/url"
	"strconv"
	"strings"
)

// Max is the sentinel limit value meaning "use the server's maximum page
// size". When a limit key carries Max the paginator never consults the
// limit negotiator.
const Max = "max"

// LimitSuffix is the suffix identifying the page-size key of an envelope.
// MediaWiki prefixes it per module (aplimit, rvlimit, cmlimit, ...).
const LimitSuffix = "limit"

// Values is one request's parameter envelope.
type Values map[string]string

// New returns an empty envelope.
func New() Values {
	return make(Values)
}

// Clone returns an independent copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge overlays other onto v in place. Keys in other win.
func (v Values) Merge(other Values) {
	for k, val := range other {
		v[k] = val
	}
}

// Set stores an already-encoded value.
func (v Values) Set(key, value string) {
	v[key] = value
}

// SetInt stores an integer value.
func (v Values) SetInt(key string, value int) {
	v[key] = strconv.Itoa(value)
}

// SetInt64 stores a 64-bit integer value.
func (v Values) SetInt64(key string, value int64) {
	v[key] = strconv.FormatInt(value, 10)
}

// SetBool stores "1" when value is true and omits the key otherwise.
// MediaWiki treats parameter presence as truth.
func (v Values) SetBool(key string, value bool) {
	if value {
		v[key] = "1"
	} else {
		delete(v, key)
	}
}

// SetNonEmpty stores value only when it is not the empty string.
func (v Values) SetNonEmpty(key, value string) {
	if value != "" {
		v[key] = value
	}
}

// Get returns the value for key, or "" when absent.
func (v Values) Get(key string) string {
	return v[key]
}

// Has reports whether key is present.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// LimitKey returns the envelope's page-size key: the key ending in
// LimitSuffix. Envelopes carry at most one such key; if none is present the
// second return is false.
func (v Values) LimitKey() (string, bool) {
	for k := range v {
		if strings.HasSuffix(k, LimitSuffix) {
			return k, true
		}
	}
	return "", false
}

// Encode converts the envelope to url.Values for query-string or form-body
// serialization.
func (v Values) Encode() url.Values {
	out := make(url.Values, len(v))
	for k, val := range v {
		out.Set(k, val)
	}
	return out
}
