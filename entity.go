package mwclient

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/Kenny2github/mw-api-client/internal"
)

// Record is an opaque decoded API record for response shapes that are not
// widely used enough to deserve their own entity type (log events, blocks,
// page property names, ...).
type Record = internal.Record

// Flag is a presence-only boolean. MediaWiki encodes markers like "missing"
// or "redirect" as a key that is present (usually with an empty value) when
// true and absent when false.
type Flag bool

// UnmarshalJSON treats any value other than false/null as presence.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "false", "null":
		*f = false
	default:
		*f = true
	}
	return nil
}

// MarshalJSON encodes the flag as a plain boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// mwTimeLayout is the timestamp format the API speaks (ISO 8601, UTC).
const mwTimeLayout = "2006-01-02T15:04:05Z"

// Timestamp is an API timestamp. The zero value means "not reported".
// Protection expiries may instead carry Infinite.
type Timestamp struct {
	time.Time
	// Infinite is set for the "infinity" expiry value.
	Infinite bool
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	if s == "infinity" || s == "infinite" || s == "indefinite" || s == "never" {
		*t = Timestamp{Infinite: true}
		return nil
	}
	parsed, err := time.Parse(mwTimeLayout, s)
	if err != nil {
		return err
	}
	*t = Timestamp{Time: parsed}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Infinite {
		return json.Marshal("infinity")
	}
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.UTC().Format(mwTimeLayout))
}

// String renders the timestamp the way the API expects it.
func (t Timestamp) String() string {
	if t.Infinite {
		return "infinity"
	}
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(mwTimeLayout)
}

// unmarshalRecord decodes rec's known fields into the entity pointed to by v
// and files every unrecognized key into v's Extra map. Decoding merges: keys
// absent from rec leave the entity's current values alone, which is what
// lets a detail fetch overlay a list-response placeholder.
func unmarshalRecord(rec Record, v any) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return err
	}

	elem := reflect.ValueOf(v).Elem()
	known := knownJSONKeys(elem.Type())
	extraField := elem.FieldByName("Extra")
	if !extraField.IsValid() {
		return nil
	}
	extra, _ := extraField.Interface().(map[string]json.RawMessage)
	for k, raw := range rec {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = raw
	}
	if extra != nil {
		extraField.Set(reflect.ValueOf(extra))
	}
	return nil
}

// knownJSONKeys collects the json tag names of t's fields, recursing into
// embedded structs.
func knownJSONKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool)
	collectJSONKeys(t, keys)
	return keys
}

func collectJSONKeys(t reflect.Type, keys map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectJSONKeys(field.Type, keys)
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			keys[name] = true
		}
	}
}
