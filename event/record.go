package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

// TimestampField is the field consulted by %{+FORMAT} references
const TimestampField = "@timestamp"

// Fields is anything routing key references can be resolved against
type Fields interface {
	// Field returns the value at path. Each element descends one level.
	Field(path ...string) (any, bool)
}

// Record is a decoded event
type Record map[string]any

// DecodeRecord decodes one JSON object. Numbers are kept as json.Number so
// integers of any size survive re-encoding unchanged.
func DecodeRecord(data []byte) (Record, error) {
	var record Record
	if err := decodeJSON(data, &record); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.New("expected a JSON object")
	}
	return record, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// Field implements Fields
func (r Record) Field(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}

	var cur any = map[string]any(r)
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case Record:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Raw is an undecoded JSON object. Lookups read straight from the bytes so the
// body can be published exactly as received.
type Raw []byte

// Field implements Fields
func (r Raw) Field(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}

	keys := make([]string, len(path))
	for i, p := range path {
		if _, err := strconv.Atoi(p); err == nil {
			// jsonparser addresses array elements as "[i]"
			keys[i] = "[" + p + "]"
			continue
		}
		keys[i] = p
	}

	value, kind, _, err := jsonparser.Get(r, keys...)
	if err != nil {
		return nil, false
	}

	switch kind {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, false
		}
		return s, true
	case jsonparser.Number:
		return json.Number(value), true
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, false
		}
		return b, true
	case jsonparser.Null:
		return nil, true
	default:
		var v any
		if err := decodeJSON(value, &v); err != nil {
			return nil, false
		}
		return v, true
	}
}

// Timestamp returns the record's @timestamp. Strings are parsed as RFC 3339.
func Timestamp(f Fields) (time.Time, bool) {
	v, ok := f.Field(TimestampField)
	if !ok {
		return time.Time{}, false
	}
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case int64:
		return time.Unix(ts, 0).UTC(), true
	case float64:
		return epoch(ts), true
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
		f, err := ts.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(f), true
	}
	return time.Time{}, false
}

func epoch(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
}
