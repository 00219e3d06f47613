package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordField(t *testing.T) {
	r := Record{
		"a":    map[string]any{"b": Record{"c": "deep"}},
		"list": []any{"zero", map[string]any{"x": 1}},
	}

	v, ok := r.Field("a", "b", "c")
	require.True(t, ok)
	assert.Equal(t, "deep", v)

	v, ok = r.Field("list", "1", "x")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Field("list", "9")
	assert.False(t, ok)
	_, ok = r.Field("a", "missing")
	assert.False(t, ok)
	_, ok = r.Field()
	assert.False(t, ok)
}

func TestTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 7, 9, 5, 2, 0, time.UTC)

	for name, f := range map[string]Fields{
		"time":      Record{TimestampField: want},
		"string":    Record{TimestampField: "2024-03-07T09:05:02Z"},
		"epoch":     Record{TimestampField: int64(1709802302)},
		"number":    Record{TimestampField: json.Number("1709802302")},
		"raw epoch": Raw(`{"@timestamp":1709802302}`),
		"raw":       Raw(`{"@timestamp":"2024-03-07T09:05:02Z"}`),
	} {
		t.Run(name, func(t *testing.T) {
			ts, ok := Timestamp(f)
			require.True(t, ok)
			assert.True(t, want.Equal(ts))
		})
	}

	_, ok := Timestamp(Record{TimestampField: "yesterday"})
	assert.False(t, ok)
}

func TestDecodeRecord(t *testing.T) {
	t.Run("keeps large integers exact", func(t *testing.T) {
		r, err := DecodeRecord([]byte(`{"id":12345678901234567890,"n":9007199254740993,"nested":{"v":[1.5]}}`))
		require.NoError(t, err)

		assert.Equal(t, json.Number("12345678901234567890"), r["id"])
		v, ok := r.Field("nested", "v", "0")
		require.True(t, ok)
		assert.Equal(t, json.Number("1.5"), v)

		body, err := JSONCodec{}.Encode(r)
		require.NoError(t, err)
		assert.Equal(t, `{"id":12345678901234567890,"n":9007199254740993,"nested":{"v":[1.5]}}`, string(body))
		assert.Equal(t, "9007199254740993", Sprintf("%{n}", r))
	})

	for name, input := range map[string]string{
		"null":          `null`,
		"array":         `[1,2]`,
		"malformed":     `{"a":`,
		"trailing data": `{"a":1} {"b":2}`,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestRawLargeNumbers(t *testing.T) {
	raw := Raw(`{"id":12345678901234567890,"obj":{"n":9007199254740993}}`)

	v, ok := raw.Field("id")
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567890"), v)
	assert.Equal(t, `{"n":9007199254740993}`, Sprintf("%{obj}", raw))
}
