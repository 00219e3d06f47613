package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSprintf(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 2, 123000000, time.UTC)
	record := Record{
		"foo":        "bar",
		"count":      42,
		"ratio":      0.5,
		"tags":       []any{"a", "b"},
		"nothing":    nil,
		"http":       map[string]any{"status": 503, "method": "GET"},
		"@timestamp": ts,
	}

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{"plain key", "logstash", "logstash"},
		{"field", "%{foo}", "bar"},
		{"embedded", "logs.%{foo}.in", "logs.bar.in"},
		{"number", "%{count}", "42"},
		{"float", "%{ratio}", "0.5"},
		{"array joins with comma", "%{tags}", "a,b"},
		{"nested", "%{[http][status]}", "503"},
		{"bracketed top level", "%{[foo]}", "bar"},
		{"object as json", "%{http}", `{"method":"GET","status":503}`},
		{"missing left verbatim", "%{missing}.x", "%{missing}.x"},
		{"nil left verbatim", "%{nothing}", "%{nothing}"},
		{"missing nested", "%{[http][path]}", "%{[http][path]}"},
		{"two references", "%{foo}-%{[http][method]}", "bar-GET"},
		{"unterminated", "%{foo", "%{foo"},
		{"time", "logs-%{+yyyy.MM.dd}", "logs-2024.03.07"},
		{"time of day", "%{+HH:mm:ss.SSS}", "09:05:02.123"},
		{"epoch", "%{+%s}", "1709802302"},
		{"malformed path", "%{[http}", "%{[http}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sprintf(tt.format, record))
		})
	}

	t.Run("time without timestamp stays verbatim", func(t *testing.T) {
		assert.Equal(t, "%{+yyyy}", Sprintf("%{+yyyy}", Record{"foo": "bar"}))
	})

	t.Run("nil fields leave references verbatim", func(t *testing.T) {
		assert.Equal(t, "logs.%{foo}", Sprintf("logs.%{foo}", nil))
		assert.Equal(t, "%{+yyyy}", Sprintf("%{+yyyy}", nil))
	})

	t.Run("json numbers render unchanged", func(t *testing.T) {
		assert.Equal(t, "12345678901234567890", Sprintf("%{id}", Record{"id": json.Number("12345678901234567890")}))
	})

	t.Run("timestamp as string", func(t *testing.T) {
		r := Record{"@timestamp": "2023-12-31T23:59:59Z"}
		assert.Equal(t, "2023.12.31", Sprintf("%{+YYYY.MM.dd}", r))
	})
}

func TestSprintfRaw(t *testing.T) {
	raw := Raw(`{"foo":"bar","n":7,"ok":true,"http":{"status":404},"tags":["x","y"],"nil":null,"@timestamp":"2024-03-07T09:05:02Z"}`)

	assert.Equal(t, "bar", Sprintf("%{foo}", raw))
	assert.Equal(t, "7", Sprintf("%{n}", raw))
	assert.Equal(t, "true", Sprintf("%{ok}", raw))
	assert.Equal(t, "404", Sprintf("%{[http][status]}", raw))
	assert.Equal(t, "x,y", Sprintf("%{tags}", raw))
	assert.Equal(t, "y", Sprintf("%{[tags][1]}", raw))
	assert.Equal(t, "%{nil}", Sprintf("%{nil}", raw))
	assert.Equal(t, "%{missing}", Sprintf("%{missing}", raw))
	assert.Equal(t, "2024.03.07", Sprintf("%{+yyyy.MM.dd}", raw))
}

func TestParsePath(t *testing.T) {
	path, ok := ParsePath("[a][b][c]")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, path)

	path, ok = ParsePath("host")
	assert.True(t, ok)
	assert.Equal(t, []string{"host"}, path)

	for _, bad := range []string{"", "[]", "[a]b", "a[b]", "[a"} {
		_, ok := ParsePath(bad)
		assert.False(t, ok, bad)
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "2024-01-02T02:04:05", FormatTime(ts, "yyyy-MM-dd'T'HH:mm:ss"))
	assert.Equal(t, "24/1/2", FormatTime(ts, "yy/M/d"))
	assert.Equal(t, "Jan January", FormatTime(ts, "MMM MMMM"))
}
