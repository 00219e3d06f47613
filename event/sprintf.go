package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sprintf expands every %{...} reference in format against f. References
// that cannot be resolved are left in place unchanged, as are all
// references when f is nil.
func Sprintf(format string, f Fields) string {
	if f == nil || !strings.Contains(format, "%{") {
		return format
	}

	var b strings.Builder
	rest := format
	for {
		start := strings.Index(rest, "%{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		ref := rest[start+2 : end]
		if s, ok := resolve(ref, f); ok {
			b.WriteString(s)
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

func resolve(ref string, f Fields) (string, bool) {
	if strings.HasPrefix(ref, "+") {
		ts, ok := Timestamp(f)
		if !ok {
			return "", false
		}
		layout := ref[1:]
		if layout == "%s" {
			return strconv.FormatInt(ts.Unix(), 10), true
		}
		return FormatTime(ts, layout), true
	}

	path, ok := ParsePath(ref)
	if !ok {
		return "", false
	}
	v, ok := f.Field(path...)
	if !ok || v == nil {
		return "", false
	}
	return formatValue(v), true
}

// ParsePath splits a field reference into its path. "name" is a top level
// field and "[a][b]" descends into a.
func ParsePath(ref string) ([]string, bool) {
	if ref == "" {
		return nil, false
	}
	if !strings.HasPrefix(ref, "[") {
		if strings.ContainsAny(ref, "[]") {
			return nil, false
		}
		return []string{ref}, true
	}

	var path []string
	for ref != "" {
		if ref[0] != '[' {
			return nil, false
		}
		end := strings.IndexByte(ref, ']')
		if end <= 1 {
			return nil, false
		}
		path = append(path, ref[1:end])
		ref = ref[end+1:]
	}
	return path, true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.000Z")
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ",")
	case map[string]any, Record:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

// FormatTime renders t in UTC using a Joda style pattern: y/Y year, M month,
// d day, H hour, m minute, s second and S fraction of second. Text between
// single quotes and any other character is copied as is.
func FormatTime(t time.Time, pattern string) string {
	t = t.UTC()

	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]

		if c == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			if end < 0 {
				b.WriteString(pattern[i+1:])
				break
			}
			b.WriteString(pattern[i+1 : i+1+end])
			i += end + 2
			continue
		}

		n := 1
		for i+n < len(pattern) && pattern[i+n] == c {
			n++
		}

		switch c {
		case 'y', 'Y':
			if n == 2 {
				fmt.Fprintf(&b, "%02d", t.Year()%100)
			} else {
				fmt.Fprintf(&b, "%0*d", n, t.Year())
			}
		case 'M':
			switch {
			case n >= 4:
				b.WriteString(t.Month().String())
			case n == 3:
				b.WriteString(t.Month().String()[:3])
			default:
				fmt.Fprintf(&b, "%0*d", n, int(t.Month()))
			}
		case 'd':
			fmt.Fprintf(&b, "%0*d", n, t.Day())
		case 'H':
			fmt.Fprintf(&b, "%0*d", n, t.Hour())
		case 'm':
			fmt.Fprintf(&b, "%0*d", n, t.Minute())
		case 's':
			fmt.Fprintf(&b, "%0*d", n, t.Second())
		case 'S':
			frac := fmt.Sprintf("%09d", t.Nanosecond())
			if n > 9 {
				frac += strings.Repeat("0", n-9)
			}
			b.WriteString(frac[:n])
		default:
			b.WriteString(pattern[i : i+n])
		}
		i += n
	}
	return b.String()
}
