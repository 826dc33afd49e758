package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ID is a normalised identifier. Upstream services emit ids as JSON numbers or strings;
// both decode to the same canonical string.
type ID string

// NormalizeID trims the raw value and collapses integral numeric forms ("5", "5.0", "5e0") into one.
func NormalizeID(raw string) ID {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return ID(strconv.FormatInt(v, 10))
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return ID(strconv.FormatInt(int64(f), 10))
	}
	return ID(trimmed)
}

// IDFromUint formats a numeric identifier.
func IDFromUint(v uint64) ID {
	return ID(strconv.FormatUint(v, 10))
}

// IsZero reports whether the id is absent. Zero is treated as absent, matching how the portal
// encodes root comments.
func (id ID) IsZero() bool {
	return id == "" || id == "0"
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// IsNumeric reports whether the id is a plain integer.
func (id ID) IsNumeric() bool {
	_, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil
}

// UnmarshalJSON never fails: malformed ids decode to a value that simply never matches another id.
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "" || raw == "null":
		*id = ""
	case strings.HasPrefix(raw, `"`):
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			*id = ID(raw)
			return nil
		}
		*id = NormalizeID(unquoted)
	default:
		*id = NormalizeID(raw)
	}
	return nil
}

// MarshalJSON emits integers as JSON numbers so upstream Long fields accept them.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Timestamp accepts RFC3339, the portal's local "yyyy-MM-dd HH:mm:ss" form and epoch milliseconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any supported representation. Unknown formats yield the zero value.
func ParseTimestamp(raw string) Timestamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return fromEpoch(millis)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return Timestamp{Time: parsed}
		}
	}
	return Timestamp{}
}

func fromEpoch(value int64) Timestamp {
	if value <= 0 {
		return Timestamp{}
	}
	// seconds below year 2286, milliseconds above
	if value < 1e10 {
		return Timestamp{Time: time.Unix(value, 0)}
	}
	return Timestamp{Time: time.UnixMilli(value)}
}

// UnmarshalJSON tolerates unknown formats by decoding to the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*t = Timestamp{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			*t = Timestamp{}
			return nil
		}
		*t = ParseTimestamp(unquoted)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*t = fromEpoch(int64(f))
		return nil
	}
	*t = Timestamp{}
	return nil
}

// MarshalJSON emits RFC3339 or null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Time.Format(time.RFC3339Nano))), nil
}

// Ptr returns nil for the zero timestamp.
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	value := t.Time
	return &value
}

// Flag is a boolean that also accepts 0/1 and their string forms.
type Flag bool

// UnmarshalJSON decodes true/false, 0/1, "true"/"false" and "0"/"1".
func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "true", "1", "y", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// MarshalJSON emits a JSON boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}
