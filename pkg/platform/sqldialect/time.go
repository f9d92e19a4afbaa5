package sqldialect

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// textTimeLayouts are the layouts SQLite drivers use when a timestamp comes
// back as text, e.g. from a RETURNING clause without a declared column type.
var textTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Time scans a timestamp column into UTC regardless of how the driver
// represents it. Valid is false for SQL NULL.
type Time struct {
	Time  time.Time
	Valid bool
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time, t.Valid = time.Unix(v, 0).UTC(), true
		return nil
	}
	return fmt.Errorf("sqldialect: cannot scan %T into Time", src)
}

func (t *Time) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("sqldialect: unrecognised timestamp %q", s)
}

// Value lets Time be used as a query argument; NULL when not valid.
func (t Time) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC(), nil
}

// Ptr returns nil for NULL.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// NullTime converts an optional time into a query argument.
func NullTime(t *time.Time) Time {
	if t == nil {
		return Time{}
	}
	return Time{Time: t.UTC(), Valid: true}
}
