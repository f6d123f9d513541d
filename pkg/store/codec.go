package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TimeLayout is the timestamp format SQLite's datetime('now') produces.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t for storage in a SQLite text column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a SQLite timestamp, falling back to RFC3339 for rows
// written by callers that stored Go-formatted times.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// NullableTime converts a scanned nullable text column into a *time.Time.
func NullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// IDsToJSON converts an id slice to a JSON array string for storage.
func IDsToJSON(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// IDsFromJSON parses a JSON array string into an id slice.
func IDsFromJSON(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// StringsToJSON converts a string slice to a JSON array string for storage.
func StringsToJSON(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// StringsFromJSON parses a JSON array string into a string slice.
func StringsFromJSON(s string) []string {
	if s == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}
