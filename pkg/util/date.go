package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// unix timestamps above this are taken as milliseconds
const millisCutoff = 1e11

// ParseTime accepts RFC3339 (with or without fraction), unix seconds and
// unix milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseFloat(s, 64); err == nil && ts > 0 {
		return FromUnix(ts), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// FromUnix converts unix seconds or milliseconds (fractions allowed) to UTC.
func FromUnix(ts float64) time.Time {
	if ts >= millisCutoff {
		return time.UnixMilli(int64(ts)).UTC()
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// FlexTime decodes a JSON timestamp given either as a string or a unix
// number. Null and zero decode to the zero time.
type FlexTime struct {
	time.Time
}

func (f *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		f.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			f.Time = time.Time{}
			return nil
		}
		t, ok := ParseTime(s)
		if !ok {
			return fmt.Errorf("invalid timestamp %q", s)
		}
		f.Time = t
		return nil
	}
	ts, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	if ts <= 0 {
		f.Time = time.Time{}
		return nil
	}
	f.Time = FromUnix(ts)
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time.UTC().Format(time.RFC3339Nano))
}

// OrNow returns t, or now when t is zero.
func (f FlexTime) OrNow(now time.Time) time.Time {
	if f.IsZero() {
		return now
	}
	return f.Time
}
