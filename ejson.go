package rocketchat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Time is a timestamp that decodes both the realtime API's extended JSON
// form ({"$date": millis}) and the REST API's RFC 3339 strings. It encodes
// back to the extended JSON form.
type Time struct {
	time.Time
}

// timeLayout is the layout the REST API accepts for "oldest"/"latest" filters.
const timeLayout = "2006-01-02T15:04:05.000Z"

type ejsonDate struct {
	Date *int64 `json:"$date"`
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	switch data[0] {
	case '{':
		var d ejsonDate
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode $date: %w", err)
		}
		if d.Date == nil {
			return fmt.Errorf("decode $date: missing $date field")
		}
		t.Time = time.UnixMilli(*d.Date).UTC()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("decode time %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	default:
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("decode time: %w", err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	ms := t.UnixMilli()
	return json.Marshal(ejsonDate{Date: &ms})
}

// String formats the time the way the REST API expects it in query filters.
func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
