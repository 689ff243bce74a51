package store

import (
	"strconv"
	"time"
)

// Doc is a flat document: field path -> value. Nested fields use "/"
// separators ("ui_session/ready_to_scan"), matching the store's merge
// granularity: concurrent writers touching disjoint fields never conflict,
// same-field writes resolve last-writer-wins.
type Doc map[string]string

func (d Doc) String(field string) string {
	return d[field]
}

// StringPtr treats an absent or empty field as "no value".
func (d Doc) StringPtr(field string) *string {
	v, ok := d[field]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func (d Doc) Bool(field string) bool {
	return d[field] == "true"
}

func (d Doc) Float(field string) float64 {
	f, err := strconv.ParseFloat(d[field], 64)
	if err != nil {
		return 0
	}
	return f
}

func (d Doc) Int(field string) int {
	n, err := strconv.Atoi(d[field])
	if err != nil {
		return 0
	}
	return n
}

func (d Doc) Time(field string) time.Time {
	t, err := time.Parse(time.RFC3339, d[field])
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Doc) SetString(field, v string) Doc {
	d[field] = v
	return d
}

func (d Doc) SetStringPtr(field string, v *string) Doc {
	if v == nil {
		d[field] = ""
		return d
	}
	d[field] = *v
	return d
}

func (d Doc) SetBool(field string, v bool) Doc {
	d[field] = strconv.FormatBool(v)
	return d
}

func (d Doc) SetFloat(field string, v float64) Doc {
	d[field] = strconv.FormatFloat(v, 'f', -1, 64)
	return d
}

func (d Doc) SetInt(field string, v int) Doc {
	d[field] = strconv.Itoa(v)
	return d
}

func (d Doc) SetTime(field string, v time.Time) Doc {
	d[field] = v.UTC().Format(time.RFC3339)
	return d
}
