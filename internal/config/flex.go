package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexStringList is a list of IDs written either as strings or as bare
// numbers (`["123", 456]`). Numbers are kept digit for digit, so Telegram
// IDs beyond float64 precision survive.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return err
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				out = append(out, fmt.Sprint(n))
			} else if fl, err := v.Float64(); err == nil && fl == float64(int64(fl)) {
				out = append(out, fmt.Sprint(int64(fl)))
			} else {
				out = append(out, v.String())
			}
		default:
			return fmt.Errorf("list item %v: want a string or number", item)
		}
	}
	*f = out
	return nil
}
