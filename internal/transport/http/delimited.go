package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// DelimitedList 列表字段，接受 JSON 数组或逗号分隔的字符串
//
//	"receipents_emails": ["a@a.pl", "b@b.pl"]
//	"receipents_emails": "a@a.pl,b@b.pl"
//	"receipents": [1, 2]
type DelimitedList []string

// UnmarshalJSON 实现 json.Unmarshaler
func (l *DelimitedList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = splitList(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return &json.UnmarshalTypeError{Value: "non-list", Type: reflect.TypeOf(*l)}
	}

	out := make(DelimitedList, 0, len(items))
	for _, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, strings.TrimSpace(s))
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return &json.UnmarshalTypeError{Value: "list element " + string(raw), Type: reflect.TypeOf(*l)}
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// IDs 把每一项解析为正整数ID
func (l DelimitedList) IDs() ([]uint, error) {
	if len(l) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(l))
	for _, item := range l {
		id, err := strconv.ParseUint(item, 10, 0)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%q is not a valid id", item)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func splitList(s string) DelimitedList {
	parts := strings.Split(s, ",")
	out := make(DelimitedList, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
