package conditions

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedValueRef is returned when a stored or submitted value_id is
// neither an ID nor a list of IDs.
var ErrMalformedValueRef = errors.New("malformed value_id")

// ValueKind is the form a ValueRef holds.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindSingle
	KindList
)

// ValueRef is the value_id of a condition: absent, a single option value ID,
// or a list of option value IDs.
type ValueRef struct {
	kind ValueKind
	ids  []int64
}

// SingleValue returns a ValueRef holding one option value ID.
func SingleValue(id int64) ValueRef {
	return ValueRef{kind: KindSingle, ids: []int64{id}}
}

// ValueList returns a ValueRef holding a list of option value IDs.
func ValueList(ids ...int64) ValueRef {
	list := make([]int64, len(ids))
	copy(list, ids)
	return ValueRef{kind: KindList, ids: list}
}

// Kind reports which form v holds.
func (v ValueRef) Kind() ValueKind { return v.kind }

// IsZero reports whether v holds no ID.
func (v ValueRef) IsZero() bool { return v.kind == KindNone }

// IsList reports whether v holds a list, possibly empty.
func (v ValueRef) IsList() bool { return v.kind == KindList }

// ID returns the single ID. ok is false unless the kind is KindSingle.
func (v ValueRef) ID() (int64, bool) {
	if v.kind != KindSingle {
		return 0, false
	}
	return v.ids[0], true
}

// IDs returns every ID held, in order. A single value yields one element.
func (v ValueRef) IDs() []int64 {
	out := make([]int64, len(v.ids))
	copy(out, v.ids)
	return out
}

// Contains reports whether id is one of the held IDs.
func (v ValueRef) Contains(id int64) bool {
	for _, x := range v.ids {
		if x == id {
			return true
		}
	}
	return false
}

func (v ValueRef) String() string {
	switch v.kind {
	case KindSingle:
		return strconv.FormatInt(v.ids[0], 10)
	case KindList:
		parts := make([]string, len(v.ids))
		for i, id := range v.ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "null"
	}
}

func (v ValueRef) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindSingle:
		return json.Marshal(v.ids[0])
	case KindList:
		return json.Marshal(v.ids)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, an integer, or an array of integers. Integers
// encoded as JSON strings ("12") are accepted as well.
func (v *ValueRef) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedValueRef, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after %s", ErrMalformedValueRef, data[:dec.InputOffset()])
	}

	switch val := raw.(type) {
	case nil:
		*v = ValueRef{}
		return nil
	case []any:
		ids := make([]int64, 0, len(val))
		for _, item := range val {
			id, err := parseID(item)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		*v = ValueRef{kind: KindList, ids: ids}
		return nil
	default:
		id, err := parseID(val)
		if err != nil {
			return err
		}
		*v = SingleValue(id)
		return nil
	}
}

func parseID(raw any) (int64, error) {
	var s string
	switch val := raw.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = strings.TrimSpace(val)
	default:
		return 0, fmt.Errorf("%w: unexpected %T", ErrMalformedValueRef, raw)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedValueRef, s)
	}
	return id, nil
}

// Scan implements sql.Scanner. The column holds the JSON encoding.
func (v *ValueRef) Scan(src any) error {
	switch val := src.(type) {
	case nil:
		*v = ValueRef{}
		return nil
	case []byte:
		return v.scanText(string(val))
	case string:
		return v.scanText(val)
	case int64:
		*v = SingleValue(val)
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrMalformedValueRef, src)
	}
}

func (v *ValueRef) scanText(s string) error {
	if strings.TrimSpace(s) == "" {
		*v = ValueRef{}
		return nil
	}
	return v.UnmarshalJSON([]byte(s))
}

// Value implements driver.Valuer.
func (v ValueRef) Value() (driver.Value, error) {
	if v.kind == KindNone {
		return nil, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
