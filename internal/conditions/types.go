package conditions

import (
	"bytes"
	"encoding/json"

	"optcond-backend/internal/catalog"
)

// Operator compares a trigger option's selection with a condition's value.
type Operator string

const (
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpIn       Operator = "in"
	OpNotIn    Operator = "notin"
)

// Operators lists every supported operator.
var Operators = []Operator{OpGreater, OpLess, OpEqual, OpNotEqual, OpIn, OpNotIn}

// Valid reports whether o is one of Operators.
func (o Operator) Valid() bool {
	for _, op := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// IsList reports whether the operator takes a list of value IDs.
func (o Operator) IsList() bool {
	return o == OpIn || o == OpNotIn
}

// IsNumeric reports whether the operator compares numbers.
func (o Operator) IsNumeric() bool {
	return o == OpGreater || o == OpLess
}

// ConditionSet makes an option's values available when its conditions hold.
type ConditionSet struct {
	ID            int64   `db:"id" json:"id"`
	OptionGroupID int64   `db:"option_group_id" json:"option_group_id"`
	OptionID      *int64  `db:"option_id" json:"option_id"`
	Expression    *string `db:"expression" json:"expression,omitempty"`

	OptionValueIDs []int64 `db:"-" json:"option_value_ids"`
	// Deprecated: first element of OptionValueIDs.
	OptionValueID *int64 `db:"-" json:"option_value_id"`

	Option       *catalog.Option        `db:"-" json:"option"`
	OptionGroup  *catalog.OptionGroup   `db:"-" json:"option_group"`
	OptionValues []*catalog.OptionValue `db:"-" json:"option_values"`
	Conditions   []*Condition           `db:"-" json:"conditions"`
}

// Condition is one comparison clause within a condition set.
type Condition struct {
	ID              int64    `db:"id" json:"id"`
	ConditionSetID  int64    `db:"condition_set_id" json:"condition_set_id"`
	TriggerOptionID int64    `db:"trigger_option_id" json:"trigger_option_id"`
	Operator        Operator `db:"operator" json:"operator"`
	Value           *string  `db:"value" json:"value"`
	ValueID         ValueRef `db:"value_id" json:"value_id"`

	// TriggerOption is nil when the trigger option no longer exists.
	TriggerOption *catalog.Option `db:"-" json:"option"`
}

// SetFilters narrows SetStore.GetAll. Nil and empty fields are ignored.
type SetFilters struct {
	ID            *int64
	OptionGroupID *int64
	OptionID      *int64
	OptionIDs     []int64
	PackageID     *int64
}

// ConditionFilters narrows ConditionStore.GetAll. Nil and empty fields are ignored.
type ConditionFilters struct {
	ID              *int64
	ConditionSetID  *int64
	ConditionSetIDs []int64
	TriggerOptionID *int64
}

// SetInput carries the writable fields of a condition set. Nil fields are
// not supplied.
type SetInput struct {
	OptionGroupID  *int64  `json:"option_group_id" validate:"omitempty,gt=0"`
	OptionID       *int64  `json:"option_id" validate:"omitempty,gt=0"`
	OptionValueIDs []int64 `json:"option_value_ids" validate:"omitempty,dive,gt=0"`
	// Deprecated: use OptionValueIDs.
	OptionValueID *int64  `json:"option_value_id" validate:"omitempty,gt=0"`
	Expression    *string `json:"expression" validate:"omitempty,max=1024"`
}

// valueIDs returns the supplied option value IDs, falling back to the
// deprecated single field, with duplicates removed. ok is false when neither
// field was supplied.
func (in SetInput) valueIDs() (ids []int64, ok bool) {
	switch {
	case in.OptionValueIDs != nil:
		return dedupe(in.OptionValueIDs), true
	case in.OptionValueID != nil:
		return []int64{*in.OptionValueID}, true
	default:
		return nil, false
	}
}

// ConditionInput carries the writable fields of a condition. Nil fields are
// not supplied. ClearValue and ClearValueID record an explicit JSON null,
// which on edit resets the stored column.
type ConditionInput struct {
	ConditionSetID  *int64    `json:"condition_set_id" validate:"omitempty,gt=0"`
	TriggerOptionID *int64    `json:"trigger_option_id" validate:"omitempty,gt=0"`
	Operator        *Operator `json:"operator" validate:"omitempty,oneof=> < = != in notin"`
	Value           *string   `json:"value" validate:"omitempty,max=255"`
	ValueID         *ValueRef `json:"value_id"`

	ClearValue   bool `json:"-"`
	ClearValueID bool `json:"-"`
}

// UnmarshalJSON tells an explicit null apart from an absent field.
func (in *ConditionInput) UnmarshalJSON(data []byte) error {
	type fields ConditionInput
	var raw struct {
		fields
		Value   json.RawMessage `json:"value"`
		ValueID json.RawMessage `json:"value_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = ConditionInput(raw.fields)

	switch {
	case raw.Value == nil:
	case isJSONNull(raw.Value):
		in.ClearValue = true
	default:
		var value string
		if err := json.Unmarshal(raw.Value, &value); err != nil {
			return err
		}
		in.Value = &value
	}

	switch {
	case raw.ValueID == nil:
	case isJSONNull(raw.ValueID):
		in.ClearValueID = true
	default:
		var ref ValueRef
		if err := ref.UnmarshalJSON(raw.ValueID); err != nil {
			return err
		}
		in.ValueID = &ref
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
