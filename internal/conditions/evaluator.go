package conditions

import (
	"context"
	"strconv"
	"strings"

	"optcond-backend/internal/instrument"
)

// Selection is a customer's current choice for one option: the chosen option
// value for select-like options, or the entered value for quantity and text.
type Selection struct {
	ValueID int64  `json:"value_id,omitempty"`
	Value   string `json:"value,omitempty"`
}

// Selections holds the current choices keyed by option ID.
type Selections map[int64]Selection

// For returns the selection for optionID. Options without a selection yield
// the zero Selection.
func (s Selections) For(optionID int64) Selection {
	return s[optionID]
}

// Holds reports whether c is satisfied by sel.
func Holds(c *Condition, sel Selection) bool {
	switch c.Operator {
	case OpEqual:
		return equals(c, sel)
	case OpNotEqual:
		return !equals(c, sel)
	case OpGreater:
		cmp, ok := compareNumeric(sel.Value, c.Value)
		return ok && cmp > 0
	case OpLess:
		cmp, ok := compareNumeric(sel.Value, c.Value)
		return ok && cmp < 0
	case OpIn:
		return c.ValueID.Contains(sel.ValueID)
	case OpNotIn:
		return !c.ValueID.Contains(sel.ValueID)
	default:
		return false
	}
}

func equals(c *Condition, sel Selection) bool {
	if c.Value != nil && sel.Value == *c.Value {
		return true
	}
	if id, ok := c.ValueID.ID(); ok && sel.ValueID == id {
		return true
	}
	return false
}

// compareNumeric compares selected against expected as numbers. ok is false
// when either side is missing or not a number.
func compareNumeric(selected string, expected *string) (int, bool) {
	if expected == nil {
		return 0, false
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(selected), 64)
	if err != nil {
		return 0, false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(*expected), 64)
	if err != nil {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

// SetResult is the outcome of evaluating one condition set.
type SetResult struct {
	SetID     int64  `json:"condition_set_id"`
	OptionID  *int64 `json:"option_id"`
	Triggered bool   `json:"triggered"`
	Error     string `json:"error,omitempty"`
}

// OptionAvailability describes which values of a conditioned option are
// currently offered.
type OptionAvailability struct {
	OptionID int64   `json:"option_id"`
	Visible  bool    `json:"visible"`
	ValueIDs []int64 `json:"value_ids"`
}

// Resolution is the result of resolving a group of condition sets.
type Resolution struct {
	Sets []SetResult `json:"sets"`
	// Options holds only options bound by at least one set; any other option
	// is unrestricted.
	Options map[int64]*OptionAvailability `json:"options"`
}

// Evaluator decides which condition sets are triggered by a selection.
type Evaluator struct {
	expressions *ExpressionCache
}

func NewEvaluator(expressions *ExpressionCache) *Evaluator {
	return &Evaluator{expressions: expressions}
}

// EvaluateSet reports whether set is triggered by sel. Without an expression
// every condition must hold; a set with no conditions is triggered.
func (e *Evaluator) EvaluateSet(set *ConditionSet, sel Selections) (bool, error) {
	if set.Expression == nil || strings.TrimSpace(*set.Expression) == "" {
		for _, c := range set.Conditions {
			if !Holds(c, sel.For(c.TriggerOptionID)) {
				return false, nil
			}
		}
		return true, nil
	}

	compiled, err := e.expressions.Compile(*set.Expression)
	if err != nil {
		return false, err
	}
	results := make(map[int64]bool, len(set.Conditions))
	for _, c := range set.Conditions {
		results[c.ID] = Holds(c, sel.For(c.TriggerOptionID))
	}
	return runExpression(compiled, results)
}

// Evaluate runs EvaluateSet for every set. A set whose expression fails to
// evaluate is reported as not triggered with the error attached.
func (e *Evaluator) Evaluate(ctx context.Context, sets []*ConditionSet, sel Selections) []SetResult {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "conditions", "conditions.evaluate")
	defer span.End()
	span.SetMetadata("sets", len(sets))

	results := make([]SetResult, 0, len(sets))
	failed := 0
	for _, set := range sets {
		triggered, err := e.EvaluateSet(set, sel)
		r := SetResult{SetID: set.ID, OptionID: set.OptionID, Triggered: triggered}
		if err != nil {
			r.Error = err.Error()
			failed++
		}
		results = append(results, r)
	}

	if failed > 0 {
		span.SetMetadata("failed", failed)
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	return results
}

// Resolve evaluates sets and folds the results into per-option availability.
// An option is visible when any of its sets is triggered, and offers the
// union of the triggered sets' option values in first-seen order.
func (e *Evaluator) Resolve(ctx context.Context, sets []*ConditionSet, sel Selections) *Resolution {
	results := e.Evaluate(ctx, sets, sel)
	res := &Resolution{
		Sets:    results,
		Options: make(map[int64]*OptionAvailability),
	}

	seen := make(map[int64]map[int64]struct{})
	for i, set := range sets {
		if set.OptionID == nil {
			continue
		}
		optionID := *set.OptionID
		avail, ok := res.Options[optionID]
		if !ok {
			avail = &OptionAvailability{OptionID: optionID, ValueIDs: []int64{}}
			res.Options[optionID] = avail
			seen[optionID] = make(map[int64]struct{})
		}
		if !results[i].Triggered {
			continue
		}
		avail.Visible = true
		for _, id := range set.OptionValueIDs {
			if _, dup := seen[optionID][id]; dup {
				continue
			}
			seen[optionID][id] = struct{}{}
			avail.ValueIDs = append(avail.ValueIDs, id)
		}
	}
	return res
}
