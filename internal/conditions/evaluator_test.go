package conditions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optcond-backend/internal/config"
)

func strPtr(s string) *string { return &s }
func idPtr(id int64) *int64   { return &id }

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	cache, err := NewExpressionCache(config.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return NewEvaluator(cache)
}

func TestHolds_InAndNotInAreComplements(t *testing.T) {
	in := &Condition{TriggerOptionID: 1, Operator: OpIn, ValueID: ValueList(10, 20)}
	notIn := &Condition{TriggerOptionID: 1, Operator: OpNotIn, ValueID: ValueList(10, 20)}

	for _, sel := range []Selection{{ValueID: 10}, {ValueID: 20}, {ValueID: 30}, {}} {
		want := sel.ValueID == 10 || sel.ValueID == 20
		assert.Equal(t, want, Holds(in, sel), "in %+v", sel)
		assert.Equal(t, !want, Holds(notIn, sel), "notin %+v", sel)
	}
}

func TestHolds_EqualOnValue(t *testing.T) {
	c := &Condition{Operator: OpEqual, Value: strPtr("5")}
	assert.True(t, Holds(c, Selection{Value: "5"}))
	assert.False(t, Holds(c, Selection{Value: "6"}))

	ne := &Condition{Operator: OpNotEqual, Value: strPtr("5")}
	assert.False(t, Holds(ne, Selection{Value: "5"}))
	assert.True(t, Holds(ne, Selection{Value: "6"}))
}

func TestHolds_EqualOnValueID(t *testing.T) {
	c := &Condition{Operator: OpEqual, ValueID: SingleValue(42)}
	assert.True(t, Holds(c, Selection{ValueID: 42}))
	assert.False(t, Holds(c, Selection{ValueID: 43}))
	assert.False(t, Holds(c, Selection{}))

	// Either side matching is enough.
	both := &Condition{Operator: OpEqual, Value: strPtr("x"), ValueID: SingleValue(42)}
	assert.True(t, Holds(both, Selection{Value: "x"}))
	assert.True(t, Holds(both, Selection{ValueID: 42}))
	assert.False(t, Holds(both, Selection{Value: "y", ValueID: 1}))
}

func TestHolds_Numeric(t *testing.T) {
	gt := &Condition{Operator: OpGreater, Value: strPtr("5")}
	lt := &Condition{Operator: OpLess, Value: strPtr("5")}

	assert.True(t, Holds(gt, Selection{Value: "6"}))
	assert.False(t, Holds(gt, Selection{Value: "5"}))
	assert.True(t, Holds(gt, Selection{Value: "10"}), "compared as numbers, not strings")
	assert.True(t, Holds(lt, Selection{Value: "4.5"}))
	assert.False(t, Holds(lt, Selection{Value: "5"}))

	assert.False(t, Holds(gt, Selection{Value: "abc"}))
	assert.False(t, Holds(lt, Selection{Value: "abc"}))
	assert.False(t, Holds(gt, Selection{}))
	assert.False(t, Holds(&Condition{Operator: OpGreater}, Selection{Value: "1"}))
}

func TestHolds_UnknownOperator(t *testing.T) {
	assert.False(t, Holds(&Condition{Operator: "~"}, Selection{Value: "1"}))
}

func TestEvaluateSet_AllConditionsMustHold(t *testing.T) {
	e := newTestEvaluator(t)
	set := &ConditionSet{ID: 1, Conditions: []*Condition{
		{ID: 1, TriggerOptionID: 1, Operator: OpIn, ValueID: ValueList(10, 20)},
		{ID: 2, TriggerOptionID: 2, Operator: OpGreater, Value: strPtr("2")},
	}}

	ok, err := e.EvaluateSet(set, Selections{1: {ValueID: 10}, 2: {Value: "3"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateSet(set, Selections{1: {ValueID: 10}, 2: {Value: "1"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvaluateSet(set, Selections{2: {Value: "3"}})
	require.NoError(t, err)
	assert.False(t, ok, "missing selection does not satisfy in")
}

func TestEvaluateSet_NoConditionsIsTriggered(t *testing.T) {
	e := newTestEvaluator(t)
	ok, err := e.EvaluateSet(&ConditionSet{ID: 1}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateSet_Expression(t *testing.T) {
	e := newTestEvaluator(t)
	set := &ConditionSet{ID: 1, Expression: strPtr("c1 || c2"), Conditions: []*Condition{
		{ID: 1, TriggerOptionID: 1, Operator: OpEqual, ValueID: SingleValue(10)},
		{ID: 2, TriggerOptionID: 2, Operator: OpEqual, Value: strPtr("yes")},
	}}

	ok, err := e.EvaluateSet(set, Selections{2: {Value: "yes"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateSet(set, Selections{1: {ValueID: 11}})
	require.NoError(t, err)
	assert.False(t, ok)

	neg := &ConditionSet{ID: 2, Expression: strPtr("!c1 && (c2 || c1)"), Conditions: set.Conditions}
	ok, err = e.EvaluateSet(neg, Selections{2: {Value: "yes"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateSet_BlankExpressionFallsBackToAnd(t *testing.T) {
	e := newTestEvaluator(t)
	set := &ConditionSet{ID: 1, Expression: strPtr("  "), Conditions: []*Condition{
		{ID: 1, TriggerOptionID: 1, Operator: OpEqual, Value: strPtr("a")},
		{ID: 2, TriggerOptionID: 1, Operator: OpNotEqual, Value: strPtr("b")},
	}}
	ok, err := e.EvaluateSet(set, Selections{1: {Value: "a"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateSet_ExpressionNamingMissingCondition(t *testing.T) {
	e := newTestEvaluator(t)
	conds := []*Condition{{ID: 1, TriggerOptionID: 1, Operator: OpEqual, Value: strPtr("a")}}

	for _, expression := range []string{"c3", "!c3", "c1 || c3"} {
		set := &ConditionSet{ID: 1, Expression: strPtr(expression), Conditions: conds}
		ok, err := e.EvaluateSet(set, Selections{1: {Value: "a"}})
		require.Error(t, err, expression)
		assert.Contains(t, err.Error(), "c3 is not a condition of the set")
		assert.False(t, ok, expression)
	}
}

func TestEvaluateSet_ConstantExpressionsAreRejected(t *testing.T) {
	e := newTestEvaluator(t)
	for _, expression := range []string{"true", "1 + 1 == 2", `len("abc") > 1`} {
		ok, err := e.EvaluateSet(&ConditionSet{ID: 1, Expression: strPtr(expression)}, nil)
		assert.ErrorIs(t, err, ErrInvalidExpression, expression)
		assert.False(t, ok, expression)
	}
}

func TestEvaluate_ReportsExpressionErrors(t *testing.T) {
	e := newTestEvaluator(t)
	sets := []*ConditionSet{
		{ID: 1, Expression: strPtr("c1 &&"), Conditions: []*Condition{{ID: 1, Operator: OpEqual, Value: strPtr("a")}}},
		{ID: 2, OptionID: idPtr(5)},
	}
	results := e.Evaluate(context.Background(), sets, nil)
	require.Len(t, results, 2)

	assert.False(t, results[0].Triggered)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Triggered)
	assert.Empty(t, results[1].Error)
	assert.Equal(t, idPtr(5), results[1].OptionID)
}

func TestResolve_UnionsTriggeredSetValues(t *testing.T) {
	e := newTestEvaluator(t)
	sizeIsLarge := &Condition{ID: 1, TriggerOptionID: 1, Operator: OpEqual, ValueID: SingleValue(100)}
	sizeIsSmall := &Condition{ID: 2, TriggerOptionID: 1, Operator: OpEqual, ValueID: SingleValue(101)}

	sets := []*ConditionSet{
		{ID: 1, OptionID: idPtr(2), OptionValueIDs: []int64{200, 201}, Conditions: []*Condition{sizeIsLarge}},
		{ID: 2, OptionID: idPtr(2), OptionValueIDs: []int64{201, 202}, Conditions: []*Condition{sizeIsLarge}},
		{ID: 3, OptionID: idPtr(2), OptionValueIDs: []int64{203}, Conditions: []*Condition{sizeIsSmall}},
		{ID: 4, OptionID: idPtr(3), OptionValueIDs: []int64{300}, Conditions: []*Condition{sizeIsSmall}},
		{ID: 5, OptionValueIDs: []int64{400}},
	}

	res := e.Resolve(context.Background(), sets, Selections{1: {ValueID: 100}})
	require.Len(t, res.Sets, 5)

	require.Contains(t, res.Options, int64(2))
	assert.True(t, res.Options[2].Visible)
	assert.Equal(t, []int64{200, 201, 202}, res.Options[2].ValueIDs)

	require.Contains(t, res.Options, int64(3))
	assert.False(t, res.Options[3].Visible)
	assert.Empty(t, res.Options[3].ValueIDs)

	assert.Len(t, res.Options, 2, "sets without an option do not restrict anything")
}

func TestExpressionCache_ReusesPrograms(t *testing.T) {
	cache, err := NewExpressionCache(config.CacheConfig{ExpressionCounters: 100, ExpressionMaxCost: 10})
	require.NoError(t, err)
	defer cache.Close()

	first, err := cache.Compile("c1 && (c2 || !c1)")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, first.Names)
	cache.Wait()
	second, err := cache.Compile("c1 && (c2 || !c1)")
	require.NoError(t, err)
	assert.Same(t, first, second)

	for _, bad := range []string{"c1 +", "c0", "c01 || c1", "c1 in [c2]", "foo"} {
		_, err = cache.Compile(bad)
		assert.ErrorIs(t, err, ErrInvalidExpression, bad)
	}
}
