package conditions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optcond-backend/internal/store"
)

func TestConditionStore_AddAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID, OptionID: &f.extras.ID})

	id := f.addCondition(t, ConditionInput{
		ConditionSetID:  &setID,
		TriggerOptionID: &f.size.ID,
		Operator:        opPtr(OpIn),
		ValueID:         refPtr(ValueList(f.medium.ID, f.large.ID)),
	})

	c, err := f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, setID, c.ConditionSetID)
	assert.Equal(t, OpIn, c.Operator)
	assert.True(t, c.ValueID.IsList())
	assert.Equal(t, []int64{f.medium.ID, f.large.ID}, c.ValueID.IDs())
	assert.Nil(t, c.Value)
	require.NotNil(t, c.TriggerOption)
	assert.Equal(t, "size", c.TriggerOption.Name)

	_, err = f.conditions.Get(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConditionStore_AddSingleValueID(t *testing.T) {
	f := newFixture(t)
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	id := f.addCondition(t, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.size.ID,
		Operator: opPtr(OpNotEqual), ValueID: refPtr(SingleValue(f.small.ID)),
	})

	c, err := f.conditions.Get(context.Background(), id)
	require.NoError(t, err)
	got, ok := c.ValueID.ID()
	require.True(t, ok)
	assert.Equal(t, f.small.ID, got)
}

func TestConditionStore_InRejectsAnyUnknownValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})

	_, err := f.conditions.Add(ctx, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.size.ID,
		Operator: opPtr(OpIn), ValueID: refPtr(ValueList(f.small.ID, f.medium.ID, 9999)),
	})
	requireFieldError(t, err, "value_id", "exists")
	assert.Equal(t, 0, f.countRows(t, TableConditions, "1 = 1"))
}

func TestConditionStore_AddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	missing := int64(9999)

	_, err := f.conditions.Add(ctx, ConditionInput{})
	requireFieldError(t, err, "condition_set_id", "required")
	requireFieldError(t, err, "trigger_option_id", "required")
	requireFieldError(t, err, "operator", "required")

	base := func() ConditionInput {
		return ConditionInput{ConditionSetID: &setID, TriggerOptionID: &f.qty.ID}
	}

	in := base()
	in.ConditionSetID = &missing
	in.Operator = opPtr(OpGreater)
	in.Value = strPtr("1")
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "condition_set_id", "exists")

	in = base()
	in.TriggerOptionID = &missing
	in.Operator = opPtr(OpGreater)
	in.Value = strPtr("1")
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "trigger_option_id", "exists")

	in = base()
	in.Operator = opPtr("~")
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "operator", "oneof")

	in = base()
	in.Operator = opPtr(OpGreater)
	in.Value = strPtr("many")
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value", "numeric")

	in = base()
	in.Operator = opPtr(OpIn)
	in.ValueID = refPtr(SingleValue(f.small.ID))
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "list")

	in = base()
	in.Operator = opPtr(OpNotIn)
	in.ValueID = refPtr(ValueList())
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "list")

	in = base()
	in.Operator = opPtr(OpEqual)
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value", "required")

	in = base()
	in.Operator = opPtr(OpEqual)
	in.ValueID = refPtr(ValueList(f.small.ID))
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "single")

	in = base()
	in.Operator = opPtr(OpEqual)
	in.ValueID = refPtr(SingleValue(missing))
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "exists")

	in = base()
	in.Operator = opPtr(OpGreater)
	in.Value = strPtr("5")
	in.ValueID = refPtr(ValueList(9998, 9999))
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "single")

	in = base()
	in.Operator = opPtr(OpLess)
	in.Value = strPtr("5")
	in.ValueID = refPtr(SingleValue(missing))
	_, err = f.conditions.Add(ctx, in)
	requireFieldError(t, err, "value_id", "exists")

	assert.Equal(t, 0, f.countRows(t, TableConditions, "1 = 1"), "failed adds write nothing")
}

func TestConditionStore_EditSwitchesOperatorFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	add := func() int64 {
		return f.addCondition(t, ConditionInput{
			ConditionSetID: &setID, TriggerOptionID: &f.size.ID,
			Operator: opPtr(OpIn), ValueID: refPtr(ValueList(f.small.ID)),
		})
	}

	// The stored list does not fit a scalar operator unless it is cleared.
	id := add()
	err := f.conditions.Edit(ctx, id, ConditionInput{Operator: opPtr(OpGreater), Value: strPtr("5")})
	requireFieldError(t, err, "value_id", "single")
	c, err := f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpIn, c.Operator)

	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{
		Operator: opPtr(OpGreater), Value: strPtr("5"), ClearValueID: true,
	}))
	c, err = f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpGreater, c.Operator)
	assert.True(t, c.ValueID.IsZero())
	require.NotNil(t, c.Value)
	assert.Equal(t, "5", *c.Value)

	id = add()
	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{
		Operator: opPtr(OpEqual), Value: strPtr("x"), ClearValueID: true,
	}))
	c, err = f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpEqual, c.Operator)
	assert.True(t, c.ValueID.IsZero())

	// Clearing both leaves = with nothing to compare against.
	err = f.conditions.Edit(ctx, id, ConditionInput{ClearValue: true})
	requireFieldError(t, err, "value", "required")

	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{
		Operator: opPtr(OpIn), ValueID: refPtr(ValueList(f.medium.ID, f.large.ID)), ClearValue: true,
	}))
	c, err = f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, c.Value)
	assert.Equal(t, []int64{f.medium.ID, f.large.ID}, c.ValueID.IDs())
}

func TestConditionStore_EditPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	id := f.addCondition(t, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.qty.ID,
		Operator: opPtr(OpGreater), Value: strPtr("2"),
	})

	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{Value: strPtr("10")}))
	c, err := f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpGreater, c.Operator)
	require.NotNil(t, c.Value)
	assert.Equal(t, "10", *c.Value)

	// Switching to a list operator needs a list in the same edit.
	err = f.conditions.Edit(ctx, id, ConditionInput{Operator: opPtr(OpIn)})
	requireFieldError(t, err, "value_id", "list")

	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{
		TriggerOptionID: &f.size.ID,
		Operator:        opPtr(OpIn),
		ValueID:         refPtr(ValueList(f.small.ID)),
	}))
	c, err = f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OpIn, c.Operator)
	assert.Equal(t, f.size.ID, c.TriggerOptionID)
	assert.Equal(t, []int64{f.small.ID}, c.ValueID.IDs())

	err = f.conditions.Edit(ctx, id, ConditionInput{ValueID: refPtr(ValueList(f.small.ID, 9999))})
	requireFieldError(t, err, "value_id", "exists")

	err = f.conditions.Edit(ctx, 9999, ConditionInput{Value: strPtr("1")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConditionStore_EditSkipsExistenceOfUnchangedValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	id := f.addCondition(t, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.size.ID,
		Operator: opPtr(OpIn), ValueID: refPtr(ValueList(f.small.ID, f.medium.ID)),
	})

	// The stored value disappears from the catalog after the condition was written.
	_, err := store.Exec(ctx, f.store.DB, "DELETE FROM package_option_values WHERE id = ?", f.medium.ID)
	require.NoError(t, err)

	require.NoError(t, f.conditions.Edit(ctx, id, ConditionInput{Operator: opPtr(OpNotIn)}))
}

func TestConditionStore_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	id := f.addCondition(t, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.qty.ID,
		Operator: opPtr(OpLess), Value: strPtr("3"),
	})

	require.NoError(t, f.conditions.Delete(ctx, id))
	_, err := f.conditions.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, f.conditions.Delete(ctx, id), store.ErrNotFound)
}

func TestConditionStore_GetAllFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	b := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})

	c1 := f.addCondition(t, ConditionInput{ConditionSetID: &a, TriggerOptionID: &f.qty.ID, Operator: opPtr(OpGreater), Value: strPtr("1")})
	c2 := f.addCondition(t, ConditionInput{ConditionSetID: &b, TriggerOptionID: &f.size.ID, Operator: opPtr(OpEqual), Value: strPtr("large")})
	c3 := f.addCondition(t, ConditionInput{ConditionSetID: &b, TriggerOptionID: &f.qty.ID, Operator: opPtr(OpLess), Value: strPtr("9")})

	ids := func(list []*Condition) []int64 {
		out := make([]int64, len(list))
		for i, c := range list {
			out[i] = c.ID
		}
		return out
	}

	all, err := f.conditions.GetAll(ctx, ConditionFilters{})
	require.NoError(t, err)
	assert.Equal(t, []int64{c1, c2, c3}, ids(all))

	bySet, err := f.conditions.GetAll(ctx, ConditionFilters{ConditionSetID: &b})
	require.NoError(t, err)
	assert.Equal(t, []int64{c2, c3}, ids(bySet))

	bySets, err := f.conditions.GetAll(ctx, ConditionFilters{ConditionSetIDs: []int64{a, b}})
	require.NoError(t, err)
	assert.Equal(t, []int64{c1, c2, c3}, ids(bySets))

	byTrigger, err := f.conditions.GetAll(ctx, ConditionFilters{TriggerOptionID: &f.qty.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{c1, c3}, ids(byTrigger))

	byID, err := f.conditions.GetAll(ctx, ConditionFilters{ID: &c2})
	require.NoError(t, err)
	assert.Equal(t, []int64{c2}, ids(byID))
}

func TestConditionStore_MissingTriggerOptionIsNil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})
	id := f.addCondition(t, ConditionInput{
		ConditionSetID: &setID, TriggerOptionID: &f.qty.ID,
		Operator: opPtr(OpGreater), Value: strPtr("1"),
	})

	_, err := store.Exec(ctx, f.store.DB, "DELETE FROM package_options WHERE id = ?", f.qty.ID)
	require.NoError(t, err)

	c, err := f.conditions.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, c.TriggerOption)
}

func TestConditionStore_MalformedStoredValueIDFailsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setID := f.addSet(t, SetInput{OptionGroupID: &f.group.ID})

	id, err := store.Insert(ctx, f.store.DB,
		"INSERT INTO package_option_conditions (condition_set_id, trigger_option_id, operator, value_id) VALUES (?, ?, ?, ?) RETURNING id",
		setID, f.size.ID, "in", "[1, oops]")
	require.NoError(t, err)

	_, err = f.conditions.Get(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedValueRef)
	assert.Contains(t, err.Error(), "condition")

	_, err = f.sets.Get(ctx, setID)
	assert.ErrorIs(t, err, ErrMalformedValueRef, "set reads fail too")
}
