package conditions

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"optcond-backend/internal/catalog"
	"optcond-backend/internal/store"
)

const (
	TableConditionSets   = "package_option_condition_sets"
	TableConditionValues = "package_option_condition_set_values"
	TableConditions      = "package_option_conditions"
)

// conditionRow is a stored condition before value_id is decoded.
type conditionRow struct {
	ID              int64    `db:"id"`
	ConditionSetID  int64    `db:"condition_set_id"`
	TriggerOptionID int64    `db:"trigger_option_id"`
	Operator        Operator `db:"operator"`
	Value           *string  `db:"value"`
	ValueID         *string  `db:"value_id"`
}

func (r *conditionRow) decode() (*Condition, error) {
	c := &Condition{
		ID:              r.ID,
		ConditionSetID:  r.ConditionSetID,
		TriggerOptionID: r.TriggerOptionID,
		Operator:        r.Operator,
		Value:           r.Value,
	}
	var raw any
	if r.ValueID != nil {
		raw = *r.ValueID
	}
	if err := c.ValueID.Scan(raw); err != nil {
		return nil, fmt.Errorf("condition %d: %w", r.ID, err)
	}
	return c, nil
}

// ConditionStore reads and writes the conditions of condition sets.
type ConditionStore struct {
	store   *store.Store
	catalog *catalog.Store
}

func NewConditionStore(s *store.Store, cat *catalog.Store) *ConditionStore {
	return &ConditionStore{store: s, catalog: cat}
}

// Get returns the condition with the given id, or store.ErrNotFound.
func (cs *ConditionStore) Get(ctx context.Context, id int64) (*Condition, error) {
	return cs.get(ctx, cs.store.DB, id)
}

func (cs *ConditionStore) get(ctx context.Context, q store.Querier, id int64) (*Condition, error) {
	list, err := cs.list(ctx, q, ConditionFilters{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return list[0], nil
}

// GetAll returns the conditions matching f ordered by id, each with its
// trigger option attached.
func (cs *ConditionStore) GetAll(ctx context.Context, f ConditionFilters) ([]*Condition, error) {
	return cs.list(ctx, cs.store.DB, f)
}

func (cs *ConditionStore) list(ctx context.Context, q store.Querier, f ConditionFilters) ([]*Condition, error) {
	var where []string
	var args []any
	if f.ID != nil {
		where = append(where, "id = ?")
		args = append(args, *f.ID)
	}
	if f.ConditionSetID != nil {
		where = append(where, "condition_set_id = ?")
		args = append(args, *f.ConditionSetID)
	}
	if f.ConditionSetIDs != nil {
		if len(f.ConditionSetIDs) == 0 {
			return []*Condition{}, nil
		}
		where = append(where, "condition_set_id IN (?)")
		args = append(args, f.ConditionSetIDs)
	}
	if f.TriggerOptionID != nil {
		where = append(where, "trigger_option_id = ?")
		args = append(args, *f.TriggerOptionID)
	}

	query := "SELECT id, condition_set_id, trigger_option_id, operator, value, value_id FROM " + TableConditions
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	var rows []*conditionRow
	if err := store.Select(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}

	result := make([]*Condition, 0, len(rows))
	optionIDs := make([]int64, 0, len(rows))
	for _, r := range rows {
		c, err := r.decode()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
		optionIDs = append(optionIDs, c.TriggerOptionID)
	}

	options, err := cs.catalog.OptionsByIDs(ctx, q, dedupe(optionIDs))
	if err != nil {
		return nil, err
	}
	for _, c := range result {
		c.TriggerOption = options[c.TriggerOptionID]
	}
	return result, nil
}

// Add validates in and inserts a condition, returning its id. Validation
// failures are returned as ValidationErrors.
func (cs *ConditionStore) Add(ctx context.Context, in ConditionInput) (int64, error) {
	var id int64
	err := cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		v := NewValidator().Shape(in)
		if in.ConditionSetID == nil {
			v.Fail("condition_set_id", "required", "The condition set is required.")
		}
		if in.TriggerOptionID == nil {
			v.Fail("trigger_option_id", "required", "The trigger option is required.")
		}
		if in.Operator == nil {
			v.Fail("operator", "required", "The operator is required.")
		}
		cs.existenceRules(tx, v, in)

		merged := Condition{}
		if in.Operator != nil {
			merged.Operator = *in.Operator
		}
		merged.Value = in.Value
		if in.ValueID != nil {
			merged.ValueID = *in.ValueID
		}
		valueRules(v, merged, cs.valuesExist(tx))

		if err := v.Validate(ctx); err != nil {
			return err
		}

		var err error
		id, err = store.Insert(ctx, tx,
			"INSERT INTO "+TableConditions+" (condition_set_id, trigger_option_id, operator, value, value_id) VALUES (?, ?, ?, ?, ?) RETURNING id",
			*in.ConditionSetID, *in.TriggerOptionID, string(merged.Operator), merged.Value, merged.ValueID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Edit applies the supplied fields of in to the condition. Existence rules run
// for supplied fields only; the operator and value rules run on the merged
// condition.
func (cs *ConditionStore) Edit(ctx context.Context, id int64, in ConditionInput) error {
	return cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := cs.getRaw(ctx, tx, id)
		if err != nil {
			return err
		}

		v := NewValidator().Shape(in)
		cs.existenceRules(tx, v, in)

		merged := *current
		if in.Operator != nil {
			merged.Operator = *in.Operator
		}
		switch {
		case in.ClearValue:
			merged.Value = nil
		case in.Value != nil:
			merged.Value = in.Value
		}
		switch {
		case in.ClearValueID:
			merged.ValueID = ValueRef{}
		case in.ValueID != nil:
			merged.ValueID = *in.ValueID
		}
		// Stored IDs are only re-checked when value_id itself changes.
		exists := cs.valuesExist(tx)
		if in.ValueID == nil {
			exists = nil
		}
		valueRules(v, merged, exists)

		if err := v.Validate(ctx); err != nil {
			return err
		}

		var sets []string
		var args []any
		if in.ConditionSetID != nil {
			sets = append(sets, "condition_set_id = ?")
			args = append(args, *in.ConditionSetID)
		}
		if in.TriggerOptionID != nil {
			sets = append(sets, "trigger_option_id = ?")
			args = append(args, *in.TriggerOptionID)
		}
		if in.Operator != nil {
			sets = append(sets, "operator = ?")
			args = append(args, string(*in.Operator))
		}
		if in.Value != nil || in.ClearValue {
			sets = append(sets, "value = ?")
			args = append(args, merged.Value)
		}
		if in.ValueID != nil || in.ClearValueID {
			sets = append(sets, "value_id = ?")
			args = append(args, merged.ValueID)
		}
		if len(sets) == 0 {
			return nil
		}
		sets = append(sets, "updated_at = "+cs.store.Dialect.NowExpr())
		args = append(args, id)

		_, err = store.Exec(ctx, tx,
			"UPDATE "+TableConditions+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		return err
	})
}

// Delete removes the condition, or returns store.ErrNotFound.
func (cs *ConditionStore) Delete(ctx context.Context, id int64) error {
	n, err := store.Exec(ctx, cs.store.DB, "DELETE FROM "+TableConditions+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// getRaw loads a condition without its trigger option.
func (cs *ConditionStore) getRaw(ctx context.Context, q store.Querier, id int64) (*Condition, error) {
	var row conditionRow
	err := store.Get(ctx, q, &row,
		"SELECT id, condition_set_id, trigger_option_id, operator, value, value_id FROM "+TableConditions+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	return row.decode()
}

func (cs *ConditionStore) existenceRules(q store.Querier, v *Validator, in ConditionInput) {
	if in.ConditionSetID != nil {
		id := *in.ConditionSetID
		v.Rule("condition_set_id", "exists", "The condition set does not exist.", func(ctx context.Context) (bool, error) {
			return cs.catalog.Exists(ctx, q, TableConditionSets, id)
		})
	}
	if in.TriggerOptionID != nil {
		id := *in.TriggerOptionID
		v.Rule("trigger_option_id", "exists", "The trigger option does not exist.", func(ctx context.Context) (bool, error) {
			return cs.catalog.Exists(ctx, q, catalog.TableOptions, id)
		})
	}
}

// valuesExist returns a check that every option value in ids exists.
func (cs *ConditionStore) valuesExist(q store.Querier) func(context.Context, []int64) (bool, error) {
	return func(ctx context.Context, ids []int64) (bool, error) {
		return cs.catalog.AllExist(ctx, q, catalog.TableOptionValues, ids)
	}
}

// valueRules checks that c's value and value_id fit its operator. When exists
// is set, every referenced option value must pass it; a list passes only when
// all of its IDs do.
func valueRules(v *Validator, c Condition, exists func(context.Context, []int64) (bool, error)) {
	if c.Operator == "" || !c.Operator.Valid() {
		return
	}

	var ids []int64
	switch {
	case c.Operator.IsList():
		if !c.ValueID.IsList() || len(c.ValueID.IDs()) == 0 {
			v.Fail("value_id", "list", fmt.Sprintf("The %s operator needs a non-empty list of option value IDs.", c.Operator))
			return
		}
		ids = c.ValueID.IDs()
	case c.Operator.IsNumeric():
		if c.Value == nil || !isNumeric(*c.Value) {
			v.Fail("value", "numeric", fmt.Sprintf("The %s operator needs a numeric value.", c.Operator))
		}
		if c.ValueID.IsList() {
			v.Fail("value_id", "single", fmt.Sprintf("The %s operator takes a single option value ID.", c.Operator))
			return
		}
		if id, ok := c.ValueID.ID(); ok {
			ids = []int64{id}
		}
	default:
		if c.ValueID.IsList() {
			v.Fail("value_id", "single", fmt.Sprintf("The %s operator takes a single option value ID.", c.Operator))
			return
		}
		if c.Value == nil && c.ValueID.IsZero() {
			v.Fail("value", "required", fmt.Sprintf("The %s operator needs a value or an option value ID.", c.Operator))
			return
		}
		if id, ok := c.ValueID.ID(); ok {
			ids = []int64{id}
		}
	}

	if exists == nil || len(ids) == 0 {
		return
	}
	v.Rule("value_id", "exists", "One or more option values do not exist.", func(ctx context.Context) (bool, error) {
		return exists(ctx, ids)
	})
}
