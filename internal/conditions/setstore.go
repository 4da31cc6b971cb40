package conditions

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"optcond-backend/internal/catalog"
	"optcond-backend/internal/store"
)

type setValueRow struct {
	ConditionSetID int64 `db:"condition_set_id"`
	OptionValueID  int64 `db:"option_value_id"`
}

// SetStore reads and writes condition sets together with their option value
// bindings.
type SetStore struct {
	store       *store.Store
	catalog     *catalog.Store
	conditions  *ConditionStore
	expressions *ExpressionCache
}

func NewSetStore(s *store.Store, cat *catalog.Store, conditions *ConditionStore, expressions *ExpressionCache) *SetStore {
	return &SetStore{store: s, catalog: cat, conditions: conditions, expressions: expressions}
}

// Get returns the fully loaded condition set with the given id, or
// store.ErrNotFound.
func (ss *SetStore) Get(ctx context.Context, id int64) (*ConditionSet, error) {
	sets, err := ss.list(ctx, ss.store.DB, SetFilters{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, store.ErrNotFound
	}
	return sets[0], nil
}

// GetAll returns the condition sets matching f, once each and ordered by id.
// Every set carries its option, option group, option values and conditions.
func (ss *SetStore) GetAll(ctx context.Context, f SetFilters) ([]*ConditionSet, error) {
	return ss.list(ctx, ss.store.DB, f)
}

func (ss *SetStore) list(ctx context.Context, q store.Querier, f SetFilters) ([]*ConditionSet, error) {
	var where []string
	var args []any
	from := TableConditionSets + " s"

	if f.PackageID != nil {
		from += " JOIN package_option po ON po.option_group_id = s.option_group_id"
		where = append(where, "po.package_id = ?")
		args = append(args, *f.PackageID)
	}
	if f.ID != nil {
		where = append(where, "s.id = ?")
		args = append(args, *f.ID)
	}
	if f.OptionGroupID != nil {
		where = append(where, "s.option_group_id = ?")
		args = append(args, *f.OptionGroupID)
	}
	if f.OptionID != nil {
		where = append(where, "s.option_id = ?")
		args = append(args, *f.OptionID)
	}
	if f.OptionIDs != nil {
		if len(f.OptionIDs) == 0 {
			return []*ConditionSet{}, nil
		}
		where = append(where, "s.option_id IN (?)")
		args = append(args, f.OptionIDs)
	}

	query := "SELECT DISTINCT s.id, s.option_group_id, s.option_id, s.expression FROM " + from
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.id"

	var sets []*ConditionSet
	if err := store.Select(ctx, q, &sets, query, args...); err != nil {
		return nil, fmt.Errorf("load condition sets: %w", err)
	}
	if len(sets) == 0 {
		return []*ConditionSet{}, nil
	}
	if err := ss.enrich(ctx, q, sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// enrich attaches value IDs, option values, options, option groups and
// conditions to sets.
func (ss *SetStore) enrich(ctx context.Context, q store.Querier, sets []*ConditionSet) error {
	setIDs := make([]int64, len(sets))
	var optionIDs, groupIDs []int64
	for i, s := range sets {
		setIDs[i] = s.ID
		groupIDs = append(groupIDs, s.OptionGroupID)
		if s.OptionID != nil {
			optionIDs = append(optionIDs, *s.OptionID)
		}
	}

	var rows []setValueRow
	if err := store.Select(ctx, q, &rows,
		"SELECT condition_set_id, option_value_id FROM "+TableConditionValues+
			" WHERE condition_set_id IN (?) ORDER BY condition_set_id, position", setIDs); err != nil {
		return fmt.Errorf("load condition set values: %w", err)
	}
	valueIDs := make(map[int64][]int64, len(sets))
	allValueIDs := make([]int64, 0, len(rows))
	for _, r := range rows {
		valueIDs[r.ConditionSetID] = append(valueIDs[r.ConditionSetID], r.OptionValueID)
		allValueIDs = append(allValueIDs, r.OptionValueID)
	}

	values, err := ss.catalog.OptionValuesByIDs(ctx, q, dedupe(allValueIDs))
	if err != nil {
		return err
	}
	options, err := ss.catalog.OptionsByIDs(ctx, q, dedupe(optionIDs))
	if err != nil {
		return err
	}
	groups, err := ss.catalog.OptionGroupsByIDs(ctx, q, dedupe(groupIDs))
	if err != nil {
		return err
	}
	conds, err := ss.conditions.list(ctx, q, ConditionFilters{ConditionSetIDs: setIDs})
	if err != nil {
		return err
	}
	bySet := make(map[int64][]*Condition, len(sets))
	for _, c := range conds {
		bySet[c.ConditionSetID] = append(bySet[c.ConditionSetID], c)
	}

	for _, s := range sets {
		s.OptionValueIDs = valueIDs[s.ID]
		if s.OptionValueIDs == nil {
			s.OptionValueIDs = []int64{}
		}
		if len(s.OptionValueIDs) > 0 {
			first := s.OptionValueIDs[0]
			s.OptionValueID = &first
		}

		s.OptionValues = make([]*catalog.OptionValue, 0, len(s.OptionValueIDs))
		for _, id := range s.OptionValueIDs {
			if v, ok := values[id]; ok {
				s.OptionValues = append(s.OptionValues, v)
			}
		}
		if s.OptionID != nil {
			s.Option = options[*s.OptionID]
		}
		s.OptionGroup = groups[s.OptionGroupID]

		s.Conditions = bySet[s.ID]
		if s.Conditions == nil {
			s.Conditions = []*Condition{}
		}
	}
	return nil
}

// Add validates in and inserts a condition set with its option value
// bindings, returning the new id. Everything is written in one transaction.
func (ss *SetStore) Add(ctx context.Context, in SetInput) (int64, error) {
	var id int64
	err := ss.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		v := NewValidator().Shape(in)
		if in.OptionGroupID == nil {
			v.Fail("option_group_id", "required", "The option group is required.")
		}
		ss.rules(tx, v, 0, in)
		if err := v.Validate(ctx); err != nil {
			return err
		}

		var err error
		id, err = store.Insert(ctx, tx,
			"INSERT INTO "+TableConditionSets+" (option_group_id, option_id, expression) VALUES (?, ?, ?) RETURNING id",
			*in.OptionGroupID, in.OptionID, blankToNil(in.Expression))
		if err != nil {
			return err
		}
		ids, _ := in.valueIDs()
		return ss.insertValues(ctx, tx, id, ids)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Edit applies the supplied fields of in to the set. Supplied option value IDs
// replace the existing bindings entirely.
func (ss *SetStore) Edit(ctx context.Context, id int64, in SetInput) error {
	return ss.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		found, err := store.Exists(ctx, tx, TableConditionSets, id)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrNotFound
		}

		v := NewValidator().Shape(in)
		ss.rules(tx, v, id, in)
		if err := v.Validate(ctx); err != nil {
			return err
		}

		var sets []string
		var args []any
		if in.OptionGroupID != nil {
			sets = append(sets, "option_group_id = ?")
			args = append(args, *in.OptionGroupID)
		}
		if in.OptionID != nil {
			sets = append(sets, "option_id = ?")
			args = append(args, *in.OptionID)
		}
		if in.Expression != nil {
			sets = append(sets, "expression = ?")
			args = append(args, blankToNil(in.Expression))
		}
		sets = append(sets, "updated_at = "+ss.store.Dialect.NowExpr())
		args = append(args, id)
		if _, err := store.Exec(ctx, tx,
			"UPDATE "+TableConditionSets+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return err
		}

		ids, ok := in.valueIDs()
		if !ok {
			return nil
		}
		if _, err := store.Exec(ctx, tx,
			"DELETE FROM "+TableConditionValues+" WHERE condition_set_id = ?", id); err != nil {
			return err
		}
		return ss.insertValues(ctx, tx, id, ids)
	})
}

// Delete removes the set together with its option value bindings and its
// conditions. It returns store.ErrNotFound when the set does not exist.
func (ss *SetStore) Delete(ctx context.Context, id int64) error {
	return ss.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := store.Exec(ctx, tx,
			"DELETE FROM "+TableConditionValues+" WHERE condition_set_id = ?", id); err != nil {
			return fmt.Errorf("delete condition set values: %w", err)
		}
		if _, err := store.Exec(ctx, tx,
			"DELETE FROM "+TableConditions+" WHERE condition_set_id = ?", id); err != nil {
			return fmt.Errorf("delete conditions: %w", err)
		}
		n, err := store.Exec(ctx, tx, "DELETE FROM "+TableConditionSets+" WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete condition set: %w", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (ss *SetStore) insertValues(ctx context.Context, q store.Querier, setID int64, ids []int64) error {
	for pos, valueID := range ids {
		if _, err := store.Exec(ctx, q,
			"INSERT INTO "+TableConditionValues+" (condition_set_id, option_value_id, position) VALUES (?, ?, ?)",
			setID, valueID, pos); err != nil {
			return fmt.Errorf("insert condition set value: %w", store.MapError(ss.store.Dialect, err))
		}
	}
	return nil
}

// rules registers the existence and expression rules for the supplied fields.
// setID is 0 for a set that does not exist yet.
func (ss *SetStore) rules(q store.Querier, v *Validator, setID int64, in SetInput) {
	if in.OptionGroupID != nil {
		id := *in.OptionGroupID
		v.Rule("option_group_id", "exists", "The option group does not exist.", func(ctx context.Context) (bool, error) {
			return ss.catalog.Exists(ctx, q, catalog.TableOptionGroups, id)
		})
	}
	if in.OptionID != nil {
		id := *in.OptionID
		v.Rule("option_id", "exists", "The option does not exist.", func(ctx context.Context) (bool, error) {
			return ss.catalog.Exists(ctx, q, catalog.TableOptions, id)
		})
	}
	if ids, ok := in.valueIDs(); ok && len(ids) > 0 {
		field := "option_value_ids"
		if in.OptionValueIDs == nil {
			field = "option_value_id"
		}
		v.Rule(field, "exists", "One or more option values do not exist.", func(ctx context.Context) (bool, error) {
			return ss.catalog.AllExist(ctx, q, catalog.TableOptionValues, ids)
		})
	}
	if expr := blankToNil(in.Expression); expr != nil {
		v.Rule("expression", "syntax", "The expression may only combine condition names (c<ID>) with !, && and ||.", func(context.Context) (bool, error) {
			_, err := ss.expressions.Compile(*expr)
			return err == nil, nil
		})
		v.Rule("expression", "condition", "The expression names a condition that does not belong to this set.", func(ctx context.Context) (bool, error) {
			compiled, err := ss.expressions.Compile(*expr)
			if err != nil {
				return false, err
			}
			return ss.namesBelongTo(ctx, q, setID, compiled.Names)
		})
	}
}

// namesBelongTo reports whether every name is c<ID> of a condition of the set.
func (ss *SetStore) namesBelongTo(ctx context.Context, q store.Querier, setID int64, names []string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}
	if setID == 0 {
		return false, nil
	}
	var ids []int64
	if err := store.Select(ctx, q, &ids,
		"SELECT id FROM "+TableConditions+" WHERE condition_set_id = ?", setID); err != nil {
		return false, fmt.Errorf("load set conditions: %w", err)
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[conditionVar(id)] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// blankToNil maps an absent or blank expression to NULL.
func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
