package conditions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"optcond-backend/internal/catalog"
	"optcond-backend/internal/config"
	"optcond-backend/internal/store"
	"optcond-backend/internal/testutil"
)

// fixture is a package with one option group holding a "size" select option
// (small, medium, large) and a "quantity" option, plus an "extras" option
// whose values are gated by condition sets.
type fixture struct {
	store      *store.Store
	catalog    *catalog.Store
	sets       *SetStore
	conditions *ConditionStore
	service    *Service

	pkg    *catalog.Package
	group  *catalog.OptionGroup
	size   *catalog.Option
	qty    *catalog.Option
	extras *catalog.Option

	small, medium, large *catalog.OptionValue
	gift, wrap, card     *catalog.OptionValue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := testutil.Store(t)

	cache, err := NewExpressionCache(config.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	cat := catalog.NewStore(s)
	conds := NewConditionStore(s, cat)
	sets := NewSetStore(s, cat, conds, cache)
	f := &fixture{
		store:      s,
		catalog:    cat,
		sets:       sets,
		conditions: conds,
		service:    NewService(sets, cat, NewEvaluator(cache)),
	}

	f.pkg, err = cat.CreatePackage(ctx, "Hosting")
	require.NoError(t, err)
	f.group, err = cat.CreateOptionGroup(ctx, "Hosting options", "")
	require.NoError(t, err)
	require.NoError(t, cat.AttachOptionGroup(ctx, f.pkg.ID, f.group.ID))

	f.size, err = cat.CreateOption(ctx, "Size", "size", "select", []int64{f.group.ID})
	require.NoError(t, err)
	f.qty, err = cat.CreateOption(ctx, "Quantity", "qty", "quantity", []int64{f.group.ID})
	require.NoError(t, err)
	f.extras, err = cat.CreateOption(ctx, "Extras", "extras", "checkbox", []int64{f.group.ID})
	require.NoError(t, err)

	value := func(o *catalog.Option, name string) *catalog.OptionValue {
		v, err := cat.CreateOptionValue(ctx, o.ID, name, name)
		require.NoError(t, err)
		return v
	}
	f.small = value(f.size, "small")
	f.medium = value(f.size, "medium")
	f.large = value(f.size, "large")
	f.gift = value(f.extras, "gift")
	f.wrap = value(f.extras, "wrap")
	f.card = value(f.extras, "card")
	return f
}

func (f *fixture) addSet(t *testing.T, in SetInput) int64 {
	t.Helper()
	id, err := f.sets.Add(context.Background(), in)
	require.NoError(t, err)
	return id
}

func (f *fixture) addCondition(t *testing.T, in ConditionInput) int64 {
	t.Helper()
	id, err := f.conditions.Add(context.Background(), in)
	require.NoError(t, err)
	return id
}

// countRows counts rows of table matching the where clause.
func (f *fixture) countRows(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, store.Get(context.Background(), f.store.DB, &n,
		"SELECT COUNT(*) FROM "+table+" WHERE "+where, args...))
	return n
}

func opPtr(op Operator) *Operator { return &op }

func refPtr(v ValueRef) *ValueRef { return &v }

func requireFieldError(t *testing.T, err error, field, rule string) {
	t.Helper()
	verr, ok := AsValidationErrors(err)
	require.True(t, ok, "expected ValidationErrors, got %T: %v", err, err)
	require.Contains(t, verr, field, "errors: %v", verr)
	require.Contains(t, verr[field], rule, "errors: %v", verr)
}
