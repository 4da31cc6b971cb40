package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"optcond-backend/internal/store"
)

// Table names referenced by existence rules.
const (
	TablePackages     = "packages"
	TableOptionGroups = "package_option_groups"
	TableOptions      = "package_options"
	TableOptionValues = "package_option_values"
)

// ErrUnknownReference is returned when a write names a row that does not exist.
var ErrUnknownReference = errors.New("unknown reference")

// OptionTypes lists the accepted package option types.
var OptionTypes = []string{"select", "checkbox", "radio", "quantity", "text", "textarea", "password"}

type Package struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Status string `db:"status" json:"status"`
}

type OptionGroup struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

type Option struct {
	ID    int64  `db:"id" json:"id"`
	Label string `db:"label" json:"label"`
	Name  string `db:"name" json:"name"`
	Type  string `db:"type" json:"type"`
}

type OptionValue struct {
	ID       int64  `db:"id" json:"id"`
	OptionID int64  `db:"option_id" json:"option_id"`
	Name     string `db:"name" json:"name"`
	Value    string `db:"value" json:"value"`
	Status   string `db:"status" json:"status"`
}

// Store reads and writes the package option catalog.
type Store struct {
	store *store.Store
}

func NewStore(s *store.Store) *Store {
	return &Store{store: s}
}

func (c *Store) CreatePackage(ctx context.Context, name string) (*Package, error) {
	id, err := store.Insert(ctx, c.store.DB,
		"INSERT INTO packages (name) VALUES (?) RETURNING id", name)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	return c.GetPackage(ctx, id)
}

func (c *Store) GetPackage(ctx context.Context, id int64) (*Package, error) {
	var p Package
	if err := store.Get(ctx, c.store.DB, &p, "SELECT id, name, status FROM packages WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Store) CreateOptionGroup(ctx context.Context, name, description string) (*OptionGroup, error) {
	id, err := store.Insert(ctx, c.store.DB,
		"INSERT INTO package_option_groups (name, description) VALUES (?, ?) RETURNING id", name, description)
	if err != nil {
		return nil, fmt.Errorf("create option group: %w", err)
	}
	return c.GetOptionGroup(ctx, id)
}

func (c *Store) GetOptionGroup(ctx context.Context, id int64) (*OptionGroup, error) {
	var g OptionGroup
	if err := store.Get(ctx, c.store.DB, &g,
		"SELECT id, name, description FROM package_option_groups WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateOption inserts an option and adds it to each of groupIDs. It returns
// ErrUnknownReference when any group does not exist.
func (c *Store) CreateOption(ctx context.Context, label, name, optionType string, groupIDs []int64) (*Option, error) {
	var id int64
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := c.AllExist(ctx, tx, TableOptionGroups, groupIDs)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("option groups %v: %w", groupIDs, ErrUnknownReference)
		}
		id, err = store.Insert(ctx, tx,
			"INSERT INTO package_options (label, name, type) VALUES (?, ?, ?) RETURNING id", label, name, optionType)
		if err != nil {
			return err
		}
		for i, groupID := range groupIDs {
			if _, err := store.Exec(ctx, tx,
				"INSERT INTO package_option_group (option_id, option_group_id, sort_order) VALUES (?, ?, ?)",
				id, groupID, i); err != nil {
				return store.MapError(c.store.Dialect, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create option: %w", err)
	}
	return c.GetOption(ctx, id)
}

func (c *Store) GetOption(ctx context.Context, id int64) (*Option, error) {
	var o Option
	if err := store.Get(ctx, c.store.DB, &o, "SELECT id, label, name, type FROM package_options WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &o, nil
}

// OptionsByIDs returns the options with the given ids keyed by id. Missing ids
// are absent from the map.
func (c *Store) OptionsByIDs(ctx context.Context, q store.Querier, ids []int64) (map[int64]*Option, error) {
	result := make(map[int64]*Option, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var options []*Option
	if err := store.Select(ctx, q, &options,
		"SELECT id, label, name, type FROM package_options WHERE id IN (?)", ids); err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	for _, o := range options {
		result[o.ID] = o
	}
	return result, nil
}

// OptionGroupsByIDs returns the option groups with the given ids keyed by id.
func (c *Store) OptionGroupsByIDs(ctx context.Context, q store.Querier, ids []int64) (map[int64]*OptionGroup, error) {
	result := make(map[int64]*OptionGroup, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var groups []*OptionGroup
	if err := store.Select(ctx, q, &groups,
		"SELECT id, name, description FROM package_option_groups WHERE id IN (?)", ids); err != nil {
		return nil, fmt.Errorf("load option groups: %w", err)
	}
	for _, g := range groups {
		result[g.ID] = g
	}
	return result, nil
}

// CreateOptionValue adds a value to an option. It returns ErrUnknownReference
// when the option does not exist.
func (c *Store) CreateOptionValue(ctx context.Context, optionID int64, name, value string) (*OptionValue, error) {
	if err := c.mustExist(ctx, TableOptions, optionID); err != nil {
		return nil, fmt.Errorf("option %d: %w", optionID, ErrUnknownReference)
	}
	id, err := store.Insert(ctx, c.store.DB,
		"INSERT INTO package_option_values (option_id, name, value) VALUES (?, ?, ?) RETURNING id",
		optionID, name, value)
	if err != nil {
		return nil, fmt.Errorf("create option value: %w", err)
	}
	return c.GetOptionValue(ctx, id)
}

func (c *Store) GetOptionValue(ctx context.Context, id int64) (*OptionValue, error) {
	var v OptionValue
	if err := store.Get(ctx, c.store.DB, &v,
		"SELECT id, option_id, name, value, status FROM package_option_values WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &v, nil
}

// OptionValuesByIDs returns the option values with the given ids keyed by id.
func (c *Store) OptionValuesByIDs(ctx context.Context, q store.Querier, ids []int64) (map[int64]*OptionValue, error) {
	result := make(map[int64]*OptionValue, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var values []*OptionValue
	if err := store.Select(ctx, q, &values,
		"SELECT id, option_id, name, value, status FROM package_option_values WHERE id IN (?)", ids); err != nil {
		return nil, fmt.Errorf("load option values: %w", err)
	}
	for _, v := range values {
		result[v.ID] = v
	}
	return result, nil
}

// AttachOptionGroup makes an option group available to a package. Attaching
// twice is a no-op. It returns store.ErrNotFound for a missing package and
// ErrUnknownReference for a missing option group.
func (c *Store) AttachOptionGroup(ctx context.Context, packageID, groupID int64) error {
	if err := c.mustExist(ctx, TablePackages, packageID); err != nil {
		return err
	}
	if err := c.mustExist(ctx, TableOptionGroups, groupID); err != nil {
		return fmt.Errorf("option group %d: %w", groupID, ErrUnknownReference)
	}
	_, err := store.Exec(ctx, c.store.DB,
		"INSERT INTO package_option (package_id, option_group_id) VALUES (?, ?)", packageID, groupID)
	if err != nil {
		err = store.MapError(c.store.Dialect, err)
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil
		}
		return fmt.Errorf("attach option group: %w", err)
	}
	return nil
}

func (c *Store) mustExist(ctx context.Context, table string, id int64) error {
	found, err := store.Exists(ctx, c.store.DB, table, id)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

// Exists reports whether table has a row with the given id.
func (c *Store) Exists(ctx context.Context, q store.Querier, table string, id int64) (bool, error) {
	return store.Exists(ctx, q, table, id)
}

// AllExist reports whether every id in ids has a row in table.
func (c *Store) AllExist(ctx context.Context, q store.Querier, table string, ids []int64) (bool, error) {
	unique := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	n, err := store.CountExisting(ctx, q, table, ids)
	if err != nil {
		return false, err
	}
	return n == len(unique), nil
}
