package conditions

import (
	"context"
	"fmt"

	"optcond-backend/internal/catalog"
	"optcond-backend/internal/store"
)

// Service evaluates stored condition sets against a customer's selections.
type Service struct {
	sets      *SetStore
	catalog   *catalog.Store
	evaluator *Evaluator
}

func NewService(sets *SetStore, cat *catalog.Store, evaluator *Evaluator) *Service {
	return &Service{sets: sets, catalog: cat, evaluator: evaluator}
}

// EvaluateOptionGroup resolves the condition sets of one option group.
func (s *Service) EvaluateOptionGroup(ctx context.Context, groupID int64, sel Selections) (*Resolution, error) {
	if err := s.mustExist(ctx, catalog.TableOptionGroups, groupID); err != nil {
		return nil, err
	}
	sets, err := s.sets.GetAll(ctx, SetFilters{OptionGroupID: &groupID})
	if err != nil {
		return nil, err
	}
	return s.evaluator.Resolve(ctx, sets, sel), nil
}

// EvaluatePackage resolves the condition sets of every option group attached
// to a package.
func (s *Service) EvaluatePackage(ctx context.Context, packageID int64, sel Selections) (*Resolution, error) {
	if err := s.mustExist(ctx, catalog.TablePackages, packageID); err != nil {
		return nil, err
	}
	sets, err := s.sets.GetAll(ctx, SetFilters{PackageID: &packageID})
	if err != nil {
		return nil, err
	}
	return s.evaluator.Resolve(ctx, sets, sel), nil
}

func (s *Service) mustExist(ctx context.Context, table string, id int64) error {
	found, err := s.catalog.Exists(ctx, s.sets.store.DB, table, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}
