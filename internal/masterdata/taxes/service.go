package taxes

import (
	"context"
	"strings"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// RepositoryProvider yields an org-scoped repository per call.
type RepositoryProvider interface {
	ForOrg(orgID int64) Repository
}

type Service struct {
	repos RepositoryProvider
}

func NewService(repos RepositoryProvider) *Service {
	return &Service{repos: repos}
}

func (s *Service) List(ctx context.Context, orgID int64, filters shared.ListFilters) ([]TaxRate, int, error) {
	if orgID == 0 {
		return nil, 0, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, orgID, id int64) (TaxRate, error) {
	if orgID == 0 {
		return TaxRate{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, orgID int64, in CreateInput) (TaxRate, error) {
	if orgID == 0 {
		return TaxRate{}, shared.ErrOrgMissing
	}
	if err := s.validate(&in); err != nil {
		return TaxRate{}, err
	}
	return s.repos.ForOrg(orgID).Create(ctx, in)
}

func (s *Service) Update(ctx context.Context, orgID, id int64, in CreateInput) (TaxRate, error) {
	if orgID == 0 {
		return TaxRate{}, shared.ErrOrgMissing
	}
	if err := s.validate(&in); err != nil {
		return TaxRate{}, err
	}
	repo := s.repos.ForOrg(orgID)
	if err := repo.Update(ctx, id, in); err != nil {
		return TaxRate{}, err
	}
	return repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, orgID, id int64) error {
	if orgID == 0 {
		return shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Delete(ctx, id)
}

func (s *Service) validate(in *CreateInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return ErrNameRequired
	}
	if in.Rate < 0 || in.Rate > 100 {
		return ErrInvalidRate
	}
	switch in.AppliesTo {
	case AppliesToSales, AppliesToPurchase, AppliesToBoth:
	default:
		return ErrInvalidApplicability
	}
	return nil
}
