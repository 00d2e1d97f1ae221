package accounts

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

func (s *Service) List(ctx context.Context, orgID int64, filters shared.ListFilters) ([]Account, int, error) {
	if orgID == 0 {
		return nil, 0, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, orgID, id int64) (Account, error) {
	if orgID == 0 {
		return Account{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, orgID int64, in CreateInput) (Account, error) {
	if orgID == 0 {
		return Account{}, shared.ErrOrgMissing
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate(in); err != nil {
		return Account{}, err
	}
	return s.repos.ForOrg(orgID).Create(ctx, in)
}

func (s *Service) Update(ctx context.Context, orgID, id int64, in CreateInput) (Account, error) {
	if orgID == 0 {
		return Account{}, shared.ErrOrgMissing
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate(in); err != nil {
		return Account{}, err
	}
	repo := s.repos.ForOrg(orgID)
	if err := repo.Update(ctx, id, in); err != nil {
		return Account{}, err
	}
	return repo.Get(ctx, id)
}

func (s *Service) Deactivate(ctx context.Context, orgID, id int64) error {
	if orgID == 0 {
		return shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Deactivate(ctx, id)
}
