package reports

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Service coordinates report queries with the cache layer. Concurrent
// requests for the same key share one loader call through singleflight.
type Service struct {
	repo  Repository
	cache *Cache
	group singleflight.Group
	now   func() time.Time
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Invalidate drops all cached reports. Called after every posting.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// TrialBalance returns per-account debit and credit totals as of a date.
func (s *Service) TrialBalance(ctx context.Context, orgID int64, asOf time.Time) (TrialBalance, error) {
	if orgID == 0 {
		return TrialBalance{}, shared.ErrOrgMissing
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	key, err := s.cache.BuildKey(ctx, "reports", "trial_balance", strconv.FormatInt(orgID, 10), asOf.Format("2006-01-02"))
	if err != nil {
		return TrialBalance{}, err
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		var tb TrialBalance
		err := s.cache.FetchJSON(ctx, key, &tb, func(ctx context.Context) (any, error) {
			return s.repo.TrialBalance(ctx, orgID, asOf)
		})
		return tb, err
	})
	if err != nil {
		return TrialBalance{}, err
	}
	return result.(TrialBalance), nil
}

// ProfitAndLoss returns the revenue and expense summary for a period.
func (s *Service) ProfitAndLoss(ctx context.Context, orgID int64, from, to time.Time) (ProfitAndLoss, error) {
	if orgID == 0 {
		return ProfitAndLoss{}, shared.ErrOrgMissing
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = time.Date(to.Year(), 1, 1, 0, 0, 0, 0, to.Location())
	}
	key, err := s.cache.BuildKey(ctx, "reports", "pl", strconv.FormatInt(orgID, 10),
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return ProfitAndLoss{}, err
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		var pl ProfitAndLoss
		err := s.cache.FetchJSON(ctx, key, &pl, func(ctx context.Context) (any, error) {
			return s.repo.ProfitAndLoss(ctx, orgID, from, to)
		})
		return pl, err
	})
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return result.(ProfitAndLoss), nil
}
