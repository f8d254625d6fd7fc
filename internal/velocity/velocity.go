// Package velocity counts repeat visits by an employee to one merchant.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTTL is how long a window count is memoized.
const DefaultTTL = time.Minute

// Service counts same-merchant transactions within a time window.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, c domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: c,
		ttl:   DefaultTTL,
	}
}

// CountVisits returns the number of transactions employeeID made at
// merchantID with occurred_at in [from, to].
func (s *Service) CountVisits(ctx context.Context, tenantID, employeeID, merchantID string, from, to time.Time) (int64, error) {
	if tenantID == "" || employeeID == "" || merchantID == "" {
		return 0, fmt.Errorf("tenantID, employeeID and merchantID are required")
	}
	if to.Before(from) {
		return 0, fmt.Errorf("invalid window: %s is before %s", to, from)
	}

	key := fmt.Sprintf("velocity:%s:%s:%d:%d", employeeID, merchantID, from.Unix(), to.Unix())

	if s.cache != nil {
		var count int64
		hit, err := cache.GetJSON(ctx, s.cache, tenantID, key, &count)
		if err != nil {
			slog.Debug("velocity cache read failed", "tenant", tenantID, "key", key, "error", err)
		}
		if hit {
			return count, nil
		}
	}

	count, err := s.repo.CountMerchantVisits(ctx, tenantID, employeeID, merchantID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, count, s.ttl); err != nil {
			slog.Debug("velocity cache write failed", "tenant", tenantID, "key", key, "error", err)
		}
	}

	return count, nil
}

// Getter returns CountVisits in the shape the rule engine expects.
func (s *Service) Getter() func(ctx context.Context, tenantID, employeeID, merchantID string, from, to time.Time) (int64, error) {
	return s.CountVisits
}
